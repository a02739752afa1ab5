package model

import "strings"

const (
	// SubscribeProtocol is the WebSocket subprotocol spoken by subscribers
	SubscribeProtocol = "roundsync.v1"

	// SessionProtocolPrefix marks the subprotocol token carrying the
	// session ID, since browsers cannot set headers on a WebSocket handshake
	SessionProtocolPrefix = "session."
)

// SubscribeProtocols returns the subprotocol tokens a client offers
func SubscribeProtocols(session SessionID) []string {
	return []string{SubscribeProtocol, SessionProtocolPrefix + string(session)}
}

// SessionFromProtocols finds the session token among offered subprotocols
func SessionFromProtocols(protocols []string) SessionID {
	for _, p := range protocols {
		if id, ok := strings.CutPrefix(strings.TrimSpace(p), SessionProtocolPrefix); ok {
			return SessionID(id)
		}
	}
	return ""
}
