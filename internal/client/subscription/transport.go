package subscription

// Handlers receive the lifecycle callbacks of one connection attempt.
// Transports may invoke them from any goroutine, including synchronously
// from inside Connect.
type Handlers struct {
	OnOpen    func()
	OnMessage func(text string)
	OnError   func(err error)
	OnClose   func(code int, reason string, wasClean bool)
}

// Conn is a live or pending connection
type Conn interface {
	Close(code int, reason string)
}

// Transport opens connections. Connect returns as soon as the attempt has
// started; the outcome arrives through the handlers.
type Transport interface {
	Connect(url string, protocols []string, h Handlers) (Conn, error)
}

// NetworkMonitor reports host connectivity
type NetworkMonitor interface {
	Online() bool

	// OnRestored registers fn to run when connectivity returns. The
	// returned func unregisters it.
	OnRestored(fn func()) (cancel func())
}

// AlwaysOnline is a NetworkMonitor for hosts with no connectivity signal
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

func (AlwaysOnline) OnRestored(func()) func() { return func() {} }
