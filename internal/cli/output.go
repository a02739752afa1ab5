package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mcoot/roundsync/internal/client/subscription"
	"github.com/mcoot/roundsync/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

// PrintEvent outputs one event from a round's stream. JSON output is one
// line per event so it can be piped.
func (o *Output) PrintEvent(e model.DomainEvent) {
	if o.format == "json" {
		data, err := model.MarshalEvent(e)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(o.w, string(data))
		return
	}

	p := &eventPrinter{}
	e.Accept(p)
	_, _ = fmt.Fprintf(o.w, "[%s] %s: %s\n", e.At().Format("15:04:05"), e.Type(), p.line)
}

// PrintStatus outputs a subscription status change
func (o *Output) PrintStatus(s subscription.Status) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"status": string(s)})
		_, _ = fmt.Fprintln(o.w, string(data))
		return
	}
	_, _ = fmt.Fprintf(o.w, "-- %s\n", s)
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case model.Snapshot:
		o.printSnapshot(v)
	case JoinResult:
		o.printJoinResult(v)
	case model.Player:
		o.printPlayer(v)
	case model.Score:
		o.printScore(v)
	case model.RoundState:
		o.printState(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// JoinResult is the response for joining a round
type JoinResult struct {
	SessionID model.SessionID `json:"sessionId"`
	Player    model.Player    `json:"player"`
	Snapshot  model.Snapshot  `json:"snapshot"`
}

// HealthResult is the response for the health endpoint
type HealthResult struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

func (o *Output) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.w, format, args...)
}

func (o *Output) printPlayer(p model.Player) {
	o.printf("Player: %s (%s)\n", p.Name, p.PlayerID)
	o.printf("Color: %s\n", p.Color)
}

func (o *Output) printJoinResult(j JoinResult) {
	o.printPlayer(j.Player)
	o.printf("Session: %s\n\n", j.SessionID)
	o.printSnapshot(j.Snapshot)
}

func (o *Output) printScore(s model.Score) {
	o.printf("%s hole %d: %d\n", s.PlayerID, s.HoleNumber, s.Strokes)
}

func (o *Output) printState(s model.RoundState) {
	o.printf("Hole: %d\n", s.CurrentHole)
	o.printf("Status: %s\n", statusText(s.Status))
	o.printf("Version: %d\n", s.StateVersion)
}

func (o *Output) printSnapshot(s model.Snapshot) {
	o.printf("Round: %s (%s)\n", s.Config.CourseName, s.RoundID())
	o.printf("Code: %s\n", s.Config.AccessCode)
	o.printState(s.State)

	if len(s.Players) == 0 {
		return
	}

	// Scorecard: one row per player, one column per hole
	o.printf("\n%-16s", "")
	for hole := 1; hole <= s.Config.Holes; hole++ {
		o.printf("%4d", hole)
	}
	o.printf("%6s\n", "Tot")

	o.printf("%-16s", "Par")
	par := 0
	for _, p := range s.Config.Par {
		o.printf("%4d", p)
		par += p
	}
	o.printf("%6d\n", par)

	players := append([]model.Player(nil), s.Players...)
	sort.SliceStable(players, func(i, j int) bool { return players[i].JoinedAt.Before(players[j].JoinedAt) })

	for _, p := range players {
		o.printf("%-16s", truncate(p.Name, 15))
		total := 0
		for hole := 1; hole <= s.Config.Holes; hole++ {
			if sc := s.GetScore(p.PlayerID, hole); sc != nil {
				o.printf("%4d", sc.Strokes)
				total += sc.Strokes
			} else {
				o.printf("%4s", ".")
			}
		}
		o.printf("%6d\n", total)
	}
}

func (o *Output) printHealthResult(h HealthResult) {
	o.printf("Status: %s\n", h.Status)
	o.printf("Subscribers: %d\n", h.Subscribers)
}

// eventPrinter renders the payload of each event variant as one line
type eventPrinter struct {
	line string
}

func (p *eventPrinter) VisitPlayerJoined(e model.PlayerJoined) {
	p.line = fmt.Sprintf("%s (%s)", e.Player.Name, e.Player.PlayerID)
}

func (p *eventPrinter) VisitPlayerUpdated(e model.PlayerUpdated) {
	p.line = fmt.Sprintf("%s (%s) color %s", e.Player.Name, e.Player.PlayerID, e.Player.Color)
}

func (p *eventPrinter) VisitPlayerRemoved(e model.PlayerRemoved) {
	p.line = string(e.PlayerID)
}

func (p *eventPrinter) VisitScoreChanged(e model.ScoreChanged) {
	p.line = fmt.Sprintf("%s hole %d = %d (by %s)", e.Score.PlayerID, e.Score.HoleNumber, e.Score.Strokes, e.Score.UpdatedBy)
}

func (p *eventPrinter) VisitRoundStateChanged(e model.RoundStateChanged) {
	p.line = fmt.Sprintf("hole %d, status %s, version %d", e.State.CurrentHole, statusText(e.State.Status), e.State.StateVersion)
}

func statusText(s *model.RoundStatus) string {
	if s == nil {
		return "none"
	}
	return string(*s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "~"
}
