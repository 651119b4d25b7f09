package session

import (
	"time"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Session owns one conversation's ordered, append-only turn history. All
// mutation goes through the Manager; turns are never reordered or deleted.
type Session struct {
	ID        string
	CreatedAt time.Time

	status Status
	turns  []contractx.Turn
	busy   bool
}

func (s *Session) Status() Status {
	return s.status
}

// append stamps the turn and preserves strict timestamp ordering within the
// session. Caller holds the manager lock.
func (s *Session) append(turn contractx.Turn, now time.Time) {
	at := now
	if n := len(s.turns); n > 0 && !at.After(s.turns[n-1].At) {
		at = s.turns[n-1].At.Add(time.Nanosecond)
	}
	turn.At = at
	s.turns = append(s.turns, turn)
}

func (s *Session) history() []contractx.Turn {
	out := make([]contractx.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}
