// Package confirm guards execution of mutating tools behind an explicit,
// correlated human decision.
package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

type State string

const (
	StateProposed         State = "proposed"
	StateAwaitingDecision State = "awaiting_decision"
	StateApproved         State = "approved"
	StateDenied           State = "denied"
	StateExpired          State = "expired"
)

func (s State) Terminal() bool {
	return s == StateApproved || s == StateDenied || s == StateExpired
}

// PendingAction tracks one proposed mutating call awaiting a decision.
// Terminal states are immutable: the first resolution wins and later
// decisions are ignored.
type PendingAction struct {
	RequestID   string
	Request     contractx.InvocationRequest
	Description string
	CreatedAt   time.Time
	Deadline    time.Time

	mu    sync.Mutex
	state State
	done  chan struct{}
}

func (p *PendingAction) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// resolve moves the action into a terminal state. Returns false when the
// action already resolved.
func (p *PendingAction) resolve(to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return false
	}
	p.state = to
	close(p.done)
	return true
}

func (p *PendingAction) markAwaiting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateProposed {
		p.state = StateAwaitingDecision
	}
}

func (p *PendingAction) proposed() contractx.ProposedAction {
	return contractx.ProposedAction{
		RequestID:   p.RequestID,
		SessionID:   p.Request.SessionID,
		Tool:        p.Request.Tool,
		Description: p.Description,
		Deadline:    p.Deadline,
	}
}

// Gate holds at most one pending action per session. A second proposal while
// one is outstanding fails with ErrConfirmationInProgress; the slot is freed
// the moment the action reaches any terminal state.
type Gate struct {
	mu        sync.Mutex
	bySession map[string]*PendingAction
	byRequest map[string]*PendingAction

	ttl      time.Duration
	notifier contractx.ProposalNotifier
	now      contractx.Clock
}

type Option func(*Gate)

// WithClock overrides the time source, for deadline tests.
func WithClock(now contractx.Clock) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(ttl time.Duration, notifier contractx.ProposalNotifier, opts ...Option) *Gate {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	g := &Gate{
		bySession: make(map[string]*PendingAction),
		byRequest: make(map[string]*PendingAction),
		ttl:       ttl,
		notifier:  notifier,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Propose creates the pending action for a validated mutating request and
// surfaces it to the user-facing channel. The handler must not run until the
// returned action resolves to StateApproved.
func (g *Gate) Propose(req contractx.InvocationRequest, description string) (*PendingAction, error) {
	now := g.now()
	action := &PendingAction{
		RequestID:   uuid.NewString(),
		Request:     req,
		Description: description,
		CreatedAt:   now,
		Deadline:    now.Add(g.ttl),
		state:       StateProposed,
		done:        make(chan struct{}),
	}

	g.mu.Lock()
	if existing, ok := g.bySession[req.SessionID]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: session=%s request=%s", contractx.ErrConfirmationInProgress, req.SessionID, existing.RequestID)
	}
	g.bySession[req.SessionID] = action
	g.byRequest[action.RequestID] = action
	g.mu.Unlock()

	log.Info().
		Str("session_id", req.SessionID).
		Str("request_id", action.RequestID).
		Str("tool", req.Tool).
		Msg("pending action proposed")

	if g.notifier != nil {
		g.notifier.NotifyProposal(action.proposed())
	}
	action.markAwaiting()
	return action, nil
}

// Await blocks until the action resolves. The deadline elapsing or the
// context ending both resolve to StateExpired; neither can have triggered a
// backend mutation.
func (g *Gate) Await(ctx context.Context, action *PendingAction) State {
	timer := time.NewTimer(action.Deadline.Sub(g.now()))
	defer timer.Stop()

	select {
	case <-action.done:
	case <-timer.C:
		g.finish(action, StateExpired)
	case <-ctx.Done():
		g.finish(action, StateExpired)
	}
	return action.State()
}

// Decide applies an external approve/deny signal. Unknown and already
// resolved request ids are ignored; the return value reports whether the
// decision took effect.
func (g *Gate) Decide(d contractx.Decision) bool {
	g.mu.Lock()
	action, ok := g.byRequest[d.RequestID]
	g.mu.Unlock()
	if !ok {
		log.Debug().Str("request_id", d.RequestID).Msg("decision for unknown or resolved action ignored")
		return false
	}

	to := StateDenied
	if d.Approve {
		to = StateApproved
	}
	return g.finish(action, to)
}

// Pending returns the session's outstanding proposal, if any.
func (g *Gate) Pending(sessionID string) (contractx.ProposedAction, bool) {
	g.mu.Lock()
	action, ok := g.bySession[sessionID]
	g.mu.Unlock()
	if !ok {
		return contractx.ProposedAction{}, false
	}
	return action.proposed(), true
}

func (g *Gate) finish(action *PendingAction, to State) bool {
	if !action.resolve(to) {
		return false
	}

	g.mu.Lock()
	if g.bySession[action.Request.SessionID] == action {
		delete(g.bySession, action.Request.SessionID)
	}
	delete(g.byRequest, action.RequestID)
	g.mu.Unlock()

	log.Info().
		Str("session_id", action.Request.SessionID).
		Str("request_id", action.RequestID).
		Str("state", string(to)).
		Msg("pending action resolved")
	return true
}
