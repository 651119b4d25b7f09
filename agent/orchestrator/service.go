// Package orchestrator drives one request/response cycle: append the user
// turn, loop the model against the tool dispatcher, and finalize the reply.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	dispatchx "github.com/tanpawarit/crm-copilot/agent/dispatch"
	sessionx "github.com/tanpawarit/crm-copilot/agent/session"
)

const defaultMaxToolDepth = 4

type Config struct {
	// MaxToolDepth bounds tool calls per cycle so a misbehaving model cannot
	// loop forever.
	MaxToolDepth int
}

type Orchestrator struct {
	sessions   *sessionx.Manager
	dispatcher *dispatchx.Dispatcher
	model      contractx.ModelProvider

	graphRunner  compose.Runnable[GraphInput, GraphOutput]
	maxToolDepth int

	now func() time.Time
}

func New(
	sessions *sessionx.Manager,
	dispatcher *dispatchx.Dispatcher,
	model contractx.ModelProvider,
	cfg Config,
) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("%w: session manager is required", contractx.ErrValidation)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", contractx.ErrValidation)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: model provider is required", contractx.ErrValidation)
	}

	maxToolDepth := cfg.MaxToolDepth
	if maxToolDepth <= 0 {
		maxToolDepth = defaultMaxToolDepth
	}

	o := &Orchestrator{
		sessions:     sessions,
		dispatcher:   dispatcher,
		model:        model,
		maxToolDepth: maxToolDepth,
		now:          time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one cycle for the session. An empty session id starts a
// new conversation. The session is claimed for the whole cycle: a concurrent
// second request on it fails with ErrSessionBusy. A model or backend fault
// terminates the cycle and is recorded as a system turn rather than leaving
// the session half updated.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (string, string, error) {
	sess, err := o.resolveSession(sessionID)
	if err != nil {
		return "", "", err
	}
	if err := o.sessions.Acquire(sess); err != nil {
		return "", sess.ID, err
	}
	defer o.sessions.Release(sess)

	out, err := o.graphRunner.Invoke(ctx, GraphInput{Session: sess, Text: text})
	if err != nil {
		o.recordFailure(sess, err)
		return "", sess.ID, err
	}
	return out.Reply, sess.ID, nil
}

func (o *Orchestrator) resolveSession(sessionID string) (*sessionx.Session, error) {
	if sessionID == "" {
		return o.sessions.Create(), nil
	}
	return o.sessions.Get(sessionID)
}

// recordFailure appends a system-level error turn so the transcript shows why
// the cycle ended. Append failure here means the session closed mid-cycle;
// nothing more can be recorded.
func (o *Orchestrator) recordFailure(sess *sessionx.Session, cause error) {
	turn := contractx.Turn{
		Role:    contractx.RoleSystem,
		Content: fmt.Sprintf("cycle aborted: %v", cause),
	}
	if err := o.sessions.Append(sess, turn); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("could not record cycle failure")
	}
}
