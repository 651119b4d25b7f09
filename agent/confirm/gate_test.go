package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
)

func testRequest(sessionID string) contractx.InvocationRequest {
	return contractx.InvocationRequest{
		SessionID: sessionID,
		CallID:    "call-1",
		Tool:      "create_lead",
		Args:      map[string]any{"name": "Acme Corp"},
	}
}

func TestProposeNotifiesAndAwaitsDecision(t *testing.T) {
	t.Parallel()

	var notified []contractx.ProposedAction
	gate := NewGate(time.Minute, contractx.ProposalNotifierFunc(func(a contractx.ProposedAction) {
		notified = append(notified, a)
	}))

	action, err := gate.Propose(testRequest("s1"), "Create a new lead with name 'Acme Corp'?")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if len(notified) != 1 || notified[0].RequestID != action.RequestID {
		t.Fatalf("notifier saw %v, want the proposed action", notified)
	}
	if got := action.State(); got != StateAwaitingDecision {
		t.Fatalf("state = %s, want awaiting_decision", got)
	}
}

func TestApproveResolvesAwait(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	action, err := gate.Propose(testRequest("s1"), "desc")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	if !gate.Decide(contractx.Decision{RequestID: action.RequestID, Approve: true}) {
		t.Fatal("Decide() = false, want true")
	}
	if got := gate.Await(context.Background(), action); got != StateApproved {
		t.Fatalf("Await() = %s, want approved", got)
	}
}

func TestDenyResolvesAwait(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	action, err := gate.Propose(testRequest("s1"), "desc")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	gate.Decide(contractx.Decision{RequestID: action.RequestID, Approve: false})
	if got := gate.Await(context.Background(), action); got != StateDenied {
		t.Fatalf("Await() = %s, want denied", got)
	}
}

func TestDeadlineExpiresAction(t *testing.T) {
	t.Parallel()

	gate := NewGate(10*time.Millisecond, nil)
	action, err := gate.Propose(testRequest("s1"), "desc")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	if got := gate.Await(context.Background(), action); got != StateExpired {
		t.Fatalf("Await() = %s, want expired", got)
	}
}

func TestDecisionIsIdempotent(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	action, err := gate.Propose(testRequest("s1"), "desc")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	if !gate.Decide(contractx.Decision{RequestID: action.RequestID, Approve: false}) {
		t.Fatal("first Decide() = false, want true")
	}
	// A late approve must not reopen the denied action.
	if gate.Decide(contractx.Decision{RequestID: action.RequestID, Approve: true}) {
		t.Fatal("second Decide() = true, want false")
	}
	if got := action.State(); got != StateDenied {
		t.Fatalf("state = %s, want denied", got)
	}
}

func TestDecideUnknownRequestIgnored(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	if gate.Decide(contractx.Decision{RequestID: "nope", Approve: true}) {
		t.Fatal("Decide() on unknown id = true, want false")
	}
}

func TestSecondProposalConflicts(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	if _, err := gate.Propose(testRequest("s1"), "first"); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	_, err := gate.Propose(testRequest("s1"), "second")
	if !errors.Is(err, contractx.ErrConfirmationInProgress) {
		t.Fatalf("Propose() error = %v, want ErrConfirmationInProgress", err)
	}

	// A different session is unaffected.
	if _, err := gate.Propose(testRequest("s2"), "other"); err != nil {
		t.Fatalf("Propose() on other session error = %v", err)
	}
}

func TestSlotFreedAfterResolution(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	action, err := gate.Propose(testRequest("s1"), "first")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	gate.Decide(contractx.Decision{RequestID: action.RequestID, Approve: true})

	if _, ok := gate.Pending("s1"); ok {
		t.Fatal("Pending() = true after resolution, want false")
	}
	if _, err := gate.Propose(testRequest("s1"), "second"); err != nil {
		t.Fatalf("Propose() after resolution error = %v", err)
	}
}

func TestPendingReportsProposal(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	action, err := gate.Propose(testRequest("s1"), "Create a new lead with name 'Acme Corp'?")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	got, ok := gate.Pending("s1")
	if !ok {
		t.Fatal("Pending() = false, want true")
	}
	if got.RequestID != action.RequestID || got.Tool != "create_lead" {
		t.Fatalf("Pending() = %+v, want the proposed action", got)
	}
}

func TestContextCancellationExpires(t *testing.T) {
	t.Parallel()

	gate := NewGate(time.Minute, nil)
	action, err := gate.Propose(testRequest("s1"), "desc")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := gate.Await(ctx, action); got != StateExpired {
		t.Fatalf("Await() = %s, want expired", got)
	}
}
