package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	confirmx "github.com/tanpawarit/crm-copilot/agent/confirm"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	sessionx "github.com/tanpawarit/crm-copilot/agent/session"
)

type fakeAgent struct {
	reply     string
	err       error
	gotText   string
	sessionID string
}

func (f *fakeAgent) HandleMessage(ctx context.Context, sessionID string, text string) (string, string, error) {
	f.gotText = text
	if f.err != nil {
		return "", sessionID, f.err
	}
	if sessionID == "" {
		sessionID = f.sessionID
	}
	return f.reply, sessionID, nil
}

func newTestServer(t *testing.T, agent *fakeAgent) (*httptest.Server, *confirmx.Gate, *sessionx.Manager) {
	t.Helper()

	gate := confirmx.NewGate(time.Minute, nil)
	sessions := sessionx.NewManager()
	h := NewHandler(agent, gate, sessions)
	server := httptest.NewServer(h.Routes(Config{RequestTimeout: 5 * time.Second}))
	t.Cleanup(server.Close)
	return server, gate, sessions
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, &fakeAgent{})
	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeJSON[map[string]string](t, resp)
	if body["status"] != "healthy" || body["service"] != "crm-copilot" {
		t.Fatalf("body = %v", body)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{reply: "Hello!", sessionID: "sess-1"}
	server, _, _ := newTestServer(t, agent)

	resp, err := http.Post(server.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("POST /api/chat error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeJSON[map[string]string](t, resp)
	if body["reply"] != "Hello!" || body["session_id"] != "sess-1" {
		t.Fatalf("body = %v", body)
	}
	if agent.gotText != "hi" {
		t.Fatalf("agent saw %q, want hi", agent.gotText)
	}
}

func TestChatMalformedBody(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, &fakeAgent{})
	resp, err := http.Post(server.URL+"/api/chat", "application/json",
		strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST /api/chat error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", contractx.ErrUnknownSession, http.StatusNotFound},
		{"session busy", contractx.ErrSessionBusy, http.StatusConflict},
		{"confirmation in progress", contractx.ErrConfirmationInProgress, http.StatusConflict},
		{"validation", contractx.ErrValidation, http.StatusBadRequest},
		{"model failure", contractx.ErrModel, http.StatusBadGateway},
		{"backend failure", contractx.ErrBackend, http.StatusBadGateway},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server, _, _ := newTestServer(t, &fakeAgent{err: tc.err})
			resp, err := http.Post(server.URL+"/api/chat", "application/json",
				strings.NewReader(`{"message":"hi"}`))
			if err != nil {
				t.Fatalf("POST /api/chat error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestDecisionAppliesOnce(t *testing.T) {
	t.Parallel()

	server, gate, _ := newTestServer(t, &fakeAgent{})
	action, err := gate.Propose(contractx.InvocationRequest{
		SessionID: "s1",
		Tool:      "create_lead",
	}, "Create a new lead with name 'Acme Corp'?")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	post := func() map[string]bool {
		resp, err := http.Post(server.URL+"/api/decisions", "application/json",
			strings.NewReader(`{"request_id":"`+action.RequestID+`","approve":true}`))
		if err != nil {
			t.Fatalf("POST /api/decisions error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		return decodeJSON[map[string]bool](t, resp)
	}

	if body := post(); !body["applied"] {
		t.Fatalf("first decision body = %v, want applied", body)
	}
	// Replaying the same decision must be a no-op.
	if body := post(); body["applied"] {
		t.Fatalf("second decision body = %v, want not applied", body)
	}
}

func TestDecisionRequiresRequestID(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, &fakeAgent{})
	resp, err := http.Post(server.URL+"/api/decisions", "application/json",
		strings.NewReader(`{"approve":true}`))
	if err != nil {
		t.Fatalf("POST /api/decisions error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPending(t *testing.T) {
	t.Parallel()

	server, gate, sessions := newTestServer(t, &fakeAgent{})
	sess := sessions.Create()

	resp, err := http.Get(server.URL + "/api/sessions/" + sess.ID + "/pending")
	if err != nil {
		t.Fatalf("GET pending error = %v", err)
	}
	empty := decodeJSON[map[string]any](t, resp)
	if empty["pending"] != nil {
		t.Fatalf("pending = %v, want null", empty["pending"])
	}

	action, err := gate.Propose(contractx.InvocationRequest{
		SessionID: sess.ID,
		Tool:      "create_lead",
	}, "Create a new lead with name 'Acme Corp'?")
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	resp, err = http.Get(server.URL + "/api/sessions/" + sess.ID + "/pending")
	if err != nil {
		t.Fatalf("GET pending error = %v", err)
	}
	body := decodeJSON[map[string]map[string]any](t, resp)
	if body["pending"]["request_id"] != action.RequestID {
		t.Fatalf("pending = %v, want request %s", body["pending"], action.RequestID)
	}
}

func TestPendingUnknownSession(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, &fakeAgent{})
	resp, err := http.Get(server.URL + "/api/sessions/missing/pending")
	if err != nil {
		t.Fatalf("GET pending error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	server, _, sessions := newTestServer(t, &fakeAgent{})
	sess := sessions.Create()
	if err := sessions.Append(sess, contractx.Turn{Role: contractx.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	resp, err := http.Get(server.URL + "/api/sessions/" + sess.ID + "/history")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	body := decodeJSON[struct {
		SessionID string           `json:"session_id"`
		Turns     []contractx.Turn `json:"turns"`
	}](t, resp)
	if body.SessionID != sess.ID {
		t.Fatalf("session_id = %s, want %s", body.SessionID, sess.ID)
	}
	if len(body.Turns) != 1 || body.Turns[0].Content != "hi" {
		t.Fatalf("turns = %v", body.Turns)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	server, _, sessions := newTestServer(t, &fakeAgent{})
	sess := sessions.Create()

	resp, err := http.Post(server.URL+"/api/sessions/"+sess.ID+"/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset error = %v", err)
	}
	body := decodeJSON[map[string]string](t, resp)
	if body["session_id"] == "" || body["session_id"] == sess.ID {
		t.Fatalf("reset body = %v, want a fresh session id", body)
	}

	resp, err = http.Get(server.URL + "/api/sessions/" + sess.ID + "/history")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("old session status = %d, want 404", resp.StatusCode)
	}
}
