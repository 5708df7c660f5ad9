package coordinator

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnected, "CONNECTED"},
		{StateAuthenticated, "AUTHENTICATED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSessionAuthenticate(t *testing.T) {
	sess := newSession(nil)
	if sess.Authenticated() {
		t.Error("fresh session reports authenticated")
	}
	if sess.Email() != "" {
		t.Errorf("fresh session email = %q", sess.Email())
	}

	sess.authenticate("alice@example.com")
	if !sess.Authenticated() {
		t.Error("session not authenticated after authenticate")
	}
	if sess.Email() != "alice@example.com" {
		t.Errorf("email = %q", sess.Email())
	}
}
