package coordinator

import (
	"github.com/securedrop-lan/securedrop/internal/server"
)

// State represents the position of a session in its lifecycle.
type State int

const (
	// StateConnected is the initial state; only register and login
	// frames are accepted.
	StateConnected State = iota

	// StateAuthenticated is entered after a successful register or
	// login; all frames are accepted.
	StateAuthenticated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// Session is one live coordinator connection. The state and email
// fields belong to the handler goroutine that owns the session; other
// goroutines reach a session only through the coordinator's maps and
// the connection's serialized writer.
type Session struct {
	conn  *server.Connection
	state State
	email string
}

func newSession(conn *server.Connection) *Session {
	return &Session{conn: conn, state: StateConnected}
}

// Authenticated reports whether the session has completed register or
// login.
func (s *Session) Authenticated() bool {
	return s.state == StateAuthenticated
}

// Email returns the authenticated email, or "" before authentication.
func (s *Session) Email() string {
	return s.email
}

// RemoteIP returns the session's peer IP.
func (s *Session) RemoteIP() string {
	return s.conn.RemoteIP()
}

func (s *Session) authenticate(email string) {
	s.email = email
	s.state = StateAuthenticated
}
