package handlers

import "github.com/bhandras/huddle/internal/realtime"

// AuthContext carries the admitted session into handler functions. It
// intentionally excludes transport-specific types.
type AuthContext struct {
	session *realtime.Session
}

// NewAuthContext constructs an AuthContext for a single socket event.
func NewAuthContext(s *realtime.Session) AuthContext {
	return AuthContext{session: s}
}

// Session returns the admitted session.
func (a AuthContext) Session() *realtime.Session {
	return a.session
}

// UserID returns the authenticated subject id.
func (a AuthContext) UserID() string {
	if a.session == nil {
		return ""
	}
	return a.session.SubjectID()
}

// SocketID returns the caller socket id.
func (a AuthContext) SocketID() string {
	if a.session == nil {
		return ""
	}
	return a.session.ConnID()
}
