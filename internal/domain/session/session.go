// Package session defines the Session that correlates every audit record
// produced during one Aegis CLI invocation.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is created once per CLI invocation and never mutated afterwards.
// Every audit record carries its SessionID for correlation.
type Session struct {
	id        string
	startedAt time.Time
	operator  string
}

// New creates a fresh Session with a random UUID and the current UTC time.
// operator may be empty when no human operator identity is configured.
func New(operator string) Session {
	return Session{
		id:        uuid.NewString(),
		startedAt: time.Now().UTC(),
		operator:  operator,
	}
}

// ID returns the session's UUID.
func (s Session) ID() string { return s.id }

// StartedAt returns the UTC creation timestamp.
func (s Session) StartedAt() time.Time { return s.startedAt }

// Operator returns the configured operator identity, or "" if none.
func (s Session) Operator() string { return s.operator }

// ShortID returns the first 8 characters of the session ID, used to name
// the per-session audit file (audit_<short>_<YYYYMMDD>.jsonl).
func (s Session) ShortID() string {
	if len(s.id) <= 8 {
		return s.id
	}
	return s.id[:8]
}
