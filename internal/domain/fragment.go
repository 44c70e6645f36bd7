package domain

import "time"

// Role identifies who spoke a transcript fragment.
type Role string

const (
	// RoleCaller is the remote party on the call.
	RoleCaller Role = "caller"

	// RoleShield is the interceptor's own voice.
	RoleShield Role = "shield"
)

// Valid reports whether r is a known speaker role.
func (r Role) Valid() bool {
	return r == RoleCaller || r == RoleShield
}

// TranscriptFragment is one unit of recognized speech.
// Fragments are immutable once appended to a session transcript.
type TranscriptFragment struct {
	Text      string    `json:"text"`
	Speaker   Role      `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}
