package core

// SessionID identifies one live transport connection.
type SessionID string
