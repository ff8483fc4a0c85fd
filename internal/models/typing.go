package models

import "time"

// TypingSignal is broadcast on the ephemeral typing channel and never stored.
type TypingSignal struct {
	UserID      int64     `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	DisplayName string    `json:"display_name"`
	Typing      bool      `json:"typing"`
	Timestamp   time.Time `json:"timestamp"`
}
