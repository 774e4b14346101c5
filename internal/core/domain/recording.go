package domain

import "time"

// RecordingResult is created on recorder stop. Ownership passes to the caller
// for download or discard; nothing is persisted by the subsystem.
type RecordingResult struct {
	CallID    CallID
	Data      []byte
	Size      int64
	MimeType  string
	Duration  time.Duration
	StartedAt time.Time
	StoppedAt time.Time
}
