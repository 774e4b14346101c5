package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateCallID generates a unique call ID. Call IDs travel over the
// signaling wire, so they use a collision-safe UUID rather than a timestamp.
func GenerateCallID() string {
	return fmt.Sprintf("call_%s", uuid.NewString())
}

// GenerateSessionID generates a unique signaling session ID
func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", uuid.NewString())
}

// GenerateStreamID generates a unique local media stream ID
func GenerateStreamID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("stream_%d_%s", timestamp, hex.EncodeToString(b))
}

// GenerateTraceID generates a unique trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
