package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"with separators", "alice_b-c.d", false},
		{"digits", "user42", false},
		{"surrounding whitespace trimmed", "  alice  ", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 65), true},
		{"max length ok", strings.Repeat("a", 64), false},
		{"spaces inside", "alice smith", true},
		{"injection characters", "alice<script>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCallID(t *testing.T) {
	tests := []struct {
		name    string
		callID  string
		wantErr bool
	}{
		{"uuid style", "550e8400-e29b-41d4-a716-446655440000", false},
		{"prefixed", "call_abc123", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"dot not allowed", "call.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCallID(tt.callID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

const minimalSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestValidateSDP(t *testing.T) {
	assert.NoError(t, ValidateSDP(minimalSDP))

	assert.Error(t, ValidateSDP(""))
	assert.Error(t, ValidateSDP("hello"))
	assert.Error(t, ValidateSDP("o=- 0 0\r\ns=-\r\nt=0 0\r\n"))
	assert.Error(t, ValidateSDP("v=0\r\ns=-\r\nt=0 0\r\n"))

	huge := minimalSDP + strings.Repeat("a", 256*1024)
	assert.Error(t, ValidateSDP(huge))
}
