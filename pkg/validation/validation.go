package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// UserIDRegex constrains user identifiers to a URL- and key-safe alphabet.
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

	// CallIDRegex matches generated call identifiers.
	CallIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// ValidateUserID validates a user identifier.
func ValidateUserID(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(userID) > 64 {
		return fmt.Errorf("user id is too long (max 64 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("user id contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidateCallID validates a call identifier.
func ValidateCallID(callID string) error {
	if callID == "" {
		return fmt.Errorf("call id is required")
	}
	if len(callID) > 100 {
		return fmt.Errorf("call id is too long (max 100 characters)")
	}
	if !CallIDRegex.MatchString(callID) {
		return fmt.Errorf("call id contains invalid characters")
	}
	return nil
}

// ValidateSDP performs a structural sanity check on an SDP blob before it is
// relayed. The relay never parses media sections; it only refuses frames that
// cannot possibly be SDP.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("sdp cannot be empty")
	}
	if len(sdp) > 256*1024 {
		return fmt.Errorf("sdp is too large")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid sdp: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid sdp: missing required field %q", field)
		}
	}
	return nil
}
