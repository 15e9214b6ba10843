package session

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxMessageBytes caps the encoded size of a single message body.
	MaxMessageBytes = 4096
	// MaxTextChars caps the character count of a single message body.
	MaxTextChars = 2000
)

// ValidateContent checks that a message body meets content requirements
// before it enters the moderation pipeline.
func ValidateContent(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
