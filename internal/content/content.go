package content

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const MaxMessageLength = 4000

var (
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrMessageTooLong = errors.New("message content is too long")
)

var (
	// Messages are shown in a terminal, so no markup survives.
	policy        = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize strips all HTML from the input and unescapes the entities the
// policy leaves behind, so "a < b" stays readable.
func Sanitize(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// NormalizeMessage sanitizes message content and checks its length.
func NormalizeMessage(input string) (string, error) {
	out := strings.TrimSpace(Sanitize(input))
	if out == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(out) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return out, nil
}

// StripControl drops control characters other than newline and tab, so
// remote text cannot move the cursor or change terminal colours.
func StripControl(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
