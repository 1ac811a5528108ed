package validate

import (
	"fmt"
	"net/mail"
	"regexp"
)

// Text field length limits shared by every handler.
const (
	MaxUsernameLength    = 50
	MaxFullNameLength    = 100
	MaxEmailLength       = 254
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MinPasswordLength    = 8
	MaxPasswordLength    = 72 // bcrypt input limit
)

var usernameRe = regexp.MustCompile(`^[a-z0-9._-]+$`)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func Title(s string) string       { return checkLen(s, MaxTitleLength, "title") }
func Description(s string) string { return checkLen(s, MaxDescriptionLength, "description") }
func FullName(s string) string    { return checkLen(s, MaxFullNameLength, "full name") }

// Username checks a lower-cased username.
func Username(s string) string {
	if msg := checkLen(s, MaxUsernameLength, "username"); msg != "" {
		return msg
	}
	if !usernameRe.MatchString(s) {
		return "username may only contain letters, digits, '.', '_' and '-'"
	}
	return ""
}

func Email(s string) string {
	if msg := checkLen(s, MaxEmailLength, "email"); msg != "" {
		return msg
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return "invalid email address"
	}
	return ""
}

func Password(s string) string {
	if len(s) < MinPasswordLength {
		return fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
	}
	if len(s) > MaxPasswordLength {
		return fmt.Sprintf("password must be at most %d characters", MaxPasswordLength)
	}
	return ""
}
