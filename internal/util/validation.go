package util

import (
	"regexp"
	"strings"
)

var (
	pixCodeRegex  = regexp.MustCompile(`^[0-9]{6}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)
)

// NormalizePixCode strips whitespace from a submitted code. Codes are
// numeric so there is no case to fold.
func NormalizePixCode(s string) string {
	return strings.TrimSpace(s)
}

func IsValidPixCode(s string) bool {
	return pixCodeRegex.MatchString(s)
}

func IsValidEmail(s string) bool {
	return s != "" && len(s) <= 254 && emailRegex.MatchString(s)
}

func IsValidUsername(s string) bool {
	return usernameRegex.MatchString(s)
}
