// Package validation provides input validation utilities
package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 150
	MaxBioLength      = 500
	MaxNameLength     = 150
	MaxEmailLength    = 254
	MinPasswordLength = 8
	MaxPasswordLength = 128
	MaxMessageLength  = 10000
	MaxReasonLength   = 1000
)

// DefaultSuspensionDuration applies when a suspend request omits the duration.
const DefaultSuspensionDuration = "24h"

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	durationPattern = regexp.MustCompile(`^(\d+)([hdw])$`)
)

// ValidatePassword checks if a password meets security requirements
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must not exceed %d characters", MaxPasswordLength)
	}

	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return fmt.Errorf("password must contain at least one letter")
	}
	if !hasDigit {
		return fmt.Errorf("password must contain at least one digit")
	}
	if strings.TrimSpace(password) != password {
		return fmt.Errorf("password must not start or end with whitespace")
	}
	return nil
}

// ValidateUsername checks if a username meets requirements
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, dots, underscores, and hyphens")
	}
	return nil
}

// ValidateEmail accepts RFC 5322 addr-specs without display names.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > MaxEmailLength {
		return fmt.Errorf("email must not exceed %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateBio enforces the profile bio length.
func ValidateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return fmt.Errorf("bio must not exceed %d characters", MaxBioLength)
	}
	return nil
}

// ValidateName enforces first/last name length.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("name must not exceed %d characters", MaxNameLength)
	}
	return nil
}

// ValidateMessageContent rejects blank or oversized message bodies.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return fmt.Errorf("message content must not exceed %d characters", MaxMessageLength)
	}
	return nil
}

// ValidateReason enforces the moderation reason length.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return fmt.Errorf("reason must not exceed %d characters", MaxReasonLength)
	}
	return nil
}

// ParseSuspensionDuration parses `\d+[hdw]` (hours, days, weeks). An empty
// string yields the 24h default.
func ParseSuspensionDuration(raw string) (time.Duration, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultSuspensionDuration
	}
	m := durationPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, "", fmt.Errorf("duration must look like 12h, 3d or 2w")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, "", fmt.Errorf("duration must be a positive number of hours, days or weeks")
	}

	var unit time.Duration
	switch m[2] {
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	if n > int((10*365*24*time.Hour)/unit) {
		return 0, "", fmt.Errorf("duration is too long")
	}
	return time.Duration(n) * unit, raw, nil
}
