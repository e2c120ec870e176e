package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MaxDisplayNameLength = 32
	MaxBanReasonLength   = 200
	MaxReportDetails     = 500
	MaxReportListLimit   = 200

	// MaxBanDuration caps temporary bans; longer bans are permanent.
	MaxBanDuration = 365 * 24 * time.Hour
)

var (
	// UserIDRegex matches issued user ids (uuids) and test-friendly slugs.
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateDisplayName validates a user-chosen display name. An empty name is
// allowed; the server assigns a guest name instead.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	if err := ValidateStringLength(name, 1, MaxDisplayNameLength, "display name"); err != nil {
		return err
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display name contains control characters")
		}
	}
	return nil
}

// ValidateUserID validates user id
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("user ID is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateBanReason validates ban reason
func ValidateBanReason(reason string) error {
	if err := ValidateNonEmptyString(reason, "ban reason"); err != nil {
		return err
	}
	return ValidateStringLength(reason, 1, MaxBanReasonLength, "ban reason")
}

// ValidateReportDetails allows empty details.
func ValidateReportDetails(details string) error {
	if !utf8.ValidString(details) {
		return fmt.Errorf("report details contain invalid characters")
	}
	if utf8.RuneCountInString(details) > MaxReportDetails {
		return fmt.Errorf("report details are too long (max %d characters)", MaxReportDetails)
	}
	return nil
}

// ParseListLimit parses an optional page size. Empty yields def.
func ParseListLimit(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > MaxReportListLimit {
		return 0, fmt.Errorf("limit is too large (max %d)", MaxReportListLimit)
	}
	return n, nil
}

// ParseBanDuration parses a Go duration string. An empty string means a
// permanent ban and yields zero.
func ParseBanDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ban duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ban duration must be positive")
	}
	if d > MaxBanDuration {
		return 0, fmt.Errorf("ban duration is too long (max %s)", MaxBanDuration)
	}
	return d, nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateWebSocketURL is ValidateURL restricted to ws and wss.
func ValidateWebSocketURL(urlStr string) error {
	if err := ValidateURL(urlStr); err != nil {
		return err
	}
	if !strings.HasPrefix(urlStr, "ws://") && !strings.HasPrefix(urlStr, "wss://") {
		return fmt.Errorf("invalid URL scheme (must be ws or wss)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
