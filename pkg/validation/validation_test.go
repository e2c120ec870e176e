package validation

import (
	"strings"
	"testing"
	"time"
)

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantErr     bool
	}{
		{"valid", "Fluxx_0042", false},
		{"empty means guest", "", false},
		{"whitespace means guest", "   ", false},
		{"unicode", "Zoë ✨", false},
		{"max length", strings.Repeat("a", MaxDisplayNameLength), false},
		{"too long", strings.Repeat("a", MaxDisplayNameLength+1), true},
		{"control chars", "bad\x00name", true},
		{"invalid utf8", "bad\xffname", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.displayName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "6f1c1b1e-8a0a-4b5f-9d5e-0c7d2b9f1a33", false},
		{"slug", "alice_1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "alice bob", true},
		{"invalid chars 2", "alice@bob", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBanReason(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		wantErr bool
	}{
		{"valid", "spam", false},
		{"empty", "", true},
		{"blank", "  ", true},
		{"too long", strings.Repeat("a", MaxBanReasonLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBanReason(tt.reason)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBanReason() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBanDuration(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"permanent", "", 0, false},
		{"hours", "24h", 24 * time.Hour, false},
		{"minutes", "90m", 90 * time.Minute, false},
		{"zero", "0s", 0, true},
		{"negative", "-1h", 0, true},
		{"garbage", "forever", 0, true},
		{"too long", "9000h", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBanDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBanDuration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBanDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com", false},
		{"valid ws", "ws://example.com", false},
		{"valid wss", "wss://example.com", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWebSocketURL(t *testing.T) {
	if err := ValidateWebSocketURL("ws://localhost:8080/ws"); err != nil {
		t.Errorf("ValidateWebSocketURL() unexpected error = %v", err)
	}
	if err := ValidateWebSocketURL("https://localhost:8080/ws"); err == nil {
		t.Errorf("ValidateWebSocketURL() expected error for https")
	}
}
