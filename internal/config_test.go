package internal

import (
	"strings"
	"testing"

	"github.com/starford/tiwaz/internal/models"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", DefaultUser: "alice"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{DefaultUser: "alice"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", DefaultUser: "alice"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_Users(t *testing.T) {
	cfg := AuthConfig{
		Mode:        "token",
		Token:       "main",
		Tokens:      map[string]string{"bob-token": "bob"},
		DefaultUser: "alice",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	users := cfg.Users()
	if users["main"] != "alice" || users["bob-token"] != "bob" {
		t.Errorf("users = %v", users)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x", DefaultUser: "alice"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestGoogleConfig_EnabledNeedsClient(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Google.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled google without client id should fail")
	}
}

func TestMailConfig_IMAPNeedsHost(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Mail.Provider = MailProviderIMAP
	if err := cfg.Validate(); err == nil {
		t.Fatal("imap provider without host should fail")
	}
}

func TestRecordsConfig_DuplicateType(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Records.Types = []models.RecordType{{Name: "Customer"}, {Name: "Customer"}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate type error", err)
	}
}

func TestContextConfig_ThresholdRange(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Context.ContactConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("contact threshold above 1 should fail")
	}
}
