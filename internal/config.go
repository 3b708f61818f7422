package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tiwaz/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Mail providers.
const (
	MailProviderGmail = "gmail"
	MailProviderIMAP  = "imap"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Records    RecordsConfig     `yaml:"records"`
	Auth       AuthConfig        `yaml:"auth"`
	Generation GenerationConfig  `yaml:"generation"`
	Google     GoogleConfig      `yaml:"google"`
	Mail       MailConfig        `yaml:"mail"`
	Context    ContextConfig     `yaml:"context"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.SQLite, &c.Records, &c.Auth, &c.Generation, &c.Google, &c.Mail, &c.Context,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	Name      string     `yaml:"name"`
	LogLevel  slog.Level `yaml:"log_level"`
	PublicURL string     `yaml:"public_url"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.PublicURL, validation.Required),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ShutdownTimeout, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RecordsConfig describes the record vault and the record types it holds.
type RecordsConfig struct {
	VaultPath      string              `yaml:"vault_path"`
	Watch          bool                `yaml:"watch"`
	ResyncSchedule string              `yaml:"resync_schedule"`
	Types          []models.RecordType `yaml:"types"`
}

// Validate validates the records configuration.
func (c *RecordsConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.VaultPath, validation.Required),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Types))
	for i, rt := range c.Types {
		if strings.TrimSpace(rt.Name) == "" {
			return fmt.Errorf("records: type #%d has no name", i)
		}
		if _, dup := seen[rt.Name]; dup {
			return fmt.Errorf("records: duplicate type %q", rt.Name)
		}
		seen[rt.Name] = struct{}{}
		for _, f := range rt.Fields {
			if f.Name == "" {
				return fmt.Errorf("records: type %q has a field without a name", rt.Name)
			}
		}
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): every request acts as DefaultUser.
//   - "token": Bearer token authentication. Token authenticates as
//     DefaultUser; Tokens maps further tokens to their users.
type AuthConfig struct {
	Mode        string            `yaml:"mode"`
	Token       string            `yaml:"token"`
	Tokens      map[string]string `yaml:"tokens"`
	DefaultUser string            `yaml:"default_user"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.DefaultUser, validation.Required),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" && len(c.Tokens) == 0 {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// Users returns the token to user table used by the API middleware.
func (c *AuthConfig) Users() map[string]string {
	out := make(map[string]string, len(c.Tokens)+1)
	for tok, user := range c.Tokens {
		out[tok] = user
	}
	if c.Token != "" {
		out[c.Token] = c.DefaultUser
	}
	return out
}

// GenerationConfig configures the text-generation endpoint. A missing API
// key is reported when generation is first attempted, not at startup.
type GenerationConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	APIVersion        string        `yaml:"api_version"`
	DefaultModel      string        `yaml:"default_model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	SystemInstruction string        `yaml:"system_instruction"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Validate validates the generation configuration.
func (c *GenerationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
	)
}

// GoogleConfig configures the Google Workspace integration.
type GoogleConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Validate validates the Google configuration.
func (c *GoogleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.RedirectURL, validation.Required),
	)
}

// MailConfig selects the mail backend.
type MailConfig struct {
	Provider string     `yaml:"provider"`
	IMAP     IMAPConfig `yaml:"imap"`
}

// Validate validates the mail configuration.
func (c *MailConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(MailProviderGmail, MailProviderIMAP)),
	); err != nil {
		return err
	}
	if c.Provider == MailProviderIMAP {
		return c.IMAP.Validate()
	}
	return nil
}

// IMAPConfig holds the mailbox used when Provider is "imap".
type IMAPConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Mailbox       string `yaml:"mailbox"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
}

// Validate validates the IMAP configuration.
func (c *IMAPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// ContextConfig tunes reference resolution and context assembly.
type ContextConfig struct {
	// URLBlacklist holds newline-separated substrings; matching URLs are skipped.
	URLBlacklist               string  `yaml:"url_blacklist"`
	ContactConfidenceThreshold float64 `yaml:"contact_confidence_threshold"`
	ClarificationThreshold     int     `yaml:"clarification_threshold"`
	MatchThreshold             float64 `yaml:"match_threshold"`
	DoctypeMatchThreshold      int     `yaml:"doctype_match_threshold"`
	MaxContextChars            int     `yaml:"max_context_chars"`
}

// Validate validates the context configuration.
func (c *ContextConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ContactConfidenceThreshold, validation.Required, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.ClarificationThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.MatchThreshold, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&c.DoctypeMatchThreshold, validation.Min(0), validation.Max(100)),
		validation.Field(&c.MaxContextChars, validation.Required, validation.Min(1000)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			Name:      "Tiwaz",
			LogLevel:  slog.LevelInfo,
			PublicURL: "http://localhost:8080",
			HTTP: HTTPConfig{
				Port:            8080,
				ShutdownTimeout: 10 * time.Second,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./tiwaz.db",
		},
		Records: RecordsConfig{
			VaultPath:      "./records",
			Watch:          true,
			ResyncSchedule: "@every 10m",
		},
		Auth: AuthConfig{
			Mode:        AuthModeDisabled,
			DefaultUser: "Administrator",
		},
		Generation: GenerationConfig{
			BaseURL:           "https://generativelanguage.googleapis.com/",
			APIVersion:        "v1beta",
			DefaultModel:      "gemini-2.5-pro",
			EmbeddingModel:    "text-embedding-004",
			SystemInstruction: "You are a helpful assistant integrated into a business records application. Base your answers on the context provided when it is relevant.",
			Timeout:           120 * time.Second,
		},
		Mail: MailConfig{
			Provider: MailProviderGmail,
			IMAP: IMAPConfig{
				Port:    993,
				Mailbox: "INBOX",
			},
		},
		Context: ContextConfig{
			ContactConfidenceThreshold: 0.95,
			ClarificationThreshold:     20,
			MatchThreshold:             75,
			DoctypeMatchThreshold:      80,
			MaxContextChars:            30000,
		},
	}
}
