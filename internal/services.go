package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/starford/tiwaz/internal/assistant"
	"github.com/starford/tiwaz/internal/cache"
	"github.com/starford/tiwaz/internal/catalog"
	"github.com/starford/tiwaz/internal/clarify"
	"github.com/starford/tiwaz/internal/generation"
	"github.com/starford/tiwaz/internal/matcher"
	"github.com/starford/tiwaz/internal/oauth"
	"github.com/starford/tiwaz/internal/ops"
	"github.com/starford/tiwaz/internal/recordservice"
	"github.com/starford/tiwaz/internal/recordtype"
	"github.com/starford/tiwaz/internal/sse"
	"github.com/starford/tiwaz/internal/store"
	"github.com/starford/tiwaz/internal/urlctx"
	"github.com/starford/tiwaz/internal/vault"
	"github.com/starford/tiwaz/internal/workspace"
)

const (
	changedThrottle = 2 * time.Second
	prefixCacheTTL  = time.Hour
)

// pruner is a cache whose expired entries are dropped by a job.
type pruner interface {
	Prune() int
}

// services is the wired object graph shared by every entry point.
type services struct {
	db       *store.DB
	files    *vault.FS
	broker   *sse.Broker
	pipeline *ops.Pipeline
	caches   map[string]pruner
}

func (s *services) Close() {
	s.broker.Close()
	if err := s.db.Close(); err != nil {
		slog.Error("close database failed", slog.String("error", err.Error()))
	}
}

func newLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// openVault opens the record vault and its index.
func openVault(cfg *Config) (*vault.FS, *store.DB, error) {
	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Records.VaultPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create vault dir: %w", err)
	}
	files, err := vault.NewFS(cfg.Records.VaultPath)
	if err != nil {
		return nil, nil, fmt.Errorf("init vault: %w", err)
	}
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return files, db, nil
}

// buildServices opens storage, runs the initial sync and wires the
// operation catalogue.
func buildServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*services, error) {
	files, db, err := openVault(cfg)
	if err != nil {
		return nil, err
	}

	stats, err := store.Sync(ctx, db, files, logger, nil)
	if err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync finished",
			slog.Int("indexed", stats.Indexed),
			slog.Int("removed", stats.Removed),
			slog.Int("skipped", stats.Skipped))
	}

	broker := sse.NewBroker(changedThrottle)
	sink := ops.NewSlogSink(logger)

	types := recordtype.NewRegistry(cfg.Records.Types)
	prefixCache := cache.New[map[string]string](prefixCacheTTL)
	prefixes := recordtype.NewPrefixResolver(types, prefixCache)

	recs := recordservice.NewService(files, db, types, cfg.App.PublicURL, 0)
	m := matcher.New(types, db, db, sink, cfg.App.PublicURL)
	gen := generation.New(generation.Config{
		APIKey:         cfg.Generation.APIKey,
		BaseURL:        cfg.Generation.BaseURL,
		APIVersion:     cfg.Generation.APIVersion,
		DefaultModel:   cfg.Generation.DefaultModel,
		EmbeddingModel: cfg.Generation.EmbeddingModel,
		Timeout:        cfg.Generation.Timeout,
	}, logger)
	urls := urlctx.New(&http.Client{}, urlctx.ParseBlacklist(cfg.Context.URLBlacklist))

	states := cache.New[string](oauth.StateTTL)
	provider := oauth.New(oauth.Config{
		Enabled:      cfg.Google.Enabled,
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
	}, db, states)

	deps := assistant.Deps{
		Conversations: db,
		Records:       recs,
		Types:         types,
		Prefixes:      prefixes,
		Matcher:       m,
		Generator:     gen,
		URLs:          urls,
		Clarifier:     clarify.New(cfg.Context.ClarificationThreshold),
		Events:        broker,
	}
	svcs := catalog.Services{
		Records:      recs,
		Matcher:      m,
		URLs:         urls,
		Embedder:     gen,
		OAuth:        provider,
		RecordEvents: broker.PublishRecordEvent,
	}
	if ws := buildWorkspace(cfg, provider, db, logger); ws != nil {
		deps.Workspace = ws
		svcs.Workspace = ws
	}

	svcs.Assistant = assistant.New(deps, assistant.Config{
		SystemInstruction:     cfg.Generation.SystemInstruction,
		MatchThreshold:        cfg.Context.MatchThreshold,
		DoctypeMatchThreshold: cfg.Context.DoctypeMatchThreshold,
		MaxContextChars:       cfg.Context.MaxContextChars,
	})

	pipeline := ops.NewPipeline(catalog.New(svcs),
		ops.LoggingHook{Logger: logger},
		ops.ReportingHook{Sink: sink},
	)

	return &services{
		db:       db,
		files:    files,
		broker:   broker,
		pipeline: pipeline,
		caches: map[string]pruner{
			"record_prefixes": prefixCache,
			"oauth_states":    states,
		},
	}, nil
}

// buildWorkspace assembles the external adapters. Google adapters need the
// integration enabled; an IMAP mailbox works without it. nil means no
// workspace domain is available.
func buildWorkspace(cfg *Config, provider *oauth.Provider, db *store.DB, logger *slog.Logger) *workspace.Service {
	var adapters []workspace.Adapter
	var mail workspace.Correspondent

	if cfg.Mail.Provider == MailProviderIMAP {
		imap := workspace.NewIMAP(workspace.IMAPConfig{
			Host:          cfg.Mail.IMAP.Host,
			Port:          cfg.Mail.IMAP.Port,
			Username:      cfg.Mail.IMAP.Username,
			Password:      cfg.Mail.IMAP.Password,
			Mailbox:       cfg.Mail.IMAP.Mailbox,
			TLSSkipVerify: cfg.Mail.IMAP.TLSSkipVerify,
		})
		adapters = append(adapters, imap)
		mail = imap
	}

	if cfg.Google.Enabled {
		client := provider.HTTPClient
		if mail == nil {
			gmail := workspace.NewGmail(client)
			adapters = append(adapters, gmail)
			mail = gmail
		}
		adapters = append(adapters,
			workspace.NewDrive(client),
			workspace.NewCalendar(client),
			workspace.NewContacts(client, mail),
		)
	}

	if len(adapters) == 0 {
		return nil
	}
	return workspace.NewService(db, cfg.Context.ContactConfidenceThreshold, logger, adapters...)
}
