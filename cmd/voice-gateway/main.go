package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/bridge"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/config"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/finalize"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/gdrive"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/server"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/summary"
)

// callFinalizer persists the record, then announces the ended call to
// monitor subscribers and ships the recording off-box.
type callFinalizer struct {
	inner    *finalize.Finalizer
	hub      *server.Hub
	archiver *gdrive.Archiver
}

func (f *callFinalizer) Finalize(ctx context.Context, s *session.Session) error {
	err := f.inner.Finalize(ctx, s)

	f.hub.BroadcastCallEnded(s.ID, s.TenantID, s.Duration(), s.Escalated())

	if err == nil && f.archiver != nil {
		if path := s.RecordingPath(); path != "" {
			go func() {
				if archiveErr := f.archiver.ArchiveRecording(path); archiveErr != nil {
					log.Printf("warning: archive recording for call %s failed: %v", s.ID, archiveErr)
				}
			}()
		}
	}

	return err
}

func main() {
	log.Println("voice-gateway: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	for _, tenant := range cfg.Tenants {
		if tenant.TenantID == "" {
			continue
		}
		if err := store.UpsertTenant(tenant); err != nil {
			log.Fatalf("seed tenant %s failed: %v", tenant.TenantID, err)
		}
	}

	registry := session.NewRegistry(cfg.ParsedSweepInterval(), cfg.ParsedSessionRetention())
	defer registry.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub()

	var archiver *gdrive.Archiver
	if cfg.GDriveFolderID != "" {
		archiver, err = gdrive.NewArchiver(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Printf("warning: call archival disabled: %v", err)
			archiver = nil
		} else {
			go archiveDatabaseLoop(ctx, archiver, cfg.DBPath)
		}
	}

	var summarizer finalize.Summarizer
	if cfg.OpenAIAPIKey != "" {
		summarizer = summary.NewOpenAI(cfg.OpenAIAPIKey, cfg.SummaryModel, store)
	}

	finalizer := &callFinalizer{
		inner:    finalize.New(store, summarizer),
		hub:      hub,
		archiver: archiver,
	}

	pool := ai.NewResponderPool(cfg.ResponderModel, ai.Keys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Gemini:    cfg.GeminiAPIKey,
	})

	tools := ai.NewToolRouter()
	tools.Register("create_ticket", func(_ context.Context, tc ai.ToolContext, args map[string]any) (any, error) {
		subject, _ := args["subject"].(string)
		body, _ := args["body"].(string)
		id, err := store.CreateTicket(storage.Ticket{
			TenantID:  tc.TenantID,
			SessionID: tc.SessionID,
			ContactID: tc.ContactID,
			Subject:   subject,
			Body:      body,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"ticket_id": id}, nil
	})
	tools.Register("escalate_to_human", func(_ context.Context, tc ai.ToolContext, _ map[string]any) (any, error) {
		if s, ok := registry.Get(tc.SessionID); ok {
			s.MarkEscalated()
		}
		return map[string]any{"status": "handoff requested"}, nil
	})

	bridges := server.Bridges{
		Realtime: bridge.NewRealtime(registry, finalizer, store, tools, bridge.RealtimeConfig{
			BaseURL:       cfg.RealtimeBaseURL,
			APIKey:        cfg.OpenAIAPIKey,
			Model:         cfg.RealtimeModel,
			FinalizeDelay: cfg.ParsedFinalizeDelay(),
			RecordingDir:  cfg.RecordingDir,
			RecordCalls:   cfg.RecordCalls,
		}),
		Legacy: bridge.NewLegacy(registry, finalizer, store, pool, bridge.LegacyConfig{
			DeepgramAPIKey: cfg.DeepgramAPIKey,
			OpenAIAPIKey:   cfg.OpenAIAPIKey,
			Language:       cfg.Language,
			RecordingDir:   cfg.RecordingDir,
			RecordCalls:    cfg.RecordCalls,
		}),
		Relay: bridge.NewRelay(registry, finalizer, store, pool),
	}

	handler := server.Handler(registry, bridges, store, store, hub, server.Config{
		PublicURL:     cfg.PublicURL,
		DefaultMethod: session.Method(cfg.DefaultMethod),
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("voice-gateway: shutting down")
		cancel()
	}()

	if err := server.Serve(ctx, cfg.ListenAddr, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func archiveDatabaseLoop(ctx context.Context, archiver *gdrive.Archiver, dbPath string) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			date := time.Now().UTC().Format("2006-01-02")
			if err := archiver.ArchiveDatabase(dbPath, date); err != nil {
				log.Printf("gdrive archive error: %v", err)
			}
		}
	}
}
