// Package app provides the main Rivanna application
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/rivanna/common/redact"
	"github.com/bdobrica/rivanna/common/trace"
	"github.com/bdobrica/rivanna/internal/rivanna/chat"
	"github.com/bdobrica/rivanna/internal/rivanna/commands"
	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
	"github.com/bdobrica/rivanna/internal/rivanna/llm"
	"github.com/bdobrica/rivanna/internal/rivanna/matrix"
	"github.com/bdobrica/rivanna/internal/rivanna/persona"
	"github.com/bdobrica/rivanna/internal/rivanna/session"
	"github.com/bdobrica/rivanna/internal/rivanna/store"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	Matrix       matrix.Config

	// PersonaFile is the persona YAML. Without it the bot answers chat
	// messages with session.FallbackMessage.
	PersonaFile string

	OpenAI OpenAIConfig
	Memory MemoryConfig

	// Debounce is the quiet period before a burst is answered.
	Debounce time.Duration
	// SessionTimeout ends a chat after this long without messages.
	SessionTimeout time.Duration
	// HistoryCapacity is the number of turns kept per room.
	HistoryCapacity int
	// ContextMax is the input token ceiling of the chat model.
	ContextMax int
	// DailyTokenBudget caps completion tokens per space per UTC day.
	DailyTokenBudget int
	// RateLimit is the maximum number of chat messages accepted per sender
	// per minute. Defaults to llm.DefaultRateLimit when zero.
	RateLimit int

	// HTTPAddr is the TCP address for the optional health/status HTTP server
	// (e.g. ":8080"). When empty the server is disabled.
	HTTPAddr string
}

// OpenAIConfig holds the completion and embedding API settings.
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	SpeculativeModel string
	EmbeddingModel   string
	// Temperature is sent as given; DefaultConfig uses the tuned 0.4.
	Temperature float64
}

// DefaultConfig returns a Config with every tunable at its default. Connection
// settings are left empty.
func DefaultConfig() *Config {
	asm := chat.DefaultAssemblerConfig()
	return &Config{
		DatabasePath:     "./rivanna.db",
		OpenAI:           OpenAIConfig{Model: llm.DefaultModel, SpeculativeModel: asm.SpeculativeModel, Temperature: asm.Temperature},
		Memory:           MemoryConfig{Backend: BackendSQLite},
		Debounce:         chat.DefaultDebounce,
		SessionTimeout:   commands.DefaultChatTimeout,
		HistoryCapacity:  conversation.DefaultCapacity,
		ContextMax:       asm.ContextMax,
		DailyTokenBudget: llm.DefaultTokenBudget,
		RateLimit:        llm.DefaultRateLimit,
	}
}

// App is the main Rivanna application
type App struct {
	config       *Config
	logger       *slog.Logger
	store        *store.Store
	memory       *Memory
	matrix       *matrix.Client
	persona      *persona.Persona
	sessions     *session.Orchestrator
	router       *commands.Router
	handlers     *commands.Handlers
	limiter      *llm.RateLimiter
	healthServer *HealthServer

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the application together. Nothing is started until Run.
func New(config *Config) (*App, error) {
	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())

	// Initialize database
	logger.Info("opening database", "path", config.DatabasePath)
	db, err := store.New(config.DatabasePath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{config: config, logger: logger, store: db, ctx: ctx, cancel: cancel}
	fail := func(err error) (*App, error) {
		a.close()
		return nil, err
	}

	// Persona. A missing persona is not fatal: commands keep working and chat
	// messages get the fallback reply.
	a.persona = persona.Blank()
	if config.PersonaFile != "" {
		p, err := persona.LoadFile(config.PersonaFile)
		if err != nil {
			return fail(err)
		}
		a.persona = p
	} else {
		logger.Warn("no persona configured; chat messages will get the fallback reply")
	}

	// Matrix client.
	// Inject the DB so the client can persist the sync token across restarts.
	matrixCfg := config.Matrix
	matrixCfg.DB = db.DB()
	logger.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver, "user_id", matrixCfg.UserID,
		"access_token", redact.Mask(matrixCfg.AccessToken))
	a.matrix, err = matrix.New(&matrixCfg)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize Matrix client: %w", err))
	}

	// Vector memory and embeddings.
	a.memory, err = OpenMemory(ctx, config.Memory, config.OpenAI, db.DB(), logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize memory: %w", err))
	}

	// Completion pipeline.
	logger.Info("configuring completion API", "model", orDefault(config.OpenAI.Model, llm.DefaultModel),
		"base_url", orDefault(config.OpenAI.BaseURL, "https://api.openai.com/v1"),
		"api_key", redact.Mask(config.OpenAI.APIKey))
	completer := llm.NewOpenAICompleter(llm.OpenAIConfig{
		APIKey:  config.OpenAI.APIKey,
		BaseURL: config.OpenAI.BaseURL,
		Model:   config.OpenAI.Model,
	})

	asmCfg := chat.DefaultAssemblerConfig()
	asmCfg.Model = config.OpenAI.Model
	asmCfg.Temperature = config.OpenAI.Temperature
	if config.OpenAI.SpeculativeModel != "" {
		asmCfg.SpeculativeModel = config.OpenAI.SpeculativeModel
	}
	if config.ContextMax > 0 {
		asmCfg.ContextMax = config.ContextMax
	}
	assembler := chat.NewContextAssembler(completer, newTokenCounter(orDefault(config.OpenAI.Model, llm.DefaultModel), logger), asmCfg, logger)
	augmenter := chat.NewRetrievalAugmenter(a.memory.Store, a.memory.Embedder, assembler, chat.AugmenterConfig{}, logger)
	budget := llm.NewTokenBudget(config.DailyTokenBudget, nil)
	pipeline := chat.NewPipeline(augmenter, assembler, budget, logger)

	a.sessions = session.New(session.Config{
		Persona:         a.persona.Prompt,
		APIKey:          config.OpenAI.APIKey,
		HistoryCapacity: config.HistoryCapacity,
		Debounce:        config.Debounce,
		Logger:          logger,
		Context:         ctx,
	}, pipeline, a.matrix)

	a.limiter = llm.NewRateLimiter(config.RateLimit, time.Minute, nil)

	// Commands.
	a.router = commands.NewRouter(commands.Prefix)
	a.handlers = commands.NewHandlers(commands.HandlersConfig{
		Sessions:    a.sessions,
		Memories:    a.memory.Library(logger),
		Persona:     a.persona,
		Scopes:      a.matrix,
		Notifier:    a.matrix,
		ChatTimeout: config.SessionTimeout,
		Context:     ctx,
		Logger:      logger,
	})
	a.handlers.Register(a.router)

	if config.HTTPAddr != "" {
		a.healthServer = NewHealthServer(config.HTTPAddr, a.sessions, config.Memory.backend())
	}

	return a, nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	// Start health/status HTTP server if configured.
	if a.healthServer != nil {
		if err := a.healthServer.Start(a.ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	// Start Matrix client
	a.logger.Info("starting Matrix sync")
	if err := a.matrix.Start(a.ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	a.logger.Info("Rivanna is running; press Ctrl+C to stop", "persona", a.persona.Name)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutting down")
	return nil
}

// Stop ends all chats, waits for running cycles, and releases resources.
func (a *App) Stop() {
	a.logger.Info("stopping Matrix client")
	a.matrix.Stop()

	a.logger.Info("ending chats", "active", a.sessions.ActiveSessions())
	a.sessions.Close()

	if a.healthServer != nil {
		a.logger.Info("stopping health server")
		a.healthServer.Stop()
	}
	a.close()
}

func (a *App) close() {
	a.cancel()
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.logger.Warn("closing memory backend", "err", err)
		}
	}
	a.logger.Info("closing database")
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing database", "err", err)
	}
}

// handleMessage routes commands and forwards chat messages of active rooms
// to their session.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := trace.Logger(ctx, a.logger).With("room_id", evt.RoomID.String(), "sender", evt.Sender.String())
	roomID := evt.RoomID.String()

	response, err := a.router.Route(ctx, msg.Body, evt)
	switch {
	case err == nil:
		if response != "" {
			if err := a.matrix.PostNotice(ctx, roomID, response); err != nil {
				log.Error("failed to send command response", "err", err)
			}
		}
		return
	case !errors.Is(err, commands.ErrNotACommand):
		log.Warn("command failed", "err", err)
		if err := a.matrix.PostNotice(ctx, roomID, fmt.Sprintf("❌ Error: %s", err)); err != nil {
			log.Error("failed to send command error", "err", err)
		}
		return
	}

	// Ordinary chat message.
	key, err := a.handlers.Key(ctx, evt)
	if err != nil {
		log.Warn("cannot resolve room scope", "err", err)
		return
	}
	if !a.sessions.IsActive(key) {
		return
	}
	if !a.limiter.Allow(evt.Sender.String()) {
		log.Info("chat message rate limited")
		return
	}

	raw := localpart(evt.Sender.String()) + ": " + msg.Body
	err = a.sessions.SendMessage(ctx, key, raw)
	switch {
	case err == nil:
		log.Debug("chat message queued", "space_id", key.SpaceID, "text", raw)
	case errors.Is(err, session.ErrConfiguration):
		log.Warn("chat message rejected", "err", err)
		if err := a.matrix.PostMessage(ctx, roomID, session.FallbackMessage); err != nil {
			log.Error("failed to send fallback message", "err", err)
		}
	default:
		log.Error("chat message not routed", "err", err)
	}
}

// localpart returns "alice" for "@alice:example.org".
func localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

func newTokenCounter(model string, logger *slog.Logger) conversation.TokenCounter {
	counter, err := conversation.NewTiktokenCounter(model)
	if err != nil {
		logger.Warn("tiktoken unavailable; estimating tokens from length", "model", model, "err", err)
		return conversation.HeuristicCounter{}
	}
	return counter
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
