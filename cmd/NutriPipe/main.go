package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/NutriPipe/internal/api"
	"github.com/BTreeMap/NutriPipe/internal/flow"
	"github.com/BTreeMap/NutriPipe/internal/foodapi"
	"github.com/BTreeMap/NutriPipe/internal/lockfile"
	"github.com/BTreeMap/NutriPipe/internal/messaging"
	"github.com/BTreeMap/NutriPipe/internal/metrics"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/recovery"
	"github.com/BTreeMap/NutriPipe/internal/store"
	"github.com/BTreeMap/NutriPipe/internal/translate"
	"github.com/BTreeMap/NutriPipe/internal/transport"
	"github.com/BTreeMap/NutriPipe/internal/util"
	"github.com/BTreeMap/NutriPipe/internal/vision"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NutriPipe state data
	DefaultStateDir = "/var/lib/nutripipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "nutripipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := validateFlags(flags); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping NutriPipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"redis_set", *flags.redisURL != "",
		"api_addr", *flags.apiAddr,
		"nats_set", *flags.natsURL != "",
		"session_ttl", *flags.sessionTTL)
	if err := run(ctx, flags); err != nil {
		slog.Error("NutriPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("NutriPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken            string
	FoodAPIKey          string
	StateDir            string
	DatabaseURL         string
	RedisURL            string
	SessionTTL          time.Duration
	OpenAIKey           string
	TranslationEnabled  bool
	APIAddr             string
	NATSURL             string
	NATSSubject         string
	CollaboratorTimeout time.Duration
	DispatchWorkers     int
}

// Flags holds command line flag values
type Flags struct {
	botToken            *string
	apiKey              *string
	stateDir            *string
	dbDSN               *string
	redisURL            *string
	sessionTTL          *time.Duration
	openaiKey           *string
	translate           *bool
	apiAddr             *string
	natsURL             *string
	natsSubject         *string
	collaboratorTimeout *time.Duration
	workers             *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BotToken:            os.Getenv("BOT_TOKEN"),
		FoodAPIKey:          os.Getenv("CALORIE_NINJAS_API_KEY"),
		StateDir:            util.GetEnv("NUTRIPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		SessionTTL:          util.GetDurationEnv("SESSION_TTL", 0),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		TranslationEnabled:  util.ParseBoolEnv("TRANSLATION_ENABLED", true),
		APIAddr:             util.GetEnv("API_ADDR", api.DefaultAddr),
		NATSURL:             os.Getenv("NATS_URL"),
		NATSSubject:         util.GetEnv("NATS_SUBJECT", transport.DefaultSubject),
		CollaboratorTimeout: util.GetDurationEnv("COLLABORATOR_TIMEOUT", flow.DefaultCollaboratorTimeout),
		DispatchWorkers:     util.GetIntEnv("DISPATCH_WORKERS", messaging.DefaultWorkers),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"BOT_TOKEN_SET", config.BotToken != "",
		"CALORIE_NINJAS_API_KEY_SET", config.FoodAPIKey != "",
		"NUTRIPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"SESSION_TTL", config.SessionTTL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TRANSLATION_ENABLED", config.TranslationEnabled,
		"API_ADDR", config.APIAddr,
		"NATS_URL_SET", config.NATSURL != "",
		"NATS_SUBJECT", config.NATSSubject,
		"COLLABORATOR_TIMEOUT", config.CollaboratorTimeout,
		"DISPATCH_WORKERS", config.DispatchWorkers)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		botToken:            fs.String("bot-token", config.BotToken, "Telegram bot token (overrides $BOT_TOKEN)"),
		apiKey:              fs.String("api-key", config.FoodAPIKey, "API Ninjas key (overrides $CALORIE_NINJAS_API_KEY)"),
		stateDir:            fs.String("state-dir", config.StateDir, "state directory for NutriPipe data (overrides $NUTRIPIPE_STATE_DIR)"),
		dbDSN:               fs.String("db-dsn", config.DatabaseURL, "postgres URL or sqlite path for sessions (overrides $DATABASE_URL)"),
		redisURL:            fs.String("redis-url", config.RedisURL, "Redis URL for sessions, takes precedence over -db-dsn (overrides $REDIS_URL)"),
		sessionTTL:          fs.Duration("session-ttl", config.SessionTTL, "evict sessions idle for longer than this, 0 keeps them forever (overrides $SESSION_TTL)"),
		openaiKey:           fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key, switches translation to OpenAI (overrides $OPENAI_API_KEY)"),
		translate:           fs.Bool("translate", config.TranslationEnabled, "translate recipe queries and results (overrides $TRANSLATION_ENABLED)"),
		apiAddr:             fs.String("api-addr", config.APIAddr, "API server address, empty disables the API (overrides $API_ADDR)"),
		natsURL:             fs.String("nats-url", config.NATSURL, "NATS server URL, enables the NATS transport (overrides $NATS_URL)"),
		natsSubject:         fs.String("nats-subject", config.NATSSubject, "NATS request subject (overrides $NATS_SUBJECT)"),
		collaboratorTimeout: fs.Duration("collaborator-timeout", config.CollaboratorTimeout, "timeout for each external call (overrides $COLLABORATOR_TIMEOUT)"),
		workers:             fs.Int("workers", config.DispatchWorkers, "number of dispatch shards (overrides $DISPATCH_WORKERS)"),
	}

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	slog.Debug("flags parsed",
		"botTokenSet", *flags.botToken != "",
		"apiKeySet", *flags.apiKey != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"sessionTTL", *flags.sessionTTL,
		"openaiKeySet", *flags.openaiKey != "",
		"translate", *flags.translate,
		"apiAddr", *flags.apiAddr,
		"natsURL_set", *flags.natsURL != "",
		"workers", *flags.workers)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// validateFlags checks the settings NutriPipe cannot start without.
func validateFlags(flags Flags) error {
	if *flags.botToken == "" {
		return &models.ConfigError{Key: "BOT_TOKEN", Reason: "is required"}
	}
	if *flags.apiKey == "" {
		return &models.ConfigError{Key: "CALORIE_NINJAS_API_KEY", Reason: "is required"}
	}
	if *flags.sessionTTL < 0 {
		return &models.ConfigError{Key: "SESSION_TTL", Reason: "must not be negative"}
	}
	return nil
}

// run wires the modules together and blocks until ctx is done.
func run(ctx context.Context, flags Flags) error {
	bot, err := tgbotapi.NewBotAPI(*flags.botToken)
	if err != nil {
		return &models.TransportError{Collaborator: "telegram", Cause: err}
	}
	slog.Info("Authorized on Telegram", "bot", bot.Self.UserName)

	lock, err := lockfile.AcquireLock(*flags.stateDir, bot.Self.UserName)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close session store", "error", err)
		}
	}()
	rm := recovery.NewRecoveryManager(st)
	rm.RegisterRecoverable(&recovery.SessionSweeper{TTL: *flags.sessionTTL})
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery incomplete, continuing", "error", err)
	}
	store.StartJanitor(ctx, st, *flags.sessionTTL, 0)

	food, err := foodapi.New(buildFoodAPIOptions(flags)...)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	svc := messaging.NewTelegramService(bot)
	states := flow.NewStoreBasedStateManager(st)
	ctrl := flow.NewController(states, food, vision.StubAnalyzer{}, buildFlowOptions(flags, svc, collector)...)

	dispatcher := messaging.NewDispatcher(ctrl, svc, *flags.workers)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start Telegram polling: %w", err)
	}
	defer svc.Stop()

	if *flags.natsURL != "" {
		nt, err := transport.NewNATSTransport(*flags.natsURL, dispatcher, buildNATSOptions(flags)...)
		if err != nil {
			return err
		}
		defer nt.Close()
		if err := nt.Start(); err != nil {
			return err
		}
	}

	if *flags.apiAddr == "" {
		slog.Info("API server disabled")
		<-ctx.Done()
		return nil
	}
	server := api.NewServer(dispatcher, states, st, buildAPIOptions(flags, collector)...)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.redisURL != "" {
		slog.Debug("Configuring Redis session store", "redis_set", true)
		storeOpts = append(storeOpts, store.WithRedisURL(*flags.redisURL))
	} else if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == store.DSNTypePostgres {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	if *flags.sessionTTL > 0 {
		storeOpts = append(storeOpts, store.WithSessionTTL(*flags.sessionTTL))
	}
	return storeOpts
}

// buildFoodAPIOptions constructs food data client options
func buildFoodAPIOptions(flags Flags) []foodapi.Option {
	return []foodapi.Option{
		foodapi.WithAPIKey(*flags.apiKey),
		foodapi.WithTimeout(*flags.collaboratorTimeout),
	}
}

// buildTranslator picks the translation backend.
func buildTranslator(flags Flags) translate.Translator {
	if !*flags.translate {
		slog.Debug("Translation disabled")
		return translate.NoopTranslator{}
	}
	if *flags.openaiKey != "" {
		tr, err := translate.NewOpenAITranslator(translate.WithAPIKey(*flags.openaiKey))
		if err == nil {
			slog.Debug("Using OpenAI translator")
			return tr
		}
		slog.Warn("Failed to create OpenAI translator, falling back to Google", "error", err)
	}
	slog.Debug("Using Google translator")
	return translate.NewGoogleTranslator()
}

// buildFlowOptions constructs flow controller options
func buildFlowOptions(flags Flags, fetcher flow.ImageFetcher, recorder flow.Recorder) []flow.Option {
	return []flow.Option{
		flow.WithTranslator(buildTranslator(flags)),
		flow.WithImageFetcher(fetcher),
		flow.WithRecorder(recorder),
		flow.WithCollaboratorTimeout(*flags.collaboratorTimeout),
	}
}

// buildNATSOptions constructs NATS transport options
func buildNATSOptions(flags Flags) []transport.Option {
	var opts []transport.Option
	if *flags.natsSubject != "" {
		opts = append(opts, transport.WithSubject(*flags.natsSubject))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, collector *metrics.Collector) []api.Option {
	apiOpts := []api.Option{api.WithMetrics(collector)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
