package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pacific-gateway/tripbot/internal/api"
	"github.com/pacific-gateway/tripbot/internal/crm"
	"github.com/pacific-gateway/tripbot/internal/flow"
	"github.com/pacific-gateway/tripbot/internal/lockfile"
	"github.com/pacific-gateway/tripbot/internal/messaging"
	"github.com/pacific-gateway/tripbot/internal/observability"
	"github.com/pacific-gateway/tripbot/internal/pricing"
	"github.com/pacific-gateway/tripbot/internal/quote"
	"github.com/pacific-gateway/tripbot/internal/scheduler"
	"github.com/pacific-gateway/tripbot/internal/store"
	"github.com/pacific-gateway/tripbot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for tripbot state data
	DefaultStateDir = "/var/lib/tripbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "tripbot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := store.Open(buildStoreOptions(flags, config)...)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.RegisterStoreMaintenance(st, config.DedupTTL, ""); err != nil {
		slog.Error("Failed to register store maintenance", "error", err)
		os.Exit(1)
	}

	msgSvc := buildMessagingService(flags)
	syncer, crmClient := buildCRM(config)
	params := buildPricingParams(config)
	metrics := observability.NewMetrics()

	engine := flow.NewEngine(
		flow.WithStore(st),
		flow.WithMessaging(msgSvc),
		flow.WithSyncer(syncer),
		flow.WithFareSource(quote.NewStubSource()),
		flow.WithPricingParams(params),
		flow.WithMetrics(metrics),
	)

	serverOpts := []api.Option{
		api.WithEngine(engine),
		api.WithServerStore(st),
		api.WithMetrics(metrics),
		api.WithVerifyToken(config.VerifyToken),
		api.WithPricingParams(params),
		api.WithUserCooldown(config.UserCooldown),
	}
	if *flags.apiAddr != "" {
		serverOpts = append(serverOpts, api.WithAddr(*flags.apiAddr))
	}
	if crmClient != nil {
		serverOpts = append(serverOpts, api.WithCRMChecker(crmClient))
	}

	slog.Info("Bootstrapping tripbot", "transport", *flags.transport, "crm_configured", crmClient != nil, "api_addr", *flags.apiAddr)
	if err := api.NewServer(serverOpts...).Run(context.Background()); err != nil {
		slog.Error("tripbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("tripbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseURL string
	APIAddr     string

	Transport    string
	PageToken    string
	VerifyToken  string
	GraphBaseURL string
	TwilioSID    string
	TwilioToken  string
	TwilioFrom   string

	CRMBaseURL      string
	CRMTokenURL     string
	CRMClientID     string
	CRMClientSecret string
	CRMRefreshToken string
	AgentIDs        []string
	BookingPrefix   string

	ConvenienceFeePct float64
	Commissions       map[string]float64

	SessionTTL    time.Duration
	DedupTTL      time.Duration
	DedupCapacity int
	UserCooldown  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	apiAddr   *string
	transport *string
	pageToken *string
}

// initializeLogger sets up structured logging. Debug level by default;
// DEBUG=false quiets the logger to info.
func initializeLogger() {
	level := slog.LevelDebug
	if !util.ParseBoolEnv("DEBUG", true) {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:    os.Getenv("TRIPBOT_STATE_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		APIAddr:     os.Getenv("API_ADDR"),

		Transport:    os.Getenv("MESSAGING_TRANSPORT"),
		PageToken:    os.Getenv("PAGE_ACCESS_TOKEN"),
		VerifyToken:  os.Getenv("VERIFY_TOKEN"),
		GraphBaseURL: os.Getenv("GRAPH_BASE_URL"),
		TwilioSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:   os.Getenv("TWILIO_FROM_WHATSAPP"),

		CRMBaseURL:      os.Getenv("CRM_BASE_URL"),
		CRMTokenURL:     os.Getenv("CRM_TOKEN_URL"),
		CRMClientID:     os.Getenv("CRM_CLIENT_ID"),
		CRMClientSecret: os.Getenv("CRM_CLIENT_SECRET"),
		CRMRefreshToken: os.Getenv("CRM_REFRESH_TOKEN"),
		AgentIDs:        util.ParseListEnv("CRM_AGENT_IDS"),
		BookingPrefix:   os.Getenv("BOOKING_REF_PREFIX"),

		ConvenienceFeePct: util.ParseFloatEnv("CONVENIENCE_FEE_PCT", pricing.DefaultConvenienceFeePct),
		Commissions:       util.ParseRateMapEnv("COMMISSION_RATES"),

		SessionTTL:    util.ParseDurationEnv("SESSION_TTL", store.DefaultSessionTTL),
		DedupTTL:      util.ParseDurationEnv("DEDUP_TTL", store.DefaultDedupTTL),
		DedupCapacity: util.ParseIntEnv("DEDUP_CAPACITY", store.DefaultDedupCapacity),
		UserCooldown:  util.ParseDurationEnv("USER_COOLDOWN", api.DefaultUserCooldown),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TRIPBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.Transport == "" {
		config.Transport = "messenger"
	}

	slog.Debug("environment variables loaded",
		"TRIPBOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_TRANSPORT", config.Transport,
		"PAGE_ACCESS_TOKEN_SET", config.PageToken != "",
		"VERIFY_TOKEN_SET", config.VerifyToken != "",
		"CRM_CONFIGURED", config.CRMRefreshToken != "",
		"CRM_AGENT_IDS", len(config.AgentIDs),
		"CONVENIENCE_FEE_PCT", config.ConvenienceFeePct)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for tripbot data (overrides $TRIPBOT_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport: flag.String("transport", config.Transport, "outbound messaging transport: messenger or twilio (overrides $MESSAGING_TRANSPORT)"),
		pageToken: flag.String("page-token", config.PageToken, "messaging page access token (overrides $PAGE_ACCESS_TOKEN)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"pageTokenSet", *flags.pageToken != "")

	// Follow a moved state directory when the DSN was derived from it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags, config Config) []store.Option {
	storeOpts := []store.Option{
		store.WithSessionTTL(config.SessionTTL),
		store.WithDedupTTL(config.DedupTTL),
		store.WithDedupCapacity(config.DedupCapacity),
	}
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildMessagingService selects and configures the outbound transport
func buildMessagingService(flags Flags) messaging.Service {
	if *flags.transport == "twilio" {
		slog.Info("Using Twilio WhatsApp transport")
		svc, err := messaging.NewTwilioService()
		if err != nil {
			slog.Error("Failed to configure Twilio transport", "error", err)
			os.Exit(1)
		}
		return svc
	}
	var opts []messaging.MessengerOption
	if *flags.pageToken != "" {
		opts = append(opts, messaging.WithPageToken(*flags.pageToken))
	}
	if base := os.Getenv("GRAPH_BASE_URL"); base != "" {
		opts = append(opts, messaging.WithBaseURL(base))
	}
	return messaging.NewMessenger(opts...)
}

// buildCRM wires the CRM client and sync pipeline. Returns a nil syncer
// and client when no refresh credential is configured, which disables CRM
// writes but leaves the rest of the bot functional.
func buildCRM(config Config) (flow.Syncer, *crm.Client) {
	if config.CRMRefreshToken == "" {
		slog.Warn("CRM refresh token not configured; bookings will not be synced")
		return nil, nil
	}

	tokenOpts := []crm.TokenOption{
		crm.WithClientCredentials(config.CRMClientID, config.CRMClientSecret),
		crm.WithRefreshToken(config.CRMRefreshToken),
	}
	if config.CRMTokenURL != "" {
		tokenOpts = append(tokenOpts, crm.WithTokenURL(config.CRMTokenURL))
	}

	clientOpts := []crm.ClientOption{
		crm.WithTokenProvider(crm.NewTokenProvider(tokenOpts...)),
	}
	if config.CRMBaseURL != "" {
		clientOpts = append(clientOpts, crm.WithBaseURL(config.CRMBaseURL))
	}
	client := crm.NewClient(clientOpts...)

	syncerOpts := []crm.SyncerOption{
		crm.WithAPI(client),
		crm.WithAgentIDs(config.AgentIDs),
	}
	if config.BookingPrefix != "" {
		syncerOpts = append(syncerOpts, crm.WithBookingRefPrefix(config.BookingPrefix))
	}
	return crm.NewSyncer(syncerOpts...), client
}

// buildPricingParams assembles fee and commission parameters with
// environment overrides applied on top of the defaults.
func buildPricingParams(config Config) pricing.Params {
	params := pricing.DefaultParams()
	params.ConvenienceFeePct = config.ConvenienceFeePct
	for code, rate := range config.Commissions {
		params.Commissions[code] = rate
	}
	return params
}
