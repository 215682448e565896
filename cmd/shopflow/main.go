package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/shopflowbot/shopflow/internal/api"
	"github.com/shopflowbot/shopflow/internal/catalog"
	"github.com/shopflowbot/shopflow/internal/util"
	"github.com/shopflowbot/shopflow/internal/whatsapp"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	waOpts := buildWhatsAppOptions(flags)
	catOpts := buildCatalogOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping ShopFlow with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "catalog", len(catOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, catOpts, apiOpts); err != nil {
		slog.Error("ShopFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ShopFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	Channel        string
	WhatsAppDSN    string
	CatalogBaseURL string
	CatalogToken   string
	FlowFile       string
	TriggerCode    string
	APIAddr        string
	SweepInterval  time.Duration
	Debug          bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput    *string
	numeric     *bool
	channel     *string
	dbDSN       *string
	catalogURL  *string
	catalogKey  *string
	flowFile    *string
	triggerCode *string
	apiAddr     *string
	sweep       *time.Duration
}

// initializeLogger sets up structured logging; SHOPFLOW_DEBUG enables
// debug-level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("SHOPFLOW_DEBUG", false) {
		level = slog.LevelDebug
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
		Channel:        os.Getenv("SHOPFLOW_CHANNEL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		CatalogBaseURL: os.Getenv("CATALOG_BASE_URL"),
		CatalogToken:   os.Getenv("CATALOG_API_TOKEN"),
		FlowFile:       os.Getenv("SHOPFLOW_FLOW_FILE"),
		TriggerCode:    os.Getenv("SHOPFLOW_TRIGGER_CODE"),
		APIAddr:        os.Getenv("API_ADDR"),
		SweepInterval:  util.ParseDurationEnv("SESSION_SWEEP_INTERVAL", api.DefaultSweepInterval),
	}

	slog.Debug("environment variables loaded",
		"SHOPFLOW_CHANNEL", config.Channel,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"CATALOG_BASE_URL_SET", config.CatalogBaseURL != "",
		"CATALOG_API_TOKEN_SET", config.CatalogToken != "",
		"SHOPFLOW_FLOW_FILE", config.FlowFile,
		"SHOPFLOW_TRIGGER_CODE_SET", config.TriggerCode != "",
		"API_ADDR", config.APIAddr,
		"SESSION_SWEEP_INTERVAL", config.SweepInterval)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		channel:     flag.String("channel", config.Channel, "messaging channel: whatsmeow or twilio (overrides $SHOPFLOW_CHANNEL)"),
		dbDSN:       flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp device credentials (overrides $WHATSAPP_DB_DSN)"),
		catalogURL:  flag.String("catalog-url", config.CatalogBaseURL, "catalog backend base URL (overrides $CATALOG_BASE_URL)"),
		catalogKey:  flag.String("catalog-token", config.CatalogToken, "catalog backend API token (overrides $CATALOG_API_TOKEN)"),
		flowFile:    flag.String("flow-file", config.FlowFile, "YAML flow definition file (overrides $SHOPFLOW_FLOW_FILE)"),
		triggerCode: flag.String("trigger-code", config.TriggerCode, "trigger word gating new sessions (overrides $SHOPFLOW_TRIGGER_CODE)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweep:       flag.Duration("sweep-interval", config.SweepInterval, "session TTL sweep interval (overrides $SESSION_SWEEP_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"channel", *flags.channel,
		"dbDSN_set", *flags.dbDSN != "",
		"catalogURL_set", *flags.catalogURL != "",
		"flowFile", *flags.flowFile,
		"triggerCode_set", *flags.triggerCode != "",
		"apiAddr", *flags.apiAddr,
		"sweep", *flags.sweep)

	return flags
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildCatalogOptions constructs catalog client configuration options
func buildCatalogOptions(flags Flags) []catalog.Option {
	var catOpts []catalog.Option
	if *flags.catalogURL != "" {
		catOpts = append(catOpts, catalog.WithBaseURL(*flags.catalogURL))
	}
	if *flags.catalogKey != "" {
		catOpts = append(catOpts, catalog.WithAPIToken(*flags.catalogKey))
	}
	return catOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.channel != "" {
		apiOpts = append(apiOpts, api.WithChannel(*flags.channel))
	}
	if *flags.flowFile != "" {
		apiOpts = append(apiOpts, api.WithFlowFile(*flags.flowFile))
	}
	if *flags.triggerCode != "" {
		apiOpts = append(apiOpts, api.WithTriggerCode(*flags.triggerCode))
	}
	if *flags.sweep > 0 {
		apiOpts = append(apiOpts, api.WithSweepInterval(*flags.sweep))
	}
	return apiOpts
}
