// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken      = "TELEGRAM_TOKEN"
	KeyBotOwner           = "BOT_OWNER"
	KeyMongoURI           = "MONGO_URI"
	KeyMongoDB            = "MONGO_DB"
	KeyAppEnv             = "APP_ENV"
	KeyLogLevel           = "LOG_LEVEL"
	KeyHTTPPort           = "HTTP_PORT"
	KeySweepInterval      = "SWEEP_INTERVAL"
	KeyReminderDays       = "REMINDER_DAYS"
	KeyTelegramWorkers    = "TELEGRAM_WORKERS"
	KeyStoreRetryAttempts = "STORE_RETRY_ATTEMPTS"
	KeyStoreRetryBackoff  = "STORE_RETRY_BACKOFF"
	KeyMongoMaxPoolSize   = "MONGO_MAX_POOL_SIZE"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv             = EnvProduction
	DefaultLogLevel           = "info"
	DefaultHTTPPort           = 8080
	DefaultSweepInterval      = 24 * time.Hour
	DefaultReminderDays       = 3
	DefaultTelegramWorkers    = 1
	DefaultStoreRetryAttempts = 3
	DefaultStoreRetryBackoff  = 500 * time.Millisecond
	DefaultMongoMaxPoolSize   = 10

	// Recommended database names by environment.
	DefaultMongoDBProd = "premium_gate"
	DefaultMongoDBDev  = "premium_gate_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Telegram user_id allowed to register premium channels.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
		Notes:       "Must use the mongodb:// or mongodb+srv:// scheme.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health and metrics port.",
	},
	{
		Key:         KeySweepInterval,
		Example:     "24h",
		Default:     DefaultSweepInterval.String(),
		Description: "Period between expiry sweeps, measured start to start.",
	},
	{
		Key:         KeyReminderDays,
		Example:     "3",
		Default:     strconv.Itoa(DefaultReminderDays),
		Description: "Subscriptions expiring within this many days receive a reminder each sweep.",
		Notes:       "0 disables reminders.",
	},
	{
		Key:         KeyTelegramWorkers,
		Example:     "1",
		Default:     strconv.Itoa(DefaultTelegramWorkers),
		Description: "Number of workers dispatching Telegram updates.",
	},
	{
		Key:         KeyStoreRetryAttempts,
		Example:     "3",
		Default:     strconv.Itoa(DefaultStoreRetryAttempts),
		Description: "Attempts for store operations failing with transient connectivity errors.",
	},
	{
		Key:         KeyStoreRetryBackoff,
		Example:     "500ms",
		Default:     DefaultStoreRetryBackoff.String(),
		Description: "Fixed delay between transient store retries.",
	},
	{
		Key:         KeyMongoMaxPoolSize,
		Example:     "10",
		Default:     strconv.Itoa(DefaultMongoMaxPoolSize),
		Description: "Upper bound on pooled connections per Mongo server.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken      string
	BotOwnerID         int64
	MongoURI           string
	MongoDB            string
	AppEnv             string
	LogLevel           string
	HTTPPort           int           `env:"HTTP_PORT" validate:"gt=0,lte=65535"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" validate:"min=1s"`
	ReminderDays       int           `env:"REMINDER_DAYS" validate:"gte=0,lte=365"`
	TelegramWorkers    int           `env:"TELEGRAM_WORKERS" validate:"gte=1,lte=64"`
	StoreRetryAttempts int           `env:"STORE_RETRY_ATTEMPTS" validate:"gte=1,lte=10"`
	StoreRetryBackoff  time.Duration `env:"STORE_RETRY_BACKOFF" validate:"gte=0"`
	MongoMaxPoolSize   int           `env:"MONGO_MAX_POOL_SIZE" validate:"gte=1,lte=500"`
}

// ReminderWindow returns the lookahead used by the reminder pass.
func (c Config) ReminderWindow() time.Duration {
	return time.Duration(c.ReminderDays) * 24 * time.Hour
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:             firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:      strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:           strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:            strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:           firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:           DefaultHTTPPort,
		SweepInterval:      DefaultSweepInterval,
		ReminderDays:       DefaultReminderDays,
		TelegramWorkers:    DefaultTelegramWorkers,
		StoreRetryAttempts: DefaultStoreRetryAttempts,
		StoreRetryBackoff:  DefaultStoreRetryBackoff,
		MongoMaxPoolSize:   DefaultMongoMaxPoolSize,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	if err := readInt(KeyHTTPPort, &cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if err := readInt(KeyReminderDays, &cfg.ReminderDays); err != nil {
		return Config{}, err
	}
	if err := readInt(KeyTelegramWorkers, &cfg.TelegramWorkers); err != nil {
		return Config{}, err
	}
	if err := readInt(KeyStoreRetryAttempts, &cfg.StoreRetryAttempts); err != nil {
		return Config{}, err
	}
	if err := readInt(KeyMongoMaxPoolSize, &cfg.MongoMaxPoolSize); err != nil {
		return Config{}, err
	}
	if err := readDuration(KeySweepInterval, &cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if err := readDuration(KeyStoreRetryBackoff, &cfg.StoreRetryBackoff); err != nil {
		return Config{}, err
	}

	if err := validateBounds(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with secrets masked, suitable for
// printing during a config-only run.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + redactToken(cfg.TelegramToken),
		"bot_owner: " + strconv.FormatInt(cfg.BotOwnerID, 10),
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"sweep_interval: " + cfg.SweepInterval.String(),
		"reminder_days: " + strconv.Itoa(cfg.ReminderDays),
		"telegram_workers: " + strconv.Itoa(cfg.TelegramWorkers),
		"store_retry_attempts: " + strconv.Itoa(cfg.StoreRetryAttempts),
		"store_retry_backoff: " + cfg.StoreRetryBackoff.String(),
		"mongo_max_pool_size: " + strconv.Itoa(cfg.MongoMaxPoolSize),
	}

	return strings.Join(lines, "\n")
}

func readInt(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func readDuration(key string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func validateBounds(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func validateMongoURI(raw string) error {
	if !strings.HasPrefix(raw, "mongodb://") && !strings.HasPrefix(raw, "mongodb+srv://") {
		return fmt.Errorf("invalid %s: scheme must be mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}

	return nil
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "redacted"
	}

	return token[:4] + "...redacted"
}

func redactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}

	parsed.User = nil
	return parsed.String()
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
