package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	cleanenvport "github.com/wb-go/wbf/config/cleanenv-port"
)

var ErrConfigPathNotSet = cleanenvport.ErrConfigPathNotSet

type (
	Config struct {
		App        App        `yaml:"app"        env-prefix:"APP_"`
		HTTP       HTTP       `yaml:"http"       env-prefix:"HTTP_"`
		Database   Database   `yaml:"database"   env-prefix:"DB_"`
		Redis      Redis      `yaml:"redis"      env-prefix:"REDIS_"`
		Rabbit     Rabbit     `yaml:"rabbit"     env-prefix:"RABBIT_"`
		SMTP       SMTP       `yaml:"smtp"       env-prefix:"SMTP_"`
		Resend     Resend     `yaml:"resend"     env-prefix:"RESEND_"`
		Twilio     Twilio     `yaml:"twilio"     env-prefix:"TWILIO_"`
		Wuzapi     Wuzapi     `yaml:"wuzapi"     env-prefix:"WUZAPI_"`
		Auth       Auth       `yaml:"auth"       env-prefix:"AUTH_"`
		Service    Service    `yaml:"service"    env-prefix:"SERVICE_"`
		Dispatcher Dispatcher `yaml:"dispatcher" env-prefix:"DISPATCHER_"`
		RateLimit  RateLimit  `yaml:"rate_limit" env-prefix:"RATE_LIMIT_"`
		Metrics    Metrics    `yaml:"metrics"    env-prefix:"METRICS_"`
		Logger     Logger     `yaml:"logger"     env-prefix:"LOGGER_"`
		Env        string     `yaml:"env"        env:"ENV" env-default:"local" validate:"oneof=local dev staging prod"`
	}

	App struct {
		Name    string `yaml:"name"    env:"NAME"    validate:"required" env-default:"prayerflow"`
		Version string `yaml:"version" env:"VERSION" validate:"required" env-default:"dev"`
	}

	HTTP struct {
		Host              string        `yaml:"host"                env:"HOST"                validate:"required"         env-default:"0.0.0.0"`
		Port              string        `yaml:"port"                env:"PORT"                validate:"required,numeric" env-default:"8080"`
		ReadTimeout       time.Duration `yaml:"read_timeout"        env:"READ_TIMEOUT"        validate:"gte=10ms,lte=30s" env-default:"5s"`
		WriteTimeout      time.Duration `yaml:"write_timeout"       env:"WRITE_TIMEOUT"       validate:"gte=10ms,lte=60s" env-default:"35s"`
		IdleTimeout       time.Duration `yaml:"idle_timeout"        env:"IDLE_TIMEOUT"        validate:"gte=10ms,lte=5m"  env-default:"60s"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SHUTDOWN_TIMEOUT"    validate:"gte=10ms,lte=30s" env-default:"10s"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" validate:"gte=10ms,lte=30s" env-default:"5s"`
		CORSOrigins       []string      `yaml:"cors_origins"        env:"CORS_ORIGINS"        env-separator:","`
	}

	Database struct {
		DSN            string        `yaml:"dsn"              env:"DSN"              validate:"required"`
		PoolMax        int32         `yaml:"pool_max"         env:"POOL_MAX"         validate:"min=1,max=200"       env-default:"10"`
		ConnAttempts   int           `yaml:"conn_attempts"    env:"CONN_ATTEMPTS"    validate:"min=1,max=20"        env-default:"5"`
		BaseRetryDelay time.Duration `yaml:"base_retry_delay" env:"BASE_RETRY_DELAY" validate:"gte=10ms,lte=10s"    env-default:"200ms"`
		MaxRetryDelay  time.Duration `yaml:"max_retry_delay"  env:"MAX_RETRY_DELAY"  validate:"gtefield=BaseRetryDelay" env-default:"5s"`
	}

	Redis struct {
		Addr        string        `yaml:"addr"         env:"ADDR"         validate:"required"         env-default:"localhost:6379"`
		Password    string        `yaml:"password"     env:"PASSWORD"`
		DB          int           `yaml:"db"           env:"DB"           validate:"min=0,max=15"     env-default:"0"`
		PoolSize    int           `yaml:"pool_size"    env:"POOL_SIZE"    validate:"min=1,max=100"    env-default:"20"`
		MinIdleCons int           `yaml:"min_idle_cons" env:"MIN_IDLE_CONS" validate:"min=0,max=100" env-default:"5"`
		PoolTimeout time.Duration `yaml:"pool_timeout" env:"POOL_TIMEOUT" validate:"gte=10ms,lte=10s" env-default:"100ms"`
		CacheTTL    time.Duration `yaml:"cache_ttl"    env:"CACHE_TTL"    validate:"gte=1s,lte=24h"   env-default:"5m"`
		GuardTTL    time.Duration `yaml:"guard_ttl"    env:"GUARD_TTL"    validate:"gte=1m,lte=720h"  env-default:"72h"`
	}

	Rabbit struct {
		Enabled        bool          `yaml:"enabled"         env:"ENABLED"         env-default:"false"`
		URL            string        `yaml:"url"             env:"URL"             validate:"required_if=Enabled true"`
		ConnectionName string        `yaml:"connection_name" env:"CONNECTION_NAME" env-default:"prayerflow"`
		Exchange       string        `yaml:"exchange"        env:"EXCHANGE"        env-default:"prayerflow.events"`
		Heartbeat      time.Duration `yaml:"heartbeat"       env:"HEARTBEAT"       validate:"gte=1s,lte=5m"   env-default:"10s"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT" validate:"gte=100ms,lte=1m" env-default:"10s"`
		Attempts       int           `yaml:"attempts"        env:"ATTEMPTS"        validate:"min=1,max=20"    env-default:"3"`
		RetryDelay     time.Duration `yaml:"retry_delay"     env:"RETRY_DELAY"     validate:"gte=10ms,lte=1m" env-default:"200ms"`
		// PublishTimeout bounds one event publish including its retries.
		PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT" validate:"gte=100ms,lte=30s" env-default:"2s"`
	}

	SMTP struct {
		Host     string `yaml:"host"     env:"HOST"`
		Port     int    `yaml:"port"     env:"PORT"     validate:"gte=1,lte=65535" env-default:"587"`
		Username string `yaml:"username" env:"USERNAME"`
		Password string `yaml:"password" env:"PASSWORD"`
		From     string `yaml:"from"     env:"FROM"     validate:"required_with=Host"`
	}

	Resend struct {
		APIKey string `yaml:"api_key" env:"API_KEY"`
		From   string `yaml:"from"    env:"FROM"    validate:"required_with=APIKey"`
	}

	Twilio struct {
		AccountSID   string `yaml:"account_sid"   env:"ACCOUNT_SID"`
		AuthToken    string `yaml:"auth_token"    env:"AUTH_TOKEN"    validate:"required_with=AccountSID"`
		FromNumber   string `yaml:"from_number"   env:"FROM_NUMBER"   validate:"required_with=AccountSID"`
		WhatsAppFrom string `yaml:"whatsapp_from" env:"WHATSAPP_FROM"`
	}

	Wuzapi struct {
		BaseURL string        `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
		Token   string        `yaml:"token"    env:"TOKEN"    validate:"required_with=BaseURL"`
		Timeout time.Duration `yaml:"timeout"  env:"TIMEOUT"  validate:"gte=100ms,lte=1m" env-default:"10s"`
	}

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required,min=16"`
		Issuer    string        `yaml:"issuer"     env:"ISSUER"`
		Leeway    time.Duration `yaml:"leeway"     env:"LEEWAY"     validate:"gte=0,lte=5m" env-default:"30s"`
	}

	Service struct {
		BatchSize        int           `yaml:"batch_size"         env:"BATCH_SIZE"         validate:"min=1,max=1000"    env-default:"50"`
		MaxRetries       int           `yaml:"max_retries"        env:"MAX_RETRIES"        validate:"min=1,max=20"      env-default:"3"`
		BaseRetryDelay   time.Duration `yaml:"base_retry_delay"   env:"BASE_RETRY_DELAY"   validate:"gte=1s,lte=24h"    env-default:"5m"`
		MinApprovalDelay time.Duration `yaml:"min_approval_delay" env:"MIN_APPROVAL_DELAY" validate:"gte=0,lte=72h"     env-default:"1h"`
		MaxApprovalDelay time.Duration `yaml:"max_approval_delay" env:"MAX_APPROVAL_DELAY" validate:"gtefield=MinApprovalDelay,lte=72h" env-default:"4h"`
		DefaultTemplate  string        `yaml:"default_template"   env:"DEFAULT_TEMPLATE"`
	}

	Dispatcher struct {
		Enabled  bool          `yaml:"enabled"  env:"ENABLED"  env-default:"true"`
		Interval time.Duration `yaml:"interval" env:"INTERVAL" validate:"gte=1s,lte=1h" env-default:"30s"`
	}

	RateLimit struct {
		Enabled  bool          `yaml:"enabled"  env:"ENABLED"  env-default:"true"`
		Requests int64         `yaml:"requests" env:"REQUESTS" validate:"min=1"          env-default:"30"`
		Window   time.Duration `yaml:"window"   env:"WINDOW"   validate:"gte=1s,lte=24h" env-default:"1m"`
	}

	Metrics struct {
		Enabled           bool          `yaml:"enabled"             env:"ENABLED"             env-default:"true"`
		Host              string        `yaml:"host"                env:"HOST"                validate:"required"         env-default:"0.0.0.0"`
		Port              string        `yaml:"port"                env:"PORT"                validate:"required,numeric" env-default:"9090"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" validate:"gte=10ms,lte=30s" env-default:"5s"`
	}

	Logger struct {
		Level      string `yaml:"level"       env:"LEVEL"       env-default:"info" validate:"oneof=debug info warn error"`
		Filename   string `yaml:"filename"    env:"FILENAME"`
		MaxSize    int    `yaml:"max_size"    env:"MAX_SIZE"    env-default:"100"  validate:"min=1,max=1000"`
		MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS" env-default:"3"    validate:"min=0,max=20"`
		MaxAge     int    `yaml:"max_age"     env:"MAX_AGE"     env-default:"28"   validate:"min=1,max=365"`
	}
)

// Load reads path, or CONFIG_PATH when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return nil, ErrConfigPathNotSet
	}
	return LoadPath(path)
}

// LoadPath reads the file, applies env overrides and validates the result.
func LoadPath(configPath string) (*Config, error) {
	var cfg Config
	if err := cleanenvport.LoadPath(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("config.LoadPath: %w", err)
	}
	return &cfg, nil
}

// Describe lists every environment variable the config understands.
func Describe() (string, error) {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return "", fmt.Errorf("config.Describe: %w", err)
	}
	return desc, nil
}
