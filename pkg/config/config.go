package config

import "time"

// Config is the root configuration shared by the services.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Local   LocalConfig   `yaml:"local"`
	Remote  RemoteConfig  `yaml:"remote"`
	Storage StorageConfig `yaml:"storage"`
	Caption CaptionConfig `yaml:"caption"`
	Geo     GeoConfig     `yaml:"geo"`
	Auth    AuthConfig    `yaml:"auth"`
	Sync    SyncConfig    `yaml:"sync"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES" env-default:"10485760"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// LocalConfig selects the device-local key-value backend.
type LocalConfig struct {
	Backend         string `yaml:"backend"          env:"LOCAL_BACKEND"          env-default:"sqlite"`
	SQLitePath      string `yaml:"sqlite_path"      env:"LOCAL_SQLITE_PATH"      env-default:"./data/local.db"`
	MongoURI        string `yaml:"mongo_uri"        env:"LOCAL_MONGO_URI"        env-default:"mongodb://localhost:27017"`
	MongoDatabase   string `yaml:"mongo_database"   env:"LOCAL_MONGO_DATABASE"   env-default:"civic_local"`
	MongoCollection string `yaml:"mongo_collection" env:"LOCAL_MONGO_COLLECTION" env-default:"kv"`
}

// RemoteConfig holds the two credentials that switch the remote backend on.
type RemoteConfig struct {
	DatabaseDSN     string `yaml:"database_dsn"     env:"REMOTE_DATABASE_DSN"`
	BrokerURL       string `yaml:"broker_url"       env:"REMOTE_BROKER_URL"`
	Exchange        string `yaml:"exchange"         env:"REMOTE_EXCHANGE"         env-default:"report_changes"`
	DispatcherQueue string `yaml:"dispatcher_queue" env:"REMOTE_DISPATCHER_QUEUE" env-default:"dispatcher"`
	AutoMigrate     bool   `yaml:"auto_migrate"     env:"REMOTE_AUTO_MIGRATE"     env-default:"true"`
}

// Enabled reports whether both remote credentials are present.
func (c RemoteConfig) Enabled() bool {
	return c.DatabaseDSN != "" && c.BrokerURL != ""
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"        env:"MINIO_ENDPOINT"        env-default:"localhost:9000"`
	AccessKey     string `yaml:"access_key"      env:"MINIO_ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key"      env:"MINIO_SECRET_KEY"`
	Bucket        string `yaml:"bucket"          env:"MINIO_BUCKET"          env-default:"reports"`
	UseSSL        bool   `yaml:"use_ssl"         env:"MINIO_USE_SSL"         env-default:"false"`
	PublicBaseURL string `yaml:"public_base_url" env:"MINIO_PUBLIC_BASE_URL"`
}

func (c StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}

// CaptionConfig enables the photo/description check when APIKey is set.
type CaptionConfig struct {
	APIKey   string        `yaml:"api_key"  env:"CAPTION_API_KEY"`
	Endpoint string        `yaml:"endpoint" env:"CAPTION_ENDPOINT" env-default:"https://api-inference.huggingface.co/models/Salesforce/blip-image-captioning-large"`
	Timeout  time.Duration `yaml:"timeout"  env:"CAPTION_TIMEOUT"  env-default:"12s"`
}

func (c CaptionConfig) Enabled() bool { return c.APIKey != "" }

type GeoConfig struct {
	BaseURL   string `yaml:"base_url"   env:"GEO_BASE_URL"   env-default:"https://nominatim.openstreetmap.org"`
	UserAgent string `yaml:"user_agent" env:"GEO_USER_AGENT" env-default:"civic-reporting/1.0"`
}

// DevJWTSecret is the built-in signing key. It is public, so deployments
// must override AUTH_JWT_SECRET.
const DevJWTSecret = "local-development-secret-change-me"

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-default:"local-development-secret-change-me"`
	TokenTTL  time.Duration `yaml:"token_ttl"  env:"AUTH_TOKEN_TTL"  env-default:"24h"`
}

func (a AuthConfig) UsesDevSecret() bool { return a.JWTSecret == DevJWTSecret }

type SyncConfig struct {
	DetailPollInterval time.Duration `yaml:"detail_poll_interval" env:"SYNC_DETAIL_POLL_INTERVAL" env-default:"10s"`
	FeedPageSize       int           `yaml:"feed_page_size"       env:"SYNC_FEED_PAGE_SIZE"       env-default:"10"`
	RetentionDays      int           `yaml:"retention_days"       env:"SYNC_RETENTION_DAYS"       env-default:"30"`
}

// Retention is how long resolved reports stay visible.
func (s SyncConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}
