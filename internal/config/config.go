package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	AudioDir string `env:"AUDIO_DIR" envDefault:"./audio"`

	// Scanner bridge subprocess + socket.
	ScannerBinaryPath string        `env:"SCANNER_BINARY_PATH" envDefault:"./scanner-bridge"`
	ScannerListenPort int           `env:"SCANNER_LISTEN_PORT" envDefault:"3001"`
	ScannerSystems    []string      `env:"SCANNER_SYSTEMS" envSeparator:","`
	ScannerTalkgroups []int         `env:"SCANNER_TALKGROUPS" envSeparator:","`
	ScannerIdleRead   time.Duration `env:"SCANNER_IDLE_READ" envDefault:"60s"`

	// Speech-to-text.
	TranscribeProvider    string        `env:"TRANSCRIBE_PROVIDER" envDefault:"whisper"`
	TranscribeURL         string        `env:"TRANSCRIBE_URL" envDefault:"http://localhost:9000/v1/audio/transcriptions"`
	TranscribeModel       string        `env:"TRANSCRIBE_MODEL" envDefault:"Systran/faster-whisper-base.en"`
	TranscribeConcurrency int           `env:"TRANSCRIBE_CONCURRENCY" envDefault:"4"`
	TranscribeQueueSize   int           `env:"TRANSCRIBE_QUEUE_SIZE" envDefault:"1000"`
	TranscribeTimeout     time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"60s"`

	// Geocoding.
	GeocoderPrimary      string        `env:"GEOCODER_PRIMARY" envDefault:"https://nominatim.openstreetmap.org/search"`
	GeocoderFallback     string        `env:"GEOCODER_FALLBACK"`
	GeocoderJurisdiction string        `env:"GEOCODER_JURISDICTION" envDefault:"Indianapolis, IN"`
	GeocodeCacheTTL      time.Duration `env:"GEOCODE_CACHE_TTL" envDefault:"24h"`
	GeocodeNegativeTTL   time.Duration `env:"GEOCODE_NEGATIVE_TTL" envDefault:"1h"`

	// Call linking.
	LinkerWindow time.Duration `env:"LINKER_WINDOW" envDefault:"300s"`

	// Hospital conversation grouping. HOSPITAL_NAMES maps talkgroup to
	// display name, e.g. "3216:Methodist,3217:Riley".
	HospitalTalkgroups []int          `env:"HOSPITAL_TALKGROUPS" envSeparator:","`
	HospitalNames      map[int]string `env:"HOSPITAL_NAMES" envSeparator:"," envKeyValSeparator:":"`
	HospitalWindow     time.Duration  `env:"HOSPITAL_WINDOW" envDefault:"600s"`
	HospitalCloseIdle  time.Duration  `env:"HOSPITAL_CLOSE_IDLE" envDefault:"420s"`

	// Alerting.
	AlertScanInterval time.Duration `env:"ALERT_SCAN_INTERVAL" envDefault:"30s"`

	// Live hub.
	HubHeartbeat time.Duration `env:"HUB_HEARTBEAT" envDefault:"25s"`
	HubQueueSize int           `env:"HUB_QUEUE_SIZE" envDefault:"256"`

	// Post-processing.
	DictionaryPath string `env:"DICTIONARY_PATH"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	S3 S3Config
}

// S3Config enables the optional audio-blob archive tier when Bucket is set.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	AudioDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.RedisURL != "" {
		cfg.RedisURL = overrides.RedisURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}

	return cfg, nil
}

// IsHospitalTalkgroup reports whether tg is in the configured hospital set.
func (c *Config) IsHospitalTalkgroup(tg int) bool {
	for _, h := range c.HospitalTalkgroups {
		if h == tg {
			return true
		}
	}
	return false
}
