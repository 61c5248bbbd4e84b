package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr     string
	DBPath         string
	BackendURL     string
	ImageAPIURL    string
	BigBaseURL     string
	ThumbBaseURL   string
	NoImageURL     string
	BackendTimeout time.Duration
	ArtifactPath   string
	LogLevel       string
	LogFormat      string
	LogFile        string
	RequestedBy    string
	DefaultWidth   int
	DefaultHeight  int
	VariantMax     int
	VariantRPS     float64
	FormTTL        time.Duration
	FormMax        int
}

// Load reads the configuration from the environment. Variables from envFile
// are applied first without overriding ones already set; a missing envFile
// is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DBPath:         getEnv("DB_PATH", "/data/tileconsole.db"),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:3000/api"),
		ImageAPIURL:    getEnv("IMAGE_API_URL", ""),
		BigBaseURL:     getEnv("BIG_BASE_URL", "http://localhost:3000/assets/media/big/"),
		ThumbBaseURL:   getEnv("THUMB_BASE_URL", "http://localhost:3000/assets/media/thumb/"),
		NoImageURL:     getEnv("NO_IMAGE_URL", "http://localhost:3000/assets/media/no-image.jpg"),
		BackendTimeout: p.duration("BACKEND_TIMEOUT", 60*time.Second),
		ArtifactPath:   getEnv("ARTIFACT_PATH", "/data/artifacts"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogFile:        getEnv("LOG_FILE", ""),
		RequestedBy:    getEnv("REQUESTED_BY", "admin"),
		DefaultWidth:   p.integer("DEFAULT_WIDTH", 800),
		DefaultHeight:  p.integer("DEFAULT_HEIGHT", 600),
		VariantMax:     p.integer("VARIANT_MAX", 50),
		VariantRPS:     p.float("VARIANT_RPS", 10),
		FormTTL:        p.duration("FORM_TTL", time.Hour),
		FormMax:        p.integer("FORM_MAX", 64),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	p.err = errors.Join(p.err, fmt.Errorf("invalid %s %q: %w", key, val, err))
}

func (p *parser) integer(key string, defaultVal int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return n
}

func (p *parser) float(key string, defaultVal float64) float64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return f
}

func (p *parser) duration(key string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, val, err)
		return defaultVal
	}
	return d
}
