package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfig    = "CATALOG_CONFIG"
	EnvAddr      = "CATALOG_ADDR"
	EnvCardsDir  = "CATALOG_CARDS_DIR"
	EnvManualDir = "CATALOG_MANUAL_DIR"
	EnvTokenFile = "CATALOG_TOKEN_FILE"
	EnvURL       = "CATALOG_URL"
	EnvCAPath    = "CATALOG_CA_PATH"
	EnvWorkers   = "CATALOG_WORKERS"
	EnvFailFast  = "CATALOG_FAIL_FAST"
)

// Server configures the catalog server.
//
// Example (YAML):
//
//	addr: ":8080"
//	cards_dir: /srv/cards
//	manual_dir: /srv/manual
//	token_file: /run/secrets/catalog-token
//	shutdown_timeout: 10s
//	load:
//	  workers: 4
//	  fail_fast: false
type Server struct {
	Addr            string        `yaml:"addr"`
	CardsDir        string        `yaml:"cards_dir"`
	ManualDir       string        `yaml:"manual_dir"`
	TokenFile       string        `yaml:"token_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Load            LoadConfig    `yaml:"load"`

	// Token is read from TokenFile; never part of the file itself.
	Token string `yaml:"-"`
}

type LoadConfig struct {
	Workers  int  `yaml:"workers"`
	FailFast bool `yaml:"fail_fast"`
}

func defaultServer() Server {
	return Server{
		Addr:            ":8080",
		CardsDir:        "cards",
		ManualDir:       "manual",
		ShutdownTimeout: 10 * time.Second,
		Load:            LoadConfig{Workers: 4},
	}
}

// LoadServer reads the YAML file named by CATALOG_CONFIG (if set), then
// applies CATALOG_* env overrides and reads the token file.
func LoadServer() (Server, error) {
	cfg := defaultServer()
	if path := strings.TrimSpace(os.Getenv(EnvConfig)); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Server{}, fmt.Errorf("read %s file: %w", EnvConfig, err)
		}
		if err := ParseServer(b, &cfg); err != nil {
			return Server{}, err
		}
	}

	cfg.Addr = EnvString(EnvAddr, cfg.Addr)
	cfg.CardsDir = EnvString(EnvCardsDir, cfg.CardsDir)
	cfg.ManualDir = EnvString(EnvManualDir, cfg.ManualDir)
	cfg.TokenFile = EnvString(EnvTokenFile, cfg.TokenFile)

	var err error
	if cfg.Load.Workers, err = EnvInt(EnvWorkers, cfg.Load.Workers); err != nil {
		return Server{}, err
	}
	if cfg.Load.FailFast, err = EnvBool(EnvFailFast, cfg.Load.FailFast); err != nil {
		return Server{}, err
	}
	if cfg.Token, err = ReadTokenFile(EnvTokenFile, cfg.TokenFile); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// ParseServer decodes YAML into cfg, keeping values the document omits.
func ParseServer(b []byte, cfg *Server) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s YAML: %w", EnvConfig, err)
	}
	return nil
}

func (s Server) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("addr is required")
	}
	if strings.TrimSpace(s.CardsDir) == "" {
		return errors.New("cards_dir is required")
	}
	if s.Load.Workers < 0 {
		return fmt.Errorf("load.workers must be >= 0, got %d", s.Load.Workers)
	}
	return nil
}

// Client configures catalog API consumers.
type Client struct {
	BaseURL string
	Token   string
	CAPath  string
}

// LoadClient reads CATALOG_URL, CATALOG_TOKEN_FILE and CATALOG_CA_PATH. A base
// URL without a scheme gets https.
func LoadClient() (Client, error) {
	raw := EnvString(EnvURL, "")
	if raw == "" {
		return Client{}, fmt.Errorf("%s is required", EnvURL)
	}
	base, err := NormalizeURL(raw)
	if err != nil {
		return Client{}, err
	}
	token, err := ReadTokenFile(EnvTokenFile, os.Getenv(EnvTokenFile))
	if err != nil {
		return Client{}, err
	}
	return Client{BaseURL: base, Token: token, CAPath: EnvString(EnvCAPath, "")}, nil
}

func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("catalog URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse catalog URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("catalog URL %q has no host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

const (
	EnvGeminiAPIKey  = "GEMINI_API_KEY"
	EnvGeminiModel   = "GEMINI_MODEL"
	EnvGeminiBaseURL = "GEMINI_BASE_URL"

	EnvMaxRetries     = "CATALOG_MAX_RETRIES"
	EnvRequestTimeout = "CATALOG_REQUEST_TIMEOUT"
	EnvRateLimitRPS   = "CATALOG_RATE_LIMIT_RPS"
)

// Gemini configures the summarization baseline.
type Gemini struct {
	APIKey  string
	Model   string
	BaseURL string
}

// LoadGemini reads GEMINI_API_KEY, GEMINI_MODEL and GEMINI_BASE_URL. The model
// may be supplied later by a flag, so only the key is required here.
func LoadGemini() (Gemini, error) {
	apiKey := EnvString(EnvGeminiAPIKey, "")
	if apiKey == "" {
		return Gemini{}, fmt.Errorf("%s is required", EnvGeminiAPIKey)
	}
	return Gemini{
		APIKey:  apiKey,
		Model:   EnvString(EnvGeminiModel, ""),
		BaseURL: EnvString(EnvGeminiBaseURL, ""),
	}, nil
}

// Batch holds worker pool settings for per-example model calls.
type Batch struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool
}

// LoadBatch reads CATALOG_WORKERS, CATALOG_MAX_RETRIES, CATALOG_REQUEST_TIMEOUT,
// CATALOG_RATE_LIMIT_RPS and CATALOG_FAIL_FAST over conservative defaults.
func LoadBatch() (Batch, error) {
	b := Batch{Workers: 4, MaxRetries: 3, RequestTimeout: 60 * time.Second, RateLimitRPS: 2}
	var err error
	if b.Workers, err = EnvInt(EnvWorkers, b.Workers); err != nil {
		return Batch{}, err
	}
	if b.MaxRetries, err = EnvInt(EnvMaxRetries, b.MaxRetries); err != nil {
		return Batch{}, err
	}
	if b.RequestTimeout, err = EnvDuration(EnvRequestTimeout, b.RequestTimeout); err != nil {
		return Batch{}, err
	}
	if b.RateLimitRPS, err = EnvFloat(EnvRateLimitRPS, b.RateLimitRPS); err != nil {
		return Batch{}, err
	}
	if b.FailFast, err = EnvBool(EnvFailFast, b.FailFast); err != nil {
		return Batch{}, err
	}
	if b.Workers <= 0 {
		return Batch{}, fmt.Errorf("%s must be > 0, got %d", EnvWorkers, b.Workers)
	}
	if b.MaxRetries < 0 {
		return Batch{}, fmt.Errorf("%s must be >= 0, got %d", EnvMaxRetries, b.MaxRetries)
	}
	return b, nil
}
