package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPredictURL     = "http://localhost:8000/predict"
	DefaultHTTPAddr       = ":8080"
	DefaultMaxUploadBytes = 10 * 1024 * 1024
	DefaultPreviewMaxSide = 512
)

type Config struct {
	PredictURL     string        `yaml:"predict_url"`
	PredictTimeout time.Duration `yaml:"predict_timeout"` // 0 без ограничения
	HTTPAddr       string        `yaml:"http_addr"`
	TelegramToken  string        `yaml:"telegram_token"` // пустой: бот выключен
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	PreviewMaxSide int           `yaml:"preview_max_side"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		PredictURL:     DefaultPredictURL,
		HTTPAddr:       DefaultHTTPAddr,
		MaxUploadBytes: DefaultMaxUploadBytes,
		PreviewMaxSide: DefaultPreviewMaxSide,
	}
}

// Load собирает конфигурацию: значения по умолчанию, YAML-файл, переменные окружения.
// Если path пустой, берётся из CONFIG_FILE, если задан.
func Load(path string) (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PREDICT_URL"); v != "" {
		c.PredictURL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.TelegramToken = v
	}
	if v := os.Getenv("PREDICT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PREDICT_TIMEOUT: %w", err)
		}
		c.PredictTimeout = d
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v := os.Getenv("PREVIEW_MAX_SIDE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PREVIEW_MAX_SIDE: %w", err)
		}
		c.PreviewMaxSide = n
	}
	return nil
}

// Validate проверяет значения конфигурации
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.PredictURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid predict_url %q", c.PredictURL)
	}
	if c.PredictTimeout < 0 {
		return fmt.Errorf("predict_timeout must be non-negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be greater than 0")
	}
	if c.PreviewMaxSide <= 0 {
		return fmt.Errorf("preview_max_side must be greater than 0")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http_addr is required")
	}
	return nil
}
