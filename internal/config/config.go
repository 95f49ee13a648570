package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/hkdf"
)

// Config holds all configuration for the WildID server.
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string
	BaseURL     string

	// SecretKey signs sessions and auth tokens. EphemeralSecret is set when no
	// key was configured and a random one was generated for this process.
	SecretKey       string
	EphemeralSecret bool

	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL string

	// Abuse mitigation
	RateLimitWindow      time.Duration
	MaxRequestsPerWindow int
	CaptchaTimeout       time.Duration
	CaptchaMaxAttempts   int
	BrowserTrustDuration time.Duration
	LoginRateLimit       int

	// Sessions and auth
	SessionLifetime     time.Duration
	SessionCookieSecure bool
	LoginTokenTTL       time.Duration
	AuthTokenTTL        time.Duration
	AfterLoginPath      string
	TrustProxyHeaders   bool
	AllowedOrigins      []string

	// Uploads
	AllowedExtensions []string
	MaxContentLength  int64
	MaxImagePixels    int64
	UploadFolder      string
	StoreImages       bool

	// Classifier
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	ClassifierTimeout time.Duration

	// Mail
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	MailDefaultSender string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("app_base_url", "http://localhost:8080")
	v.SetDefault("secret_key", "")

	v.SetDefault("database_url", "")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "postgres")
	v.SetDefault("db_name", "wildid")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("nats_url", "")

	v.SetDefault("rate_limit_window", 3600)
	v.SetDefault("max_requests_per_window", 2)
	v.SetDefault("captcha_timeout", 300)
	v.SetDefault("captcha_max_attempts", 3)
	v.SetDefault("browser_trust_duration", 30*24*3600)
	v.SetDefault("login_rate_limit", 5)

	v.SetDefault("session_lifetime", 30*24*3600)
	v.SetDefault("session_cookie_secure", false)
	v.SetDefault("login_token_ttl", 900)
	v.SetDefault("auth_token_ttl", 7*24*3600)
	v.SetDefault("after_login_path", "/")
	v.SetDefault("trust_proxy_headers", false)
	v.SetDefault("allowed_origins", "")

	v.SetDefault("allowed_extensions", "png,jpg,jpeg,gif,bmp,webp")
	v.SetDefault("max_content_length", 16*1024*1024)
	v.SetDefault("max_image_pixels", 89478485)
	v.SetDefault("upload_folder", "")
	v.SetDefault("store_images", true)

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", "gpt-4o")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("gemini_base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("classifier_timeout", 30)

	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("mail_default_sender", "noreply@wildid.local")
}

// Load reads configuration from .env, an optional config/config.yaml and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return Parse(v)
}

// Parse builds a Config from an already populated viper instance.
func Parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: strings.ToLower(v.GetString("environment")),
		ServerPort:  v.GetInt("server_port"),
		LogLevel:    v.GetString("log_level"),
		BaseURL:     strings.TrimRight(v.GetString("app_base_url"), "/"),
		SecretKey:   v.GetString("secret_key"),

		DatabaseURL: v.GetString("database_url"),
		DBHost:      v.GetString("db_host"),
		DBPort:      v.GetInt("db_port"),
		DBUser:      v.GetString("db_user"),
		DBPassword:  v.GetString("db_password"),
		DBName:      v.GetString("db_name"),
		DBSSLMode:   v.GetString("db_sslmode"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		NATSURL:       v.GetString("nats_url"),

		RateLimitWindow:      seconds(v, "rate_limit_window"),
		MaxRequestsPerWindow: v.GetInt("max_requests_per_window"),
		CaptchaTimeout:       seconds(v, "captcha_timeout"),
		CaptchaMaxAttempts:   v.GetInt("captcha_max_attempts"),
		BrowserTrustDuration: seconds(v, "browser_trust_duration"),
		LoginRateLimit:       v.GetInt("login_rate_limit"),

		SessionLifetime:     seconds(v, "session_lifetime"),
		SessionCookieSecure: v.GetBool("session_cookie_secure"),
		LoginTokenTTL:       seconds(v, "login_token_ttl"),
		AuthTokenTTL:        seconds(v, "auth_token_ttl"),
		AfterLoginPath:      v.GetString("after_login_path"),
		TrustProxyHeaders:   v.GetBool("trust_proxy_headers"),
		AllowedOrigins:      splitList(v.GetString("allowed_origins"), false),

		AllowedExtensions: splitList(v.GetString("allowed_extensions"), true),
		MaxContentLength:  v.GetInt64("max_content_length"),
		MaxImagePixels:    v.GetInt64("max_image_pixels"),
		UploadFolder:      v.GetString("upload_folder"),
		StoreImages:       v.GetBool("store_images"),

		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIModel:       v.GetString("openai_model"),
		OpenAIBaseURL:     strings.TrimRight(v.GetString("openai_base_url"), "/"),
		GeminiAPIKey:      v.GetString("gemini_api_key"),
		GeminiModel:       v.GetString("gemini_model"),
		GeminiBaseURL:     strings.TrimRight(v.GetString("gemini_base_url"), "/"),
		ClassifierTimeout: seconds(v, "classifier_timeout"),

		SMTPHost:          v.GetString("smtp_host"),
		SMTPPort:          v.GetInt("smtp_port"),
		SMTPUsername:      v.GetString("smtp_username"),
		SMTPPassword:      v.GetString("smtp_password"),
		MailDefaultSender: v.GetString("mail_default_sender"),
	}

	if cfg.SecretKey == "" {
		if cfg.IsProduction() {
			return nil, errors.New("SECRET_KEY must be set in production")
		}
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral secret: %w", err)
		}
		cfg.SecretKey = secret
		cfg.EphemeralSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ServerPort <= 0:
		return fmt.Errorf("invalid SERVER_PORT: %d", c.ServerPort)
	case c.MaxRequestsPerWindow <= 0:
		return fmt.Errorf("invalid MAX_REQUESTS_PER_WINDOW: %d", c.MaxRequestsPerWindow)
	case c.RateLimitWindow <= 0:
		return errors.New("RATE_LIMIT_WINDOW must be positive")
	case c.CaptchaTimeout <= 0:
		return errors.New("CAPTCHA_TIMEOUT must be positive")
	case c.CaptchaMaxAttempts <= 0:
		return fmt.Errorf("invalid CAPTCHA_MAX_ATTEMPTS: %d", c.CaptchaMaxAttempts)
	case c.BrowserTrustDuration <= 0:
		return errors.New("BROWSER_TRUST_DURATION must be positive")
	case c.LoginTokenTTL <= 0:
		return errors.New("LOGIN_TOKEN_TTL must be positive")
	case c.MaxContentLength <= 0:
		return fmt.Errorf("invalid MAX_CONTENT_LENGTH: %d", c.MaxContentLength)
	case c.MaxImagePixels <= 0:
		return fmt.Errorf("invalid MAX_IMAGE_PIXELS: %d", c.MaxImagePixels)
	case len(c.AllowedExtensions) == 0:
		return errors.New("ALLOWED_EXTENSIONS must not be empty")
	case c.IsProduction() && strings.HasPrefix(c.BaseURL, "https://") && !c.SessionCookieSecure:
		return errors.New("SESSION_COOKIE_SECURE must be enabled when serving over https")
	}
	return nil
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}

func splitList(raw string, lower bool) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(strings.TrimPrefix(part, "."))
		}
		out = append(out, part)
	}
	return out
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DeriveKey expands SecretKey into an n-byte key bound to purpose, so the
// session and auth-token keys never coincide.
func (c *Config) DeriveKey(purpose string, n int) []byte {
	key := make([]byte, n)
	r := hkdf.New(sha256.New, []byte(c.SecretKey), nil, []byte("wildid:"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return key
}
