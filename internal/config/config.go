// Package config loads runtime configuration from defaults, WIRED_* environment
// variables and an optional JSON file, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	dbconfig "wired/pkg/database"
)

const envPrefix = "WIRED_"

// A JSON-escaped code point takes at most 12 bytes (a \uXXXX surrogate pair).
const (
	maxEscapedRuneBytes = 12
	envelopeOverhead    = 1024
)

// Config is the root configuration.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Chat      *ChatConfig      `json:"chat"`
	Uploads   *UploadsConfig   `json:"uploads"`
	Session   *SessionConfig   `json:"session"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	MigrationsPath  string        `json:"migrations_path"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AuthRateLimit   float64       `json:"auth_rate_limit"`
	AuthRateBurst   int           `json:"auth_rate_burst"`
	StaticDir       string        `json:"static_dir"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxFrameBytes  int64         `json:"max_frame_bytes"`
	RequireSession bool          `json:"require_session"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

type ChatConfig struct {
	RoomCapacity      int           `json:"room_capacity"`
	MaxMessageLength  int           `json:"max_message_length"`
	RateLimitMessages int           `json:"rate_limit_messages"`
	RateLimitWindow   time.Duration `json:"rate_limit_window"`
	DefaultRooms      []string      `json:"default_rooms"`
}

type UploadsConfig struct {
	Dir          string `json:"dir"`
	URLPrefix    string `json:"url_prefix"`
	MaxFileBytes int64  `json:"max_file_bytes"`
	MaxImages    int    `json:"max_images"`
}

type SessionConfig struct {
	CookieName      string        `json:"cookie_name"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	SecureCookie    bool          `json:"secure_cookie"`
	BcryptCost      int           `json:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:            "./data/wired.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AuthRateLimit:   1,
			AuthRateBurst:   5,
			StaticDir:       "./public",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxFrameBytes:  1 << 20,
			RequireSession: true,
		},
		Chat: &ChatConfig{
			RoomCapacity:      20,
			MaxMessageLength:  5000,
			RateLimitMessages: 3,
			RateLimitWindow:   time.Second,
			DefaultRooms:      []string{"cyberia"},
		},
		Uploads: &UploadsConfig{
			Dir:          "./uploads",
			URLPrefix:    "/uploads/",
			MaxFileBytes: 5 << 20,
			MaxImages:    10,
		},
		Session: &SessionConfig{
			CookieName:      "wired_session",
			TTL:             24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
			BcryptCost:      10,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks every section for values the application cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Chat == nil ||
		c.Uploads == nil || c.Session == nil || c.Log == nil {
		return errors.New("all configuration sections are required")
	}

	if err := c.DatabaseConfig().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Port 0 binds an ephemeral port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.IdleTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.AuthRateLimit <= 0 || c.HTTP.AuthRateBurst <= 0 {
		return errors.New("HTTP auth rate limit and burst must be positive")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket intervals and timeouts must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than read timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if c.Chat.RoomCapacity <= 0 {
		return errors.New("chat room capacity must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return errors.New("chat max message length must be positive")
	}
	if c.Chat.RateLimitMessages <= 0 || c.Chat.RateLimitWindow <= 0 {
		return errors.New("chat rate limit must be positive")
	}
	if need := int64(c.Chat.MaxMessageLength)*maxEscapedRuneBytes + envelopeOverhead; c.WebSocket.MaxFrameBytes < need {
		return fmt.Errorf("WebSocket max frame bytes must be at least %d to carry a maximum length message", need)
	}

	if c.Uploads.Dir == "" || c.Uploads.URLPrefix == "" {
		return errors.New("uploads directory and URL prefix are required")
	}
	if c.Uploads.MaxFileBytes <= 0 || c.Uploads.MaxImages <= 0 {
		return errors.New("upload limits must be positive")
	}

	if c.Session.CookieName == "" {
		return errors.New("session cookie name cannot be empty")
	}
	if c.Session.TTL <= 0 || c.Session.CleanupInterval <= 0 {
		return errors.New("session TTL and cleanup interval must be positive")
	}
	if c.Session.BcryptCost < 4 || c.Session.BcryptCost > 31 {
		return errors.New("bcrypt cost must be between 4 and 31")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.New("log format must be console or json")
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// DatabaseConfig converts the database section for the storage layer.
func (c *Config) DatabaseConfig() *dbconfig.Config {
	return &dbconfig.Config{
		DatabasePath:    c.Database.Path,
		MaxConnections:  c.Database.MaxConnections,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		MigrationsPath:  c.Database.MigrationsPath,
	}
}

// LoadFromEnv applies WIRED_* variables over the defaults. Unparseable values
// keep the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("DATABASE_PATH", &c.Database.Path)
	envInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)
	envString("DATABASE_MIGRATIONS_PATH", &c.Database.MigrationsPath)

	envString("HTTP_HOST", &c.HTTP.Host)
	envInt("HTTP_PORT", &c.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	envString("HTTP_STATIC_DIR", &c.HTTP.StaticDir)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	envBool("WEBSOCKET_REQUIRE_SESSION", &c.WebSocket.RequireSession)
	envList("WEBSOCKET_ALLOWED_ORIGINS", &c.WebSocket.AllowedOrigins)

	envInt("CHAT_ROOM_CAPACITY", &c.Chat.RoomCapacity)
	envInt("CHAT_MAX_MESSAGE_LENGTH", &c.Chat.MaxMessageLength)
	envInt("CHAT_RATE_LIMIT_MESSAGES", &c.Chat.RateLimitMessages)
	envDuration("CHAT_RATE_LIMIT_WINDOW", &c.Chat.RateLimitWindow)
	envList("CHAT_DEFAULT_ROOMS", &c.Chat.DefaultRooms)

	envString("UPLOADS_DIR", &c.Uploads.Dir)
	envString("UPLOADS_URL_PREFIX", &c.Uploads.URLPrefix)

	envString("SESSION_COOKIE_NAME", &c.Session.CookieName)
	envDuration("SESSION_TTL", &c.Session.TTL)
	envBool("SESSION_SECURE_COOKIE", &c.Session.SecureCookie)
	envInt("SESSION_BCRYPT_COST", &c.Session.BcryptCost)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(key string, dst *[]string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// LoadFromFile applies a JSON file over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence builds the configuration as file > environment >
// defaults. An empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := file.apply(c); err != nil {
		return fmt.Errorf("invalid value in config file %s: %w", path, err)
	}
	return nil
}
