package config

import (
	"fmt"
	"time"
)

// configFile mirrors Config for JSON input. Durations are strings such as
// "30s"; absent fields leave the current value untouched.
type configFile struct {
	Database *struct {
		Path            *string `json:"path"`
		MaxConnections  *int    `json:"max_connections"`
		ConnMaxLifetime *string `json:"conn_max_lifetime"`
		ConnMaxIdleTime *string `json:"conn_max_idle_time"`
		MigrationsPath  *string `json:"migrations_path"`
	} `json:"database"`

	HTTP *struct {
		Host            *string  `json:"host"`
		Port            *int     `json:"port"`
		ReadTimeout     *string  `json:"read_timeout"`
		WriteTimeout    *string  `json:"write_timeout"`
		IdleTimeout     *string  `json:"idle_timeout"`
		ShutdownTimeout *string  `json:"shutdown_timeout"`
		AuthRateLimit   *float64 `json:"auth_rate_limit"`
		AuthRateBurst   *int     `json:"auth_rate_burst"`
		StaticDir       *string  `json:"static_dir"`
	} `json:"http"`

	WebSocket *struct {
		PingInterval   *string  `json:"ping_interval"`
		ReadTimeout    *string  `json:"read_timeout"`
		WriteTimeout   *string  `json:"write_timeout"`
		BufferSize     *int     `json:"buffer_size"`
		MaxFrameBytes  *int64   `json:"max_frame_bytes"`
		RequireSession *bool    `json:"require_session"`
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"websocket"`

	Chat *struct {
		RoomCapacity      *int     `json:"room_capacity"`
		MaxMessageLength  *int     `json:"max_message_length"`
		RateLimitMessages *int     `json:"rate_limit_messages"`
		RateLimitWindow   *string  `json:"rate_limit_window"`
		DefaultRooms      []string `json:"default_rooms"`
	} `json:"chat"`

	Uploads *struct {
		Dir          *string `json:"dir"`
		URLPrefix    *string `json:"url_prefix"`
		MaxFileBytes *int64  `json:"max_file_bytes"`
		MaxImages    *int    `json:"max_images"`
	} `json:"uploads"`

	Session *struct {
		CookieName      *string `json:"cookie_name"`
		TTL             *string `json:"ttl"`
		CleanupInterval *string `json:"cleanup_interval"`
		SecureCookie    *bool   `json:"secure_cookie"`
		BcryptCost      *int    `json:"bcrypt_cost"`
	} `json:"session"`

	Log *struct {
		Level  *string `json:"level"`
		Format *string `json:"format"`
	} `json:"log"`
}

func (f *configFile) apply(c *Config) error {
	var err error
	set := func(field string, src *string, dst *time.Duration) {
		if err != nil || src == nil {
			return
		}
		d, perr := time.ParseDuration(*src)
		if perr != nil {
			err = fmt.Errorf("%s: %w", field, perr)
			return
		}
		*dst = d
	}

	if s := f.Database; s != nil {
		setValue(s.Path, &c.Database.Path)
		setValue(s.MaxConnections, &c.Database.MaxConnections)
		setValue(s.MigrationsPath, &c.Database.MigrationsPath)
		set("database.conn_max_lifetime", s.ConnMaxLifetime, &c.Database.ConnMaxLifetime)
		set("database.conn_max_idle_time", s.ConnMaxIdleTime, &c.Database.ConnMaxIdleTime)
	}

	if s := f.HTTP; s != nil {
		setValue(s.Host, &c.HTTP.Host)
		setValue(s.Port, &c.HTTP.Port)
		setValue(s.AuthRateLimit, &c.HTTP.AuthRateLimit)
		setValue(s.AuthRateBurst, &c.HTTP.AuthRateBurst)
		setValue(s.StaticDir, &c.HTTP.StaticDir)
		set("http.read_timeout", s.ReadTimeout, &c.HTTP.ReadTimeout)
		set("http.write_timeout", s.WriteTimeout, &c.HTTP.WriteTimeout)
		set("http.idle_timeout", s.IdleTimeout, &c.HTTP.IdleTimeout)
		set("http.shutdown_timeout", s.ShutdownTimeout, &c.HTTP.ShutdownTimeout)
	}

	if s := f.WebSocket; s != nil {
		setValue(s.BufferSize, &c.WebSocket.BufferSize)
		setValue(s.MaxFrameBytes, &c.WebSocket.MaxFrameBytes)
		setValue(s.RequireSession, &c.WebSocket.RequireSession)
		if s.AllowedOrigins != nil {
			c.WebSocket.AllowedOrigins = s.AllowedOrigins
		}
		set("websocket.ping_interval", s.PingInterval, &c.WebSocket.PingInterval)
		set("websocket.read_timeout", s.ReadTimeout, &c.WebSocket.ReadTimeout)
		set("websocket.write_timeout", s.WriteTimeout, &c.WebSocket.WriteTimeout)
	}

	if s := f.Chat; s != nil {
		setValue(s.RoomCapacity, &c.Chat.RoomCapacity)
		setValue(s.MaxMessageLength, &c.Chat.MaxMessageLength)
		setValue(s.RateLimitMessages, &c.Chat.RateLimitMessages)
		if s.DefaultRooms != nil {
			c.Chat.DefaultRooms = s.DefaultRooms
		}
		set("chat.rate_limit_window", s.RateLimitWindow, &c.Chat.RateLimitWindow)
	}

	if s := f.Uploads; s != nil {
		setValue(s.Dir, &c.Uploads.Dir)
		setValue(s.URLPrefix, &c.Uploads.URLPrefix)
		setValue(s.MaxFileBytes, &c.Uploads.MaxFileBytes)
		setValue(s.MaxImages, &c.Uploads.MaxImages)
	}

	if s := f.Session; s != nil {
		setValue(s.CookieName, &c.Session.CookieName)
		setValue(s.SecureCookie, &c.Session.SecureCookie)
		setValue(s.BcryptCost, &c.Session.BcryptCost)
		set("session.ttl", s.TTL, &c.Session.TTL)
		set("session.cleanup_interval", s.CleanupInterval, &c.Session.CleanupInterval)
	}

	if s := f.Log; s != nil {
		setValue(s.Level, &c.Log.Level)
		setValue(s.Format, &c.Log.Format)
	}

	return err
}

func setValue[T any](src *T, dst *T) {
	if src != nil {
		*dst = *src
	}
}
