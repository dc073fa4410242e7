package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Peer struct {
		ID        string `yaml:"id"`
		Room      string `yaml:"room"`
		SignalURL string `yaml:"signal_url"`
		Token     string `yaml:"token"`
		// Address serves /health, /metrics and the call status API of a
		// headless peer.
		Address string `yaml:"address"`
		// Roster is called on start when no Redis room presence is
		// configured.
		Roster []string `yaml:"roster"`
	} `yaml:"peer"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"webrtc"`

	RTC struct {
		InviteTimeout time.Duration `yaml:"invite_timeout"`
		Reconnect     struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"reconnect"`
	} `yaml:"rtc"`

	Media struct {
		AudioFile      string        `yaml:"audio_file"`
		VideoFile      string        `yaml:"video_file"`
		CaptureTimeout time.Duration `yaml:"capture_timeout"`
	} `yaml:"media"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled             bool    `yaml:"enabled"`
		MessagesPerSecond   float64 `yaml:"messages_per_second"`
		Burst               int     `yaml:"burst"`
		MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		// Handshakes limits websocket upgrades per client IP.
		Handshakes struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"handshakes"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}

	// RTC
	if c.RTC.InviteTimeout <= 0 {
		return fmt.Errorf("rtc.invite_timeout must be > 0")
	}
	if c.RTC.Reconnect.Enabled {
		if c.RTC.Reconnect.MaxAttempts <= 0 {
			return fmt.Errorf("rtc.reconnect.max_attempts must be > 0 when reconnect is enabled")
		}
		if c.RTC.Reconnect.InitialDelay <= 0 {
			return fmt.Errorf("rtc.reconnect.initial_delay must be > 0 when reconnect is enabled")
		}
		if c.RTC.Reconnect.MaxDelay < c.RTC.Reconnect.InitialDelay {
			return fmt.Errorf("rtc.reconnect.max_delay must be >= initial_delay")
		}
	}

	// Media
	if c.Media.CaptureTimeout <= 0 {
		return fmt.Errorf("media.capture_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Handshakes.PerSecond <= 0 || c.RateLimiting.Handshakes.Burst <= 0 {
			return fmt.Errorf("rate_limiting.handshakes must be > 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.max_message_size_bytes must be >= 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Peer.SignalURL = "ws://localhost:8081/ws"
	cfg.Peer.Address = ":8090"

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.WebRTC.LogLevel = "warn"
	cfg.WebRTC.ICEServers = []ICEServer{{
		URLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
			"stun:stun3.l.google.com:19302",
		},
	}}

	cfg.RTC.InviteTimeout = 30 * time.Second
	cfg.RTC.Reconnect.Enabled = true
	cfg.RTC.Reconnect.MaxAttempts = 3
	cfg.RTC.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.RTC.Reconnect.MaxDelay = 5 * time.Second

	cfg.Media.CaptureTimeout = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.TokenTTL = 12 * time.Hour

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 100
	cfg.RateLimiting.Burst = 200
	cfg.RateLimiting.MaxMessageSizeBytes = 64 * 1024
	cfg.RateLimiting.Handshakes.PerSecond = 5
	cfg.RateLimiting.Handshakes.Burst = 10

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("CALLMESH_PEER_ID"); id != "" {
		c.Peer.ID = id
	}
	if room := os.Getenv("CALLMESH_ROOM"); room != "" {
		c.Peer.Room = room
	}
	if url := os.Getenv("CALLMESH_SIGNAL_URL"); url != "" {
		c.Peer.SignalURL = url
	}
	if token := os.Getenv("CALLMESH_TOKEN"); token != "" {
		c.Peer.Token = token
	}
	if addr := os.Getenv("CALLMESH_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("CALLMESH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLMESH_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("CALLMESH_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}

// LoadFirst tries each path in order and returns the first configuration that
// loads, or defaults when none does.
func LoadFirst(paths ...string) (*Config, string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if cfg, err := Load(path); err == nil {
			return cfg, path
		}
	}
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg, ""
}
