package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	AuthRequired   bool
	Redis          RedisConfig
	Signaling      SignalingConfig
	Client         ClientConfig
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// SignalingConfig holds the relay's per-socket limits and keepalive timing.
type SignalingConfig struct {
	PingPeriod           time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	MaxMessageBytes      int64
	SendBuffer           int
	MaxMessagesPerSecond int
	MaxRoomParticipants  int
}

// ClientConfig holds the settings used by callctl and the client-side call stack.
type ClientConfig struct {
	SignalingURL   string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	PingInterval   time.Duration
	MaxMissedPongs int
	JoinTimeout    time.Duration
	JoinAttempts   int
	JoinBackoff    time.Duration
	QualityPeriod  time.Duration
	RestartWindow  time.Duration
	DeviceProfile  string
}

func Load() (*Config, error) {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	p := &parser{}
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		AuthRequired:   p.bool("AUTH_REQUIRED", false),
		Redis: RedisConfig{
			Enabled:  p.bool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       p.int("REDIS_DB", 0),
		},
		Signaling: SignalingConfig{
			PingPeriod:           p.duration("SIGNALING_PING_PERIOD", 54*time.Second),
			PongWait:             p.duration("SIGNALING_PONG_WAIT", 60*time.Second),
			WriteWait:            p.duration("SIGNALING_WRITE_WAIT", 10*time.Second),
			MaxMessageBytes:      int64(p.int("MAX_SIGNALING_MESSAGE_BYTES", 64*1024)),
			SendBuffer:           p.int("SIGNALING_SEND_BUFFER", 256),
			MaxMessagesPerSecond: p.int("MAX_SIGNALING_MESSAGES_PER_SECOND", 50),
			MaxRoomParticipants:  p.int("MAX_ROOM_PARTICIPANTS", 16),
		},
		Client: ClientConfig{
			SignalingURL:   getEnv("SIGNALING_URL", "ws://localhost:8080/ws/signal"),
			STUNServer:     getEnv("STUN_SERVER", "stun:stun.l.google.com:19302"),
			TURNServer:     getEnv("TURN_SERVER", ""),
			TURNUser:       getEnv("TURN_USERNAME", ""),
			TURNPass:       getEnv("TURN_PASSWORD", ""),
			PingInterval:   p.duration("CLIENT_PING_INTERVAL", 5*time.Second),
			MaxMissedPongs: p.int("CLIENT_MAX_MISSED_PONGS", 3),
			JoinTimeout:    p.duration("JOIN_TIMEOUT", 10*time.Second),
			JoinAttempts:   p.int("JOIN_MAX_ATTEMPTS", 3),
			JoinBackoff:    p.duration("JOIN_BACKOFF", time.Second),
			QualityPeriod:  p.duration("QUALITY_INTERVAL", 2*time.Second),
			RestartWindow:  p.duration("RESTART_WINDOW", 15*time.Second),
			DeviceProfile:  getEnv("DEVICE_PROFILE", "desktop"),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks relationships between settings that env parsing alone cannot catch.
func (c *Config) Validate() error {
	if c.Signaling.PingPeriod >= c.Signaling.PongWait {
		return fmt.Errorf("SIGNALING_PING_PERIOD (%s) must be less than SIGNALING_PONG_WAIT (%s)",
			c.Signaling.PingPeriod, c.Signaling.PongWait)
	}
	if c.Signaling.SendBuffer <= 0 {
		return fmt.Errorf("SIGNALING_SEND_BUFFER must be positive")
	}
	if c.Signaling.MaxRoomParticipants < 2 {
		return fmt.Errorf("MAX_ROOM_PARTICIPANTS must be at least 2")
	}
	if c.Client.MaxMissedPongs <= 0 {
		return fmt.Errorf("CLIENT_MAX_MISSED_PONGS must be positive")
	}
	if c.Client.JoinAttempts <= 0 {
		return fmt.Errorf("JOIN_MAX_ATTEMPTS must be positive")
	}
	switch c.Client.DeviceProfile {
	case "desktop", "mobile":
	default:
		return fmt.Errorf("DEVICE_PROFILE must be desktop or mobile, got %q", c.Client.DeviceProfile)
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// ICEServerURLs returns the STUN url plus the TURN variants when a TURN host is configured.
func (c ClientConfig) ICEServerURLs() (stun []string, turn []string) {
	if c.STUNServer != "" {
		stun = []string{c.STUNServer}
	}
	if c.TURNServer != "" {
		turn = []string{
			fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
			fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		}
	}
	return stun, turn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser records the first malformed variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}
