package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Client configures the terminal client and the core it drives.
type Client struct {
	APIBaseURL     string        `env:"API_BASE_URL,default=http://localhost:5000/api"`
	ChannelURL     string        `env:"CHANNEL_URL,default=ws://localhost:5000/socket"`
	CredentialsDB  string        `env:"CREDENTIALS_DB,default=razgovor.db"`
	TypingTimeout  time.Duration `env:"TYPING_TIMEOUT,default=2s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	LogLevel       string        `env:"LOG_LEVEL,default=warn"`
}

// Server configures the reference backend.
type Server struct {
	APIAddr    string        `env:"API_ADDR,default=:5000"`
	DBFile     string        `env:"DEVSERVER_DB,default=devserver.db"`
	AuthSecret string        `env:"AUTH_SECRET"`
	AccessTTL  time.Duration `env:"ACCESS_TTL,default=15m"`
	RefreshTTL time.Duration `env:"REFRESH_TTL,default=168h"`
	LogLevel   string        `env:"LOG_LEVEL,default=info"`
}

func LoadClient() (*Client, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, err
	}
	return ParseClient(es)
}

func ParseClient(es env.EnvSet) (*Client, error) {
	cfg := &Client{}
	if err := env.Unmarshal(es, cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Client) Validate() error {
	if err := checkURL("API_BASE_URL", c.APIBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("CHANNEL_URL", c.ChannelURL, "ws", "wss"); err != nil {
		return err
	}
	if c.CredentialsDB == "" {
		return errors.New("CREDENTIALS_DB is required")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be greater than 0")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func LoadServer() (*Server, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, err
	}
	return ParseServer(es)
}

func ParseServer(es env.EnvSet) (*Server, error) {
	cfg := &Server{}
	if err := env.Unmarshal(es, cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Server) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("ACCESS_TTL must be greater than 0")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("REFRESH_TTL must be greater than ACCESS_TTL")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps LOG_LEVEL values (debug, info, warn, error) to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	return l, nil
}

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	l, err := ParseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", name, strings.Join(schemes, "/"))
}
