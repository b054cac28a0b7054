package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Login backends.
const (
	BackendKratos    = "kratos"
	BackendMagicLink = "magiclink"
)

type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	PublicURL      string        `envconfig:"PUBLIC_URL" default:"http://127.0.0.1:8080"`
	LoginAPIURL    string        `envconfig:"LOGIN_API_URL"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	Debug          bool          `envconfig:"DEBUG" default:"false"`

	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For
	// and X-Real-IP headers are honored. Loopback is always trusted.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	LoginBackend    string `envconfig:"LOGIN_BACKEND" default:"magiclink"`
	KratosPublicURL string `envconfig:"KRATOS_PUBLIC_URL" default:"http://127.0.0.1:4433"`

	// Without JWKS_URL or JWKS_FILE the magiclink backend signs with a key
	// generated at startup; links stop verifying after a restart.
	JWKSURL     string        `envconfig:"JWKS_URL"`
	JWKSFile    string        `envconfig:"JWKS_FILE"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"15m"`
	TokenIssuer string        `envconfig:"TOKEN_ISSUER" default:"email-login"`

	SMTPAddr     string `envconfig:"SMTP_ADDR"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"no-reply@localhost"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	LoginRateLimit  int64         `envconfig:"LOGIN_RATE_LIMIT" default:"5"`
	LoginRateWindow time.Duration `envconfig:"LOGIN_RATE_WINDOW" default:"15m"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.LoginAPIURL == "" {
		apiURL, err := loopbackURL(cfg.ListenAddr)
		if err != nil {
			return Config{}, err
		}
		cfg.LoginAPIURL = apiURL
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LoginBackend {
	case BackendKratos, BackendMagicLink:
	default:
		return fmt.Errorf("unknown LOGIN_BACKEND %q", c.LoginBackend)
	}
	if c.LoginRateLimit <= 0 {
		return errors.New("LOGIN_RATE_LIMIT must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host
// prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", entry)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// loopbackURL is the address the server reaches itself at when it listens on
// listenAddr.
func loopbackURL(listenAddr string) (string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("invalid LISTEN_ADDR %q: %w", listenAddr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
