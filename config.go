package mysqlclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dbbouncer/mysqlclient/internal/tlsupgrade"
)

func loadCAFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("mysql: no certificates found in %s", path)
	}
	return pool, nil
}

// DatabaseTerm selects whether COM_INIT_DB-equivalent operations speak of a
// "catalog" or a "schema" — purely a naming affordance some callers rely on
// when building tooling around this client, per spec.md §6.
type DatabaseTerm int

const (
	DatabaseTermSchema DatabaseTerm = iota
	DatabaseTermCatalog
)

// SSLMode is this client's TLS policy, named after spec.md §6's
// {None, Prefer, Require, Trusted, Verified(CA,hostname)} enumeration.
type SSLMode int

const (
	SSLNone SSLMode = iota
	SSLPrefer
	SSLRequire
	SSLTrusted
	SSLVerified
)

func (m SSLMode) toPolicy() tlsupgrade.Policy {
	switch m {
	case SSLPrefer:
		return tlsupgrade.PolicyPrefer
	case SSLRequire, SSLTrusted:
		return tlsupgrade.PolicyRequire
	case SSLVerified:
		return tlsupgrade.PolicyVerified
	default:
		return tlsupgrade.PolicyNone
	}
}

// DialConfig is the full configuration surface for a single connection or a
// pool of connections, per spec.md §6.
type DialConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	SSL           SSLMode
	TLSConfig     *tls.Config // replaces the built config when set; modes other than Verified skip certificate checks
	ServerCAFile  string
	ServerName    string // hostname used for certificate verification

	ReadTimeout    time.Duration
	ConnectTimeout time.Duration

	AllowPublicKeyRetrieval bool
	DatabaseTerm            DatabaseTerm
	UseCursorFetch          bool
	UseServerPrepStmts      bool
	Compress                bool

	// Pool sizing; zero values are filled in by WithPoolDefaults.
	MinConnections         int
	MaxConnections         int
	ConnectionTimeout      time.Duration
	IdleTimeout            time.Duration
	MaxLifetime            time.Duration
	ValidationTimeout      time.Duration
	LeakDetectionThreshold time.Duration
	AdaptiveSizing         bool
	AdaptiveInterval       time.Duration

	Logger    *slog.Logger
	Telemetry TelemetryFacade
}

// withPoolDefaults fills in zero-valued pool-sizing fields with the
// library's defaults, mirroring the teacher's applyDefaults pattern in
// internal/config.
func (c DialConfig) withPoolDefaults() DialConfig {
	if c.MinConnections == 0 {
		c.MinConnections = 2
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = 1 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.AdaptiveInterval == 0 {
		c.AdaptiveInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Telemetry == nil {
		c.Telemetry = NoopTelemetry{}
	}
	return c
}

// WithPoolDefaults returns a copy of c with every zero-valued pool-sizing
// field filled in. The pool package calls this once at construction time
// since it, not Dial, is what reads MinConnections/MaxConnections/etc.
func (c DialConfig) WithPoolDefaults() DialConfig {
	return c.withPoolDefaults()
}

// addr returns the "host:port" form used to dial the server.
func (c DialConfig) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// tlsConfig builds the *tls.Config used for the TLS upgrade, loading
// ServerCAFile when set and defaulting ServerName to Host.
func (c DialConfig) tlsConfig() *tls.Config {
	if c.TLSConfig != nil {
		return c.TLSConfig
	}
	cfg := &tls.Config{ServerName: c.ServerName}
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host
	}
	if c.ServerCAFile != "" {
		pool, err := loadCAFile(c.ServerCAFile)
		if err == nil {
			cfg.RootCAs = pool
		}
	}
	return cfg
}
