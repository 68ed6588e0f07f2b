package config

import (
	"errors"
	"fmt"
	"log/syslog"
	"os"
	"strings"

	"github.com/relyingparty/rcynic/pkg/log"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
	"gopkg.in/yaml.v3"
)

// Config is the parsed configuration file, spec.md §6's "Configuration
// options recognised" table, one field per key.
type Config struct {
	Authenticated    string `yaml:"authenticated"`
	OldAuthenticated string `yaml:"old-authenticated"`
	Unauthenticated  string `yaml:"unauthenticated"`

	RsyncProgram string `yaml:"rsync-program"`
	RsyncTimeout int    `yaml:"rsync-timeout"`

	Lockfile string `yaml:"lockfile"`
	Jitter   int    `yaml:"jitter"`

	LogLevel       string `yaml:"log-level"`
	UseSyslog      bool   `yaml:"use-syslog"`
	UseStderr      bool   `yaml:"use-stderr"`
	SyslogFacility string `yaml:"syslog-facility"`

	XMLSummary string `yaml:"xml-summary"`

	AllowStaleCRL            bool `yaml:"allow-stale-crl"`
	AllowStaleManifest       bool `yaml:"allow-stale-manifest"`
	AllowNonSelfSignedTA     bool `yaml:"allow-non-self-signed-trust-anchor"`
	AllowObjectNotInManifest bool `yaml:"allow-object-not-in-manifest"`
	RequireCRLInManifest     bool `yaml:"require-crl-in-manifest"`
	UseLinks                 bool `yaml:"use-links"`
	Prune                    bool `yaml:"prune"`

	TrustAnchor        []string `yaml:"trust-anchor"`
	TrustAnchorLocator []string `yaml:"trust-anchor-locator"`

	MetricsAddr string `yaml:"metrics-addr"`
}

// defaults mirrors spec.md §6's stated defaults: rcynic-data/ root, a
// 300-second rsync timeout, and pruning/linking enabled.
func defaults() Config {
	roots := staging.DefaultRoots("rcynic-data")
	return Config{
		Authenticated:    roots.Authenticated + "/",
		OldAuthenticated: roots.OldAuthenticated + "/",
		Unauthenticated:  roots.Unauthenticated + "/",
		RsyncProgram:     "rsync",
		RsyncTimeout:     300,
		LogLevel:         "log_telemetry",
		UseStderr:        true,
		UseLinks:         true,
		Prune:            true,
	}
}

// Load reads and parses the YAML file at path, filling in spec.md §6's
// defaults for any key the file omits, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants spec.md §6 implies: trailing slashes
// on the three staging roots, and at least one configured trust anchor.
func (c *Config) Validate() error {
	c.Authenticated = withTrailingSlash(c.Authenticated)
	c.OldAuthenticated = withTrailingSlash(c.OldAuthenticated)
	c.Unauthenticated = withTrailingSlash(c.Unauthenticated)

	if len(c.TrustAnchor) == 0 && len(c.TrustAnchorLocator) == 0 {
		return errors.New("config: at least one trust-anchor or trust-anchor-locator is required")
	}
	return nil
}

func withTrailingSlash(root string) string {
	if root == "" || strings.HasSuffix(root, "/") {
		return root
	}
	return root + "/"
}

// Roots returns the three staging roots with their trailing slashes
// trimmed, staging.Roots being plain directory paths.
func (c *Config) Roots() staging.Roots {
	return staging.Roots{
		Authenticated:    strings.TrimSuffix(c.Authenticated, "/"),
		OldAuthenticated: strings.TrimSuffix(c.OldAuthenticated, "/"),
		Unauthenticated:  strings.TrimSuffix(c.Unauthenticated, "/"),
	}
}

// Policy returns the verification policy toggles as verify.Policy.
func (c *Config) Policy() verify.Policy {
	return verify.Policy{
		AllowStaleCRL:            c.AllowStaleCRL,
		AllowStaleManifest:       c.AllowStaleManifest,
		AllowNonSelfSignedTA:     c.AllowNonSelfSignedTA,
		RequireCRLInManifest:     c.RequireCRLInManifest,
		AllowObjectNotInManifest: c.AllowObjectNotInManifest,
	}
}

// LogConfig maps the logging keys onto log.Config, rejecting an
// unrecognised log-level spelling.
func (c *Config) LogConfig() (log.Config, error) {
	level, ok := log.ParseLevel(c.LogLevel)
	if !ok {
		return log.Config{}, fmt.Errorf("config: unrecognised log-level %q", c.LogLevel)
	}

	facility, err := parseSyslogFacility(c.SyslogFacility)
	if err != nil {
		return log.Config{}, err
	}

	return log.Config{
		Level:     level,
		UseStderr: c.UseStderr,
		UseSyslog: c.UseSyslog,
		Facility:  facility,
	}, nil
}

var syslogFacilities = map[string]syslog.Priority{
	"":       syslog.LOG_DAEMON,
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"syslog": syslog.LOG_SYSLOG,
	"cron":   syslog.LOG_CRON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

func parseSyslogFacility(name string) (syslog.Priority, error) {
	if p, ok := syslogFacilities[name]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("config: unrecognised syslog-facility %q", name)
}
