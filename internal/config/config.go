// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/outpost/internal/logger"
	"github.com/woozymasta/outpost/internal/vars"
)

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"OUTPOST"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"OUTPOST_DB"`
	State     State         `group:"State Options" namespace:"state" env-namespace:"OUTPOST_STATE"`
	A2S       A2S           `group:"A2S Options" namespace:"a2s" env-namespace:"OUTPOST_A2S"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"OUTPOST_GEOIP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"OUTPOST_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"OUTPOST_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address      string        `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	MaxBodySize  int64         `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"65536"`
	TrustProxy   bool          `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	MapImage     string        `long:"map-image" env:"MAP_IMAGE" description:"Path to the map image shown on the dashboard (embedded placeholder if empty)"`
	PollInterval time.Duration `long:"ui-poll-interval" env:"UI_POLL_INTERVAL" description:"Dashboard refresh interval" default:"10s"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Driver        string        `long:"driver" env:"DRIVER" description:"Storage backend" choice:"sqlite" choice:"mongo" default:"sqlite"`
	Path          string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"outpost.db"`
	URI           string        `long:"uri" env:"URI" description:"MongoDB connection string"`
	Name          string        `long:"name" env:"NAME" description:"MongoDB database name" default:"outpost"`
	Timeout       time.Duration `long:"timeout" env:"TIMEOUT" description:"Connect timeout" default:"10s"`
	Reconcile     bool          `long:"reconcile" description:"Complete every due backup task and exit"`
	ResetBackup   bool          `long:"reset-backup" description:"Clear a stranded backup_in_progress flag and exit"`
	ResetState    bool          `long:"reset-state" description:"Overwrite the server state with defaults and exit"`
	GenerateCount int           `long:"gen-fake-data" hidden:"true"`
}

// State holds defaults and timings of the server state document.
type State struct {
	// betteralign:ignore

	DefaultIP         string        `long:"default-ip" env:"DEFAULT_IP" description:"IP shown until the first update" default:"192.168.1.100"`
	DefaultMaxPlayers int           `long:"default-max-players" env:"DEFAULT_MAX_PLAYERS" description:"Player slots shown until the first update" default:"100"`
	BackupDelay       time.Duration `long:"backup-delay" env:"BACKUP_DELAY" description:"Time until a requested backup is marked complete" default:"5s"`
	BackupPoll        time.Duration `long:"backup-poll" env:"BACKUP_POLL" description:"Backup task check interval" default:"1s"`
}

// A2S holds Source Query protocol configuration.
type A2S struct {
	// betteralign:ignore

	Address    string        `long:"address" env:"ADDRESS" description:"Game server query address host:port (collector disabled if empty)"`
	Interval   time.Duration `long:"interval" env:"INTERVAL" description:"Query interval" default:"30s"`
	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
	SetIP      bool          `long:"set-ip" env:"SET_IP" description:"Write the queried host into the state ip field"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file (lookup disabled if empty)"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB (no download if empty)"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	Count  int           `long:"count" env:"COUNT" description:"Write requests per IP within the window (0 disables)" default:"30"`
	Window time.Duration `long:"window" env:"WINDOW" description:"Rate limit window duration" default:"1m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := parse(os.Args[1:], flags.Default)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print(os.Stdout)
		os.Exit(0)
	}

	return cfg
}

// ParseArgs parses args without printing or exiting.
func ParseArgs(args []string) (*Config, error) {
	return parse(args, flags.HelpFlag|flags.PassDoubleDash)
}

func parse(args []string, options flags.Options) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, options)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Version {
		return nil
	}

	if c.Storage.Driver == DriverMongo && c.Storage.URI == "" {
		return errors.New("required flag `--db-uri' or environment variable `OUTPOST_DB_URI` was not specified for the mongo driver")
	}
	if c.State.BackupDelay < 0 {
		return fmt.Errorf("backup delay must not be negative, got %s", c.State.BackupDelay)
	}
	if c.State.BackupPoll <= 0 {
		return fmt.Errorf("backup poll interval must be positive, got %s", c.State.BackupPoll)
	}
	if c.Server.PollInterval < time.Second {
		return fmt.Errorf("ui poll interval must be at least 1s, got %s", c.Server.PollInterval)
	}
	if c.RateLimit.Count < 0 {
		return fmt.Errorf("rate limit count must not be negative, got %d", c.RateLimit.Count)
	}
	if c.RateLimit.Count > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.A2S.Address != "" && c.A2S.Interval <= 0 {
		return fmt.Errorf("a2s interval must be positive, got %s", c.A2S.Interval)
	}

	return nil
}
