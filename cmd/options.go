package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/launcher"
	"github.com/smazurov/frontman/internal/process"
)

// Options for the CLI - flat structure with toml mapping. Each field's flag name is
// config.FlagName of the field name.
type Options struct {
	Config string `env:"CONFIG"`

	// Listen settings
	Address string `toml:"address" env:"ADDRESS"`
	Port    int    `toml:"port" env:"PORT"`
	Socket  string `toml:"socket" env:"SOCKET"`
	// PingPort of 0 means the port after Port.
	PingPort int `toml:"ping_port" env:"PING_PORT"`

	// Application settings
	Environment  string `toml:"environment" env:"ENVIRONMENT"`
	MaxPoolSize  int    `toml:"max_pool_size" env:"MAX_POOL_SIZE"`
	MinInstances int    `toml:"min_instances" env:"MIN_INSTANCES"`

	// Process settings
	Daemonize    bool          `toml:"daemonize" env:"DAEMONIZE"`
	User         string        `toml:"user" env:"USER"`
	PIDFile      string        `toml:"pid_file" env:"PID_FILE"`
	LogFile      string        `toml:"log_file" env:"LOG_FILE"`
	ServerBin    string        `toml:"server_bin" env:"SERVER_BIN"`
	TempDir      string        `toml:"temp_dir" env:"TEMP_DIR"`
	StartTimeout time.Duration `toml:"start_timeout" env:"START_TIMEOUT"`
	StopTimeout  time.Duration `toml:"stop_timeout" env:"STOP_TIMEOUT"`

	// Observability settings
	MetricsAddress string `toml:"metrics.address" env:"METRICS_ADDRESS"`
	LoggingLevel   string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// defaultConfigPath is the global configuration file used when --config is not given.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "frontman", "config.toml")
}

// defaultEnvironment follows the framework conventions for the environment name.
func defaultEnvironment() string {
	for _, key := range []string{"RAILS_ENV", "RACK_ENV"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}
	return launcher.DefaultEnvironment
}

// addCommonFlags registers the flags every command needs to find a server instance.
func addCommonFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVarP(&opts.Config, "config", "c", defaultConfigPath(), "Global configuration file")
	fs.StringVarP(&opts.Address, "address", "a", launcher.DefaultAddress, "Bind to the given address")
	fs.IntVarP(&opts.Port, "port", "p", launcher.DefaultPort, "Use the given port number")
	fs.StringVarP(&opts.Socket, "socket", "S", "", "Bind to the given Unix domain socket instead of TCP")
	fs.IntVar(&opts.PingPort, "ping-port", 0, "Loopback port for liveness checks (default: --port + 1)")
	fs.StringVar(&opts.PIDFile, "pid-file", "", "Store the PID in the given file")
	fs.StringVar(&opts.LogFile, "log-file", "", "Write the server log to the given file")
	fs.StringVar(&opts.ServerBin, "server-bin", launcher.DefaultServerBin, "Web server command line; \"-c <config>\" is appended")
	fs.StringVar(&opts.TempDir, "temp-dir", os.TempDir(), "Directory for the generated server configuration")
	fs.DurationVar(&opts.StopTimeout, "stop-timeout", process.DefaultStopTimeout, "How long to wait for a graceful stop before killing")
	fs.StringVar(&opts.LoggingLevel, "logging-level", "info", "Global logging level (debug, info, warn, error)")
	fs.StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")
}

// addStartFlags registers the flags only start uses.
func addStartFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVarP(&opts.Environment, "environment", "e", defaultEnvironment(), "Framework environment")
	fs.IntVar(&opts.MaxPoolSize, "max-pool-size", launcher.DefaultMaxPoolSize, "Maximum number of application processes")
	fs.IntVar(&opts.MinInstances, "min-instances", launcher.DefaultMinInstances, "Minimum number of processes per application")
	fs.BoolVarP(&opts.Daemonize, "daemonize", "d", false, "Daemonize into the background")
	fs.StringVar(&opts.User, "user", "", "Run worker processes as the given user (requires root)")
	fs.DurationVar(&opts.StartTimeout, "start-timeout", process.DefaultStartTimeout, "How long to wait for the server to accept connections")
	fs.StringVar(&opts.MetricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address (disabled when empty)")
}

// AppDefaults returns the per-application settings carried by opts.
func (o *Options) AppDefaults() apps.Settings {
	return apps.Settings{
		Environment:  o.Environment,
		MaxPoolSize:  o.MaxPoolSize,
		MinInstances: o.MinInstances,
	}
}

// Settings converts opts into launcher settings for the directory arguments.
func (o *Options) Settings(args []string) launcher.Settings {
	return launcher.Settings{
		Args:           args,
		Address:        o.Address,
		Port:           o.Port,
		Socket:         o.Socket,
		PingPort:       o.PingPort,
		Defaults:       o.AppDefaults(),
		Daemonize:      o.Daemonize,
		User:           o.User,
		PIDFile:        o.PIDFile,
		LogFile:        o.LogFile,
		ServerBin:      o.ServerBin,
		TempDir:        o.TempDir,
		StartTimeout:   o.StartTimeout,
		StopTimeout:    o.StopTimeout,
		MetricsAddress: o.MetricsAddress,
	}
}
