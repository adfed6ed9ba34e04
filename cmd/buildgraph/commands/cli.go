// Package commands implements the buildgraph command line.
package commands

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/daemon"
	"git.home.luguber.info/inful/buildgraph/internal/version"
)

// Global is state shared by every subcommand.
type Global struct {
	Out    io.Writer
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"buildgraph.yaml" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `help:"Log output format" enum:"text,json" default:"text"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Order    OrderCmd    `cmd:"" help:"Print the execution order of a build"`
	Run      RunCmd      `cmd:"" help:"Execute a build and wait for the result"`
	Status   StatusCmd   `cmd:"" help:"Show build and task status"`
	Reset    ResetCmd    `cmd:"" help:"Return a finished build or task to pending"`
	Validate ValidateCmd `cmd:"" help:"Report missing tasks and cycles without running anything"`
	History  HistoryCmd  `cmd:"" help:"List completed runs"`
	Daemon   DaemonCmd   `cmd:"" help:"Run scheduled builds and serve metrics until stopped"`
	Worker   WorkerCmd   `cmd:"" help:"Execute tasks dispatched over NATS"`
	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
}

// New builds the kong parser for cli. Extra options are applied last.
func New(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	opts := []kong.Option{
		kong.Name("buildgraph"),
		kong.Description("Dependency-ordered build orchestration."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	}
	return kong.New(cli, append(opts, options...)...)
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	configureLogging(c.Verbose, config.LogLevelInfo, config.LogFormat(c.LogFormat))
	return nil
}

// loadConfig loads the configuration file and applies its logging settings.
// --verbose and --log-format json take precedence over the file.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	format := cfg.Monitoring.Logging.Format
	if c.LogFormat == string(config.LogFormatJSON) {
		format = config.LogFormatJSON
	}
	configureLogging(c.Verbose, cfg.Monitoring.Logging.Level, format)
	return cfg, nil
}

func configureLogging(verbose bool, level config.LogLevel, format config.LogFormat) {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// planOnly restricts cfg to what ordering and validation need: no storage
// on disk and no remote dispatch. A NATS order cache stays shared.
func planOnly(cfg *config.Config) {
	cfg.Storage.Path = ":memory:"
	cfg.Dispatch.Mode = config.DispatchLocal
	cfg.Dispatch.Workers = 1
}

func openServices(ctx context.Context, cfg *config.Config) (*daemon.Services, func(), error) {
	svc, err := daemon.NewServices(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to close services", "error", err)
		}
	}
	return svc, closer, nil
}

// withServices opens the engine against the configured storage with local
// dispatch. Status and reset never execute tasks.
func withServices(root *CLI, fn func(ctx context.Context, svc *daemon.Services) error) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	cfg.Dispatch.Mode = config.DispatchLocal

	ctx := context.Background()
	svc, closeSvc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSvc()
	return fn(ctx, svc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
