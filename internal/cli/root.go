// Package cli implements the tactics command line: seeded self-play,
// replay verification and snapshot diffs.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/config"
	"github.com/magefree/tactics-server-go/internal/game/skirmish"
)

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and the state they resolve to.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool

	// Config and Logger are resolved on first use unless set beforehand.
	Config *config.Config
	Logger *zap.Logger
}

// NewRootCommand creates the tactics command with every subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tactics",
		Short: "Rules engine tooling for turn-based tactics games",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Logger != nil {
				_ = opts.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))

	return cmd
}

// prepare validates the global flags and resolves configuration and
// logger. It is idempotent.
func (o *RootOptions) prepare() error {
	if o.Format == "" {
		o.Format = "text"
	}
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	if o.Config == nil {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "load configuration", err)
		}
		o.Config = cfg
	}
	if o.Verbose {
		o.Config.Logging.Level = "debug"
	}
	if o.Logger == nil {
		logger, err := initLogger(o.Config.Logging)
		if err != nil {
			return WrapExitError(ExitCommandError, "initialize logger", err)
		}
		o.Logger = logger
	}
	return nil
}

// gameOptions builds skirmish options from the configuration. retention
// overrides the configured snapshot retention when positive.
func (o *RootOptions) gameOptions(setup skirmish.Setup, retention int) skirmish.Options {
	if retention <= 0 {
		retention = o.Config.Engine.SnapshotRetention
	}
	return skirmish.Options{
		Setup:        setup,
		MaxSteps:     o.Config.Engine.MaxStepsPerFlush,
		Retention:    retention,
		ObserverMode: o.Config.Engine.Mode(),
		Logger:       o.Logger,
	}
}
