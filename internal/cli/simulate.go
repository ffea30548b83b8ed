package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/random"
	"github.com/magefree/tactics-server-go/internal/game/replay"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
	"github.com/magefree/tactics-server-go/internal/game/skirmish"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Seed    uint64
	BotSeed uint64
	Turns   int
	Out     string
}

// SimulateResult is the outcome of one self-play game.
type SimulateResult struct {
	GameID   string         `json:"game_id"`
	Seed     uint64         `json:"seed"`
	Turn     int            `json:"turn"`
	Actions  int            `json:"actions"`
	Checksum string         `json:"checksum"`
	Path     string         `json:"path"`
	Stats    map[string]any `json:"stats"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a seeded self-play game and save its replay",
		Long: `Play a skirmish between two bots and write the recorded history to a
replay archive in the configured replay directory.

The game seed decides decks and turn order; the bot seed decides the
moves. Both default to reproducible values.

Examples:
  tactics simulate
  tactics simulate --seed 42 --turns 20 --out ./replays`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.prepare(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				opts.Seed = opts.Config.Engine.Seed
			}
			if opts.Out == "" {
				opts.Out = opts.Config.Replay.Directory
			}
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "game seed (defaults to engine.seed)")
	cmd.Flags().Uint64Var(&opts.BotSeed, "bot-seed", 1, "seed for the bots' decisions")
	cmd.Flags().IntVar(&opts.Turns, "turns", 10, "game turns to play")
	cmd.Flags().StringVar(&opts.Out, "out", "", "replay directory (defaults to replay.directory)")

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Turns <= 0 {
		return NewExitError(ExitCommandError, "--turns must be positive")
	}

	engine := opts.Config.Engine
	setup := skirmish.Setup{
		Seed:     opts.Seed,
		Players:  engine.Players,
		DeckSize: engine.DeckSize,
		HandSize: engine.HandSize,
	}
	g, err := skirmish.New(opts.gameOptions(setup, 0))
	if err != nil {
		return WrapExitError(ExitCommandError, "create game", err)
	}
	defer g.Close()

	if err := skirmish.Autoplay(ctx, g, opts.Turns, random.New(opts.BotSeed)); err != nil {
		if scheduler.IsFatal(err) || g.Scheduler().State() == scheduler.StateHalted {
			return WrapExitError(ExitFailure, "game halted", err)
		}
		return WrapExitError(ExitFailure, "self-play failed", err)
	}

	checksum, err := g.Checksum()
	if err != nil {
		return WrapExitError(ExitFailure, "checksum", err)
	}
	history := g.Scheduler().History()
	archive, err := replay.New(g.ID(), opts.Seed, g.Setup(), history)
	if err != nil {
		return WrapExitError(ExitFailure, "build replay", err)
	}
	archive.Checksum = checksum
	path, err := archive.SaveToFile(opts.Out)
	if err != nil {
		return WrapExitError(ExitCommandError, "save replay", err)
	}

	opts.Logger.Info("simulation finished",
		zap.String("game_id", g.ID()),
		zap.Int("actions", len(history)),
		zap.String("path", path),
	)

	result := SimulateResult{
		GameID:   g.ID(),
		Seed:     opts.Seed,
		Turn:     g.Turn(),
		Actions:  len(history),
		Checksum: checksum,
		Path:     path,
		Stats:    g.Watchers().Serialize(),
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Game %s (seed %d)\n", result.GameID, result.Seed)
	fmt.Fprintf(out, "  turn:     %d\n", result.Turn)
	fmt.Fprintf(out, "  actions:  %d\n", result.Actions)
	fmt.Fprintf(out, "  checksum: %s\n", result.Checksum)
	fmt.Fprintf(out, "  replay:   %s\n", result.Path)
	for _, p := range g.Players() {
		fmt.Fprintf(out, "  %s: lost %d units\n", p.ID(), g.Stat(skirmish.StatUnitsDestroyed, p.ID()))
	}
	return nil
}
