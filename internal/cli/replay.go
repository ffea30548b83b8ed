package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/replay"
	"github.com/magefree/tactics-server-go/internal/game/skirmish"
	"github.com/magefree/tactics-server-go/internal/game/snapshot"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Step   bool
	State  bool
	Viewer string
}

// ReplayStep summarizes one snapshot of the replayed game.
type ReplayStep struct {
	ID       uint64        `json:"id"`
	Kind     snapshot.Kind `json:"kind"`
	Changed  int           `json:"changed"`
	Added    int           `json:"added"`
	Removed  int           `json:"removed"`
	Events   []string      `json:"events"`
	Checksum string        `json:"checksum"`
}

// ReplayResult is the outcome of verifying a replay archive.
type ReplayResult struct {
	GameID         string         `json:"game_id"`
	Actions        int            `json:"actions"`
	Checksum       string         `json:"checksum"`
	Deterministic  bool           `json:"deterministic"`
	MatchesArchive bool           `json:"matches_archive"`
	Steps          []ReplayStep   `json:"steps,omitempty"`
	State          snapshot.State `json:"state,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Rebuild a game from its replay archive and verify determinism",
		Long: `Rebuild a game from a replay archive twice and compare the results.

The replay is deterministic when both rebuilds end with the same state
checksum and record the same history. When the archive carries the
checksum of the original game, it must match as well.

Exit codes:
  0 - replay is deterministic
  1 - rebuilds differ or the game halted
  2 - command error (unreadable archive, etc.)

Examples:
  tactics replay replays/abc.replay
  tactics replay replays/abc.replay --step
  tactics replay replays/abc.replay --state --viewer p2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.prepare(); err != nil {
				return err
			}
			return runReplay(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Step, "step", false, "walk through every snapshot")
	cmd.Flags().BoolVar(&opts.State, "state", false, "print the final state")
	cmd.Flags().StringVar(&opts.Viewer, "viewer", "", "redact the final state for this player")

	return cmd
}

// rebuild replays an archive on a fresh game that keeps every snapshot.
func rebuild(ctx context.Context, opts *RootOptions, archive *replay.Archive) (*skirmish.Game, error) {
	var setup skirmish.Setup
	if err := archive.DecodeSetup(&setup); err != nil {
		return nil, err
	}
	retention := 2*len(archive.Actions) + 8
	return skirmish.Replay(ctx, opts.gameOptions(setup, retention), archive.Actions)
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	archive, err := replay.LoadFromFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load replay", err)
	}

	first, err := rebuild(ctx, opts.RootOptions, archive)
	if first != nil {
		defer first.Close()
	}
	if err != nil {
		return WrapExitError(ExitFailure, "first rebuild", err)
	}
	second, err := rebuild(ctx, opts.RootOptions, archive)
	if second != nil {
		defer second.Close()
	}
	if err != nil {
		return WrapExitError(ExitFailure, "second rebuild", err)
	}

	result, err := verify(archive, first, second)
	if err != nil {
		return WrapExitError(ExitFailure, "verify replay", err)
	}
	if opts.Step {
		result.Steps = steps(replay.NewSession(archive.GameID, first.Snapshots().List(), opts.Logger))
	}
	if opts.State {
		if opts.Viewer != "" {
			view, err := first.Snapshots().BuildForViewer(opts.Viewer)
			if err != nil {
				return WrapExitError(ExitFailure, "build viewer state", err)
			}
			result.State = view.State
		} else {
			result.State = first.SerializeEntities()
		}
	}

	opts.Logger.Info("replay verified",
		zap.String("game_id", result.GameID),
		zap.Bool("deterministic", result.Deterministic),
		zap.Bool("matches_archive", result.MatchesArchive),
	)

	if opts.Format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else if err := printReplay(cmd, result); err != nil {
		return err
	}

	if !result.Deterministic || !result.MatchesArchive {
		return NewExitError(ExitFailure, "replay is not deterministic")
	}
	return nil
}

func verify(archive *replay.Archive, first, second *skirmish.Game) (ReplayResult, error) {
	a, err := first.Checksum()
	if err != nil {
		return ReplayResult{}, err
	}
	b, err := second.Checksum()
	if err != nil {
		return ReplayResult{}, err
	}
	historyA, err := first.Scheduler().SerializeHistory()
	if err != nil {
		return ReplayResult{}, err
	}
	historyB, err := second.Scheduler().SerializeHistory()
	if err != nil {
		return ReplayResult{}, err
	}

	return ReplayResult{
		GameID:         archive.GameID,
		Actions:        len(archive.Actions),
		Checksum:       a,
		Deterministic:  a == b && bytes.Equal(historyA, historyB),
		MatchesArchive: archive.Checksum == "" || archive.Checksum == a,
	}, nil
}

func steps(session *replay.Session) []ReplayStep {
	out := make([]ReplayStep, 0, session.Size())
	for i := 0; i < session.Size(); i++ {
		snap := session.At(i)
		d := session.DiffAt(i)
		step := ReplayStep{
			ID:       snap.ID,
			Kind:     snap.Kind,
			Changed:  len(d.Changed) + len(d.Unset),
			Added:    len(d.Added),
			Removed:  len(d.Removed),
			Events:   []string{},
			Checksum: snap.Checksum,
		}
		for _, e := range d.Events {
			if typ, ok := e["type"].(string); ok {
				step.Events = append(step.Events, typ)
			}
		}
		out = append(out, step)
	}
	return out
}

func printReplay(cmd *cobra.Command, result ReplayResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Game %s: %d actions\n", result.GameID, result.Actions)
	fmt.Fprintf(out, "  checksum:        %s\n", result.Checksum)
	fmt.Fprintf(out, "  deterministic:   %t\n", result.Deterministic)
	fmt.Fprintf(out, "  matches archive: %t\n", result.MatchesArchive)

	for _, s := range result.Steps {
		fmt.Fprintf(out, "  #%-4d %-8s changed=%d added=%d removed=%d  %s\n",
			s.ID, s.Kind, s.Changed, s.Added, s.Removed, strings.Join(s.Events, " "))
	}
	if result.State != nil {
		return writeJSON(out, result.State)
	}
	return nil
}
