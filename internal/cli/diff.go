package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/magefree/tactics-server-go/internal/game/replay"
	"github.com/magefree/tactics-server-go/internal/game/snapshot"
)

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <file> <from> <to>",
		Short: "Print the state difference between two snapshots of a replay",
		Long: `Rebuild a game from a replay archive and print the field-level
difference between two of its snapshots, together with the events
recorded up to the later one.

Snapshot ids are the ones listed by "tactics replay --step".

Examples:
  tactics diff replays/abc.replay 3 7`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.prepare(); err != nil {
				return err
			}
			return runDiff(cmd, rootOpts, args)
		},
	}
	return cmd
}

func runDiff(cmd *cobra.Command, opts *RootOptions, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	from, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid <from> snapshot id", err)
	}
	to, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid <to> snapshot id", err)
	}

	archive, err := replay.LoadFromFile(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "load replay", err)
	}
	g, err := rebuild(ctx, opts, archive)
	if g != nil {
		defer g.Close()
	}
	if err != nil {
		return WrapExitError(ExitFailure, "rebuild", err)
	}

	d, err := g.Snapshots().Diff(from, to)
	if errors.Is(err, snapshot.ErrUnknownSnapshot) {
		return WrapExitError(ExitCommandError, "diff", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "diff", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), d)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snapshot %d -> %d\n", d.From, d.To)
	if d.Empty() {
		fmt.Fprintln(out, "  no state changes")
	}
	for _, id := range snapshot.State(d.Changed).IDs() {
		for _, key := range slices.Sorted(maps.Keys(d.Changed[id])) {
			fmt.Fprintf(out, "  ~ %s.%s = %v\n", id, key, d.Changed[id][key])
		}
	}
	for _, id := range slices.Sorted(maps.Keys(d.Unset)) {
		for _, key := range d.Unset[id] {
			fmt.Fprintf(out, "  - %s.%s\n", id, key)
		}
	}
	for _, id := range snapshot.State(d.Added).IDs() {
		fmt.Fprintf(out, "  + %s\n", id)
	}
	for _, id := range d.Removed {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	for _, e := range d.Events {
		fmt.Fprintf(out, "  event %v\n", e["type"])
	}
	return nil
}
