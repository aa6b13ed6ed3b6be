package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/client"
	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Work with recorded match replays",
}

var (
	replayVerbose bool
	replayDir     string
	replayStep    int
)

var replayInspectCmd = &cobra.Command{
	Use:   "inspect <file|match-id>",
	Short: "Rebuild a replay and print its checksum",
	Long: `Loads a replay, folds its snapshots into the entity graph and prints the checksum of
that graph. Without --step the final graph is used and the checksum matches the one stored
in the match archive. With --dir the argument is a match id looked up in that directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			r   *game.Replay
			err error
		)
		if replayDir != "" {
			r, err = game.NewReplayRecorder(zap.NewNop(), replayDir).LoadReplay(args[0])
		} else {
			r, err = game.LoadReplay(args[0])
		}
		if err != nil {
			return err
		}

		var (
			graph snapshot.Graph
			last  int64
			upto  = r.Size() - 1
		)
		if replayStep < 0 {
			graph, last, err = client.Rebuild(r.Snapshots)
			if err != nil {
				return fmt.Errorf("rebuild %s: %w", r.MatchID, err)
			}
		} else {
			snap := r.At(replayStep)
			if snap == nil {
				return fmt.Errorf("step %d out of range: replay %s has %d snapshots", replayStep, r.MatchID, r.Size())
			}
			upto = replayStep
			graph, last = r.GraphAt(replayStep), snap.Seq
		}
		sum, err := game.ComputeChecksum(graph, last)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "match:     %s\n", r.MatchID)
		fmt.Fprintf(out, "snapshots: %d\n", r.Size())
		if replayStep >= 0 {
			fmt.Fprintf(out, "step:      %d\n", replayStep)
		}
		fmt.Fprintf(out, "last seq:  %d\n", last)
		fmt.Fprintf(out, "entities:  %d\n", len(graph))
		fmt.Fprintf(out, "checksum:  %s\n", sum.Hash)

		if replayVerbose {
			r.Start()
			for i, snap := 0, r.Next(); snap != nil && i <= upto; i, snap = i+1, r.Next() {
				types := make([]string, 0, len(snap.Events))
				for _, ev := range snap.Events {
					types = append(types, string(ev.Type))
				}
				fmt.Fprintf(out, "%6d %-5s +%d -%d %s\n", snap.Seq, snap.Kind, len(snap.Added), len(snap.Removed), strings.Join(types, ","))
			}
		}
		return nil
	},
}

func init() {
	replayInspectCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "list every snapshot")
	replayInspectCmd.Flags().StringVar(&replayDir, "dir", "", "replay directory; the argument is then a match id")
	replayInspectCmd.Flags().IntVar(&replayStep, "step", -1, "fold only up to this snapshot index")
	replayCmd.AddCommand(replayInspectCmd)
	rootCmd.AddCommand(replayCmd)
}
