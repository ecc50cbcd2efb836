package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxlink/internal/app"
	"github.com/MrWong99/voxlink/pkg/recording"
)

// withStore loads the configuration, opens the recording store and passes it
// to fn.
func (g *globals) withStore(cmd *cobra.Command, fn func(store recording.Store, sampleRate int) error) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, release, err := app.OpenStore(cmd.Context(), cfg.Recording)
	if err != nil {
		return err
	}
	defer release()
	return fn(store, cfg.Audio.SampleRate)
}

func newExportCmd(g *globals) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <recording-id>",
		Short: "Export a stored recording as a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if out == "" {
				out = id + ".wav"
			}
			return g.withStore(cmd, func(store recording.Store, rate int) error {
				n, err := recording.ExportFile(cmd.Context(), store, id, out, rate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default <recording-id>.wav)")
	return cmd
}

func newRecordingsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Manage stored recordings",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(cmd, func(store recording.Store, rate int) error {
				recs, err := store.ListRecordings(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tDURATION\tBYTES")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
						r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Duration(rate).Round(time.Millisecond), r.Bytes)
				}
				return tw.Flush()
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <recording-id>...",
		Short: "Delete recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(cmd, func(store recording.Store, _ int) error {
				for _, id := range args {
					if err := store.DeleteRecording(cmd.Context(), id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all recordings without --yes")
			}
			return g.withStore(cmd, func(store recording.Store, _ int) error {
				return store.ClearAll(cmd.Context())
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting all recordings")

	cmd.AddCommand(list, del, clearCmd)
	return cmd
}
