package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/terminal"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a compacted copy of the active store",
		Long: `Write a consistent, compacted copy of the store the terminal is
currently using. The destination must not exist.`,
		Example:       "  posync backup --out /mnt/usb/posync-2026-03-01.db",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				if err := t.Backup(ctx, out); err != nil {
					return f.Fail("backup failed", err)
				}
				return f.Render(map[string]string{"path": out}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Backup written to %s\n", out)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "optimize",
		Short:         "Checkpoint the WAL and release free pages",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				res, err := t.Optimize(ctx)
				if err != nil {
					return f.Fail("optimize failed", err)
				}
				return f.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Checkpointed %d of %d WAL frame(s)\n", res.Checkpointed, res.LogFrames)
					if res.Busy {
						fmt.Fprintln(w, "  (checkpoint blocked by another connection)")
					}
				})
			})
		},
	}
}
