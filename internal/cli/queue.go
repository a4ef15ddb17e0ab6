package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/terminal"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect operations the authority never accepted",
	}
	cmd.AddCommand(newQueueFailedCommand(rootOpts))
	cmd.AddCommand(newQueueExportCommand(rootOpts))
	cmd.AddCommand(newQueueRequeueCommand(rootOpts))
	return cmd
}

func newQueueFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "failed",
		Short:         "List operations that exhausted their retries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withLocalTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				ops, err := t.FailedOperations(ctx)
				if err != nil {
					return f.Fail("failed to list operations", err)
				}
				return f.Render(ops, func(w io.Writer) { writeOperations(w, ops) })
			})
		},
	}
}

func newQueueExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Write failed operations to a JSON file for manual reconciliation",
		Example:       `  posync queue export --out failed.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withLocalTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				ops, err := t.FailedOperations(ctx)
				if err != nil {
					return f.Fail("failed to list operations", err)
				}
				data, err := json.MarshalIndent(ops, "", "  ")
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to encode operations", err)
				}
				if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
					return WrapExitError(ExitCommandError, "failed to write export", err)
				}
				result := map[string]any{"path": out, "operations": len(ops)}
				return f.Render(result, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Exported %d operation(s) to %s\n", len(ops), out)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newQueueRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "requeue <id>",
		Short:         "Move a failed operation back to the push queue",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid operation id", err)
			}
			return rootOpts.withTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				if err := t.Requeue(ctx, id); err != nil {
					return f.Fail("requeue failed", err)
				}
				s := t.GetStatus(ctx)
				return f.Render(s, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Requeued operation %d\n", id)
					writeStatus(w, s)
				})
			})
		},
	}
}

func writeOperations(w io.Writer, ops []pos.PendingOperation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No failed operations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tKEY\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, op := range ops {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", op.ID, op.Kind, op.IdempotencyKey,
			op.AttemptCount, op.CreatedAt.UTC().Format(time.RFC3339), op.LastError)
	}
	_ = tw.Flush()
}
