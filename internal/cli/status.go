package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/terminal"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection mode, sync time and queue counts",
		Long: `Show the terminal's state as recorded locally.

The authority is not contacted, so the mode is the one the stores allow
at startup. Use sync to reconnect and push.`,
		Example: `  posync status
  posync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withLocalTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				s := t.GetStatus(ctx)
				return rootOpts.formatter(cmd).Render(s, func(w io.Writer) { writeStatus(w, s) })
			})
		},
	}
}

func writeStatus(w io.Writer, s pos.Status) {
	fmt.Fprintf(w, "mode:      %s\n", s.Connection.Mode)
	if s.Connection.Endpoint != "" {
		fmt.Fprintf(w, "endpoint:  %s\n", s.Connection.Endpoint)
	}
	if s.Connection.LastError != "" {
		fmt.Fprintf(w, "error:     %s\n", s.Connection.LastError)
	}
	if s.LastSyncAt != nil {
		fmt.Fprintf(w, "last sync: %s\n", s.LastSyncAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "last sync: never")
	}
	fmt.Fprintf(w, "pending:   %d\n", s.PendingCount)
	fmt.Fprintf(w, "failed:    %d\n", s.FailedCount)
	fmt.Fprintf(w, "cache:     %d products\n", s.CacheSize)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push every queued operation and pull the full catalog",
		Long: `Force a full synchronization.

Everything queued is pushed first, then the complete catalog is pulled.
Exits 1 when anything is left unsynced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				ok := t.ForceSync(ctx)
				s := t.GetStatus(ctx)
				f := rootOpts.formatter(cmd)
				if !ok {
					_ = f.Error(ErrCodeGeneric, "sync incomplete", s)
					return NewExitError(ExitFailure, "sync incomplete")
				}
				return f.Render(s, func(w io.Writer) {
					fmt.Fprintln(w, "✓ In sync")
					writeStatus(w, s)
				})
			})
		},
	}
}
