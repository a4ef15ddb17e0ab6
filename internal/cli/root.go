package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/config"
	"github.com/roach88/posync/internal/schedule"
	"github.com/roach88/posync/internal/terminal"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "posync.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string

	// Clock and NewID override the terminal's time source and local id
	// generator (for testing). Nil keeps the defaults.
	Clock schedule.Clock
	NewID func() string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the posync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "posync",
		Short:         "posync - offline-first point-of-sale terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `An offline-first point-of-sale terminal that keeps selling while the
shared database or the central authority is unreachable, and reconciles
everything once it is back.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", DefaultConfigPath, "path to terminal configuration")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewProductCommand(opts))
	cmd.AddCommand(NewSaleCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewOptimizeCommand(opts))
	cmd.AddCommand(NewAuthorityCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// configureLogging installs the default slog logger. Components log
// through the default logger.
func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openTerminal loads the configuration and opens the terminal it
// describes.
func (o *RootOptions) openTerminal(ctx context.Context, passive bool) (*terminal.Terminal, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	topts := terminal.OptionsFromConfig(cfg)
	if o.Clock != nil {
		topts.Clock = o.Clock
	}
	if o.NewID != nil {
		topts.NewID = o.NewID
	}
	topts.Passive = passive
	t, err := terminal.Open(ctx, topts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open terminal", err)
	}
	return t, nil
}

// withTerminal opens the terminal for the duration of fn.
func (o *RootOptions) withTerminal(cmd *cobra.Command, fn func(ctx context.Context, t *terminal.Terminal) error) error {
	return o.runTerminal(cmd, false, fn)
}

// withLocalTerminal is withTerminal for commands that only read local
// state: the terminal opens without contacting the authority.
func (o *RootOptions) withLocalTerminal(cmd *cobra.Command, fn func(ctx context.Context, t *terminal.Terminal) error) error {
	return o.runTerminal(cmd, true, fn)
}

func (o *RootOptions) runTerminal(cmd *cobra.Command, passive bool, fn func(ctx context.Context, t *terminal.Terminal) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	t, err := o.openTerminal(ctx, passive)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Error("error closing terminal", "error", closeErr)
		}
	}()
	return fn(ctx, t)
}
