package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/store"
)

// AuthorityOptions holds flags for the authority commands.
type AuthorityOptions struct {
	*RootOptions
	Database string
	Addr     string
}

// NewAuthorityCommand creates the authority command group: a small central
// authority backed by a local store, for remote-topology terminals.
func NewAuthorityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuthorityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "authority",
		Short: "Run or load the central authority",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the authority's SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	serve := &cobra.Command{
		Use:           "serve",
		Short:         "Serve the authority over HTTP",
		Example:       `  posync authority serve --db ./authority.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveAuthority(opts, cmd)
		},
	}
	serve.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")

	load := &cobra.Command{
		Use:           "import <catalog.yaml>",
		Short:         "Import products into the authority catalog",
		Example:       `  posync authority import --db ./authority.db ./catalog.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return importCatalog(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(serve, load)
	return cmd
}

func openAuthority(opts *AuthorityOptions) (*store.Store, *authority.Store, error) {
	st, err := store.Open(opts.Database, store.Local)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	auth := authority.NewStore(st)
	if opts.Clock != nil {
		auth = auth.WithClock(opts.Clock.Now)
	}
	return st, auth, nil
}

func importCatalog(opts *AuthorityOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	products, err := authority.LoadCatalogFile(path)
	if err != nil {
		return f.Fail("invalid catalog", err)
	}

	st, auth, err := openAuthority(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := auth.Import(ctx, products); err != nil {
		return f.Fail("import failed", err)
	}
	result := map[string]any{"imported": len(products), "db": opts.Database}
	return f.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Imported %d product(s) into %s\n", len(products), opts.Database)
	})
}

func serveAuthority(opts *AuthorityOptions, cmd *cobra.Command) error {
	st, auth, err := openAuthority(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           authority.NewServer(auth),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("authority listening", "addr", opts.Addr, "db", opts.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Authority listening on %s.\n", opts.Addr)

	select {
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "authority server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "authority shutdown", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "authority server failed", err)
	}
	slog.Info("authority stopped gracefully")
	return nil
}
