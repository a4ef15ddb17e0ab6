package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/terminal"
)

// NewStockCommand creates the stock command group.
func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Correct stock levels",
	}
	adjust := &cobra.Command{
		Use:   "adjust <code> <delta>",
		Short: "Add or remove units of a product",
		Long: `Add or remove units of a product.

Flags go before the code, so a negative delta is not read as a flag.`,
		Example: `  posync stock adjust --reason breakage 456 -3
  posync stock adjust --reason delivery 123 24`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid delta", err)
			}
			return rootOpts.withTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				adj, err := t.AdjustStock(ctx, args[0], delta, reason)
				if err != nil {
					return f.Fail("adjustment rejected", err)
				}
				return f.Render(adj, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Adjusted %s by %+d (%s)\n", adj.Code, adj.Delta, adj.LocalID)
				})
			})
		},
	}
	adjust.Flags().StringVarP(&reason, "reason", "r", "manual", "reason recorded with the adjustment")
	adjust.Flags().SetInterspersed(false)
	cmd.AddCommand(adjust)
	return cmd
}
