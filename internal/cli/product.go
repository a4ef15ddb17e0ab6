package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/terminal"
)

// NewProductCommand creates the product command group.
func NewProductCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Look up products in the local catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "find <code>",
		Short:         "Find a product by code or EAN",
		Example:       "  posync product find 7791234567890",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withLocalTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				p, err := t.FindProduct(ctx, args[0])
				if err != nil {
					return f.Fail("product lookup failed", err)
				}
				return f.Render(p, func(w io.Writer) { writeProducts(w, []pos.Product{p}) })
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "search <term>",
		Short:         "Search products by description, code or EAN",
		Example:       `  posync product search "cafe molido"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withLocalTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
				f := rootOpts.formatter(cmd)
				found, err := t.SearchProducts(ctx, args[0])
				if err != nil {
					return f.Fail("product search failed", err)
				}
				return f.Render(found, func(w io.Writer) {
					if len(found) == 0 {
						fmt.Fprintf(w, "No products match %q\n", args[0])
						return
					}
					writeProducts(w, found)
				})
			})
		},
	})
	return cmd
}

func writeProducts(w io.Writer, products []pos.Product) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tEAN\tDESCRIPTION\tPRICE\tSTOCK")
	for _, p := range products {
		stock := fmt.Sprintf("%d", p.StockQuantity)
		if p.LowStock() {
			stock += " (low)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.Code, p.EAN, p.Description, p.Price.StringFixed(pos.MinorUnitPlaces), stock)
	}
	_ = tw.Flush()
}
