package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/terminal"
)

// SaleOptions holds flags for the sale create command.
type SaleOptions struct {
	*RootOptions
	Lines   []string
	Payment string
}

// NewSaleCommand creates the sale command group.
func NewSaleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SaleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Record sales",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Record a sale against the local catalog",
		Long: `Record a sale.

Each --line names a product code (or EAN) and a quantity as CODE:QTY; a
bare CODE sells one unit. Prices come from the local catalog. Offline
sales are queued and pushed once the authority is reachable.`,
		Example: `  posync sale create --line 123:2 --payment cash
  posync sale create --line 7791234567890 --line 456:3 --payment card`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createSale(opts, cmd)
		},
	}
	create.Flags().StringArrayVarP(&opts.Lines, "line", "l", nil, "sale line as CODE:QTY (repeatable)")
	create.Flags().StringVarP(&opts.Payment, "payment", "p", string(pos.PaymentCash), "payment method (cash|card|transfer|other)")
	_ = create.MarkFlagRequired("line")
	cmd.AddCommand(create)
	return cmd
}

func createSale(opts *SaleOptions, cmd *cobra.Command) error {
	req := terminal.SaleRequest{PaymentMethod: pos.PaymentMethod(opts.Payment)}
	for _, raw := range opts.Lines {
		line, err := parseLine(raw)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --line", err)
		}
		req.Lines = append(req.Lines, line)
	}

	return opts.withTerminal(cmd, func(ctx context.Context, t *terminal.Terminal) error {
		f := opts.formatter(cmd)
		sale, err := t.CreateSale(ctx, req)
		if err != nil {
			return f.Fail("sale rejected", err)
		}
		return f.Render(sale, func(w io.Writer) { writeSale(w, sale) })
	})
}

// parseLine reads CODE:QTY. Codes may not contain ':'.
func parseLine(raw string) (terminal.SaleLineRequest, error) {
	code, qtyText, hasQty := strings.Cut(strings.TrimSpace(raw), ":")
	if code == "" {
		return terminal.SaleLineRequest{}, fmt.Errorf("%q has no product code", raw)
	}
	if !hasQty {
		return terminal.SaleLineRequest{Code: code, Quantity: 1}, nil
	}
	qty, err := strconv.ParseInt(qtyText, 10, 64)
	if err != nil {
		return terminal.SaleLineRequest{}, fmt.Errorf("%q: bad quantity: %w", raw, err)
	}
	return terminal.SaleLineRequest{Code: code, Quantity: qty}, nil
}

func writeSale(w io.Writer, s pos.Sale) {
	state := "queued"
	if s.Synced {
		state = fmt.Sprintf("synced as #%d", s.ID)
	}
	fmt.Fprintf(w, "✓ Sale %s (%s)\n\n", s.LocalID, state)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QTY\tCODE\tDESCRIPTION\tUNIT\tTOTAL")
	for _, l := range s.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", l.Quantity, l.Code, l.Description,
			l.UnitPrice.StringFixed(pos.MinorUnitPlaces), l.LineTotal.StringFixed(pos.MinorUnitPlaces))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\ntotal: %s (%s)\n", s.Total.StringFixed(pos.MinorUnitPlaces), s.PaymentMethod)
}
