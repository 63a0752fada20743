package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"brokerlink/internal/domain"
	"brokerlink/internal/engine"
)

// orderFlags binds the order fields shared by impact and place.
type orderFlags struct {
	account, action, symbolID, symbol string
	orderType, tif                    string
	units, price, stop, notional      string
}

func (f *orderFlags) register(cmd *cobra.Command, withSymbol bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.account, "account", "", "account id (defaults to the selected account)")
	fl.StringVar(&f.action, "action", "", "BUY or SELL")
	fl.StringVar(&f.symbolID, "symbol-id", "", "universal symbol id, as printed by search")
	if withSymbol {
		fl.StringVar(&f.symbol, "symbol", "", "raw ticker, used when --symbol-id is empty")
	}
	fl.StringVar(&f.orderType, "type", string(domain.OrderTypeMarket), "Market, Limit, Stop or StopLimit")
	fl.StringVar(&f.tif, "tif", string(domain.TimeInForceDay), "Day, GTC, FOK or IOC")
	fl.StringVar(&f.units, "units", "", "number of units")
	fl.StringVar(&f.price, "price", "", "limit price")
	fl.StringVar(&f.stop, "stop", "", "stop price")
	fl.StringVar(&f.notional, "notional", "", "notional value instead of units")
}

func (f *orderFlags) request() (domain.OrderRequest, error) {
	req := domain.OrderRequest{
		AccountID:   f.account,
		Action:      domain.Action(strings.ToUpper(strings.TrimSpace(f.action))),
		Instrument:  domain.InstrumentRef{UniversalSymbolID: f.symbolID, Symbol: f.symbol},
		OrderType:   domain.OrderType(strings.TrimSpace(f.orderType)),
		TimeInForce: domain.TimeInForce(strings.TrimSpace(f.tif)),
	}
	var err error
	for _, d := range []struct {
		name string
		raw  string
		dst  **decimal.Decimal
	}{
		{"units", f.units, &req.Units},
		{"price", f.price, &req.Price},
		{"stop", f.stop, &req.Stop},
		{"notional", f.notional, &req.Notional},
	} {
		if *d.dst, err = parseDecimal(d.name, d.raw); err != nil {
			return req, err
		}
	}
	return req, nil
}

func parseDecimal(name, raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q", name, raw)
	}
	return &d, nil
}

// failure returns the coordinator's message for the last operation.
func (a *App) failure(err error) error {
	if out := a.coord.LastOutcome(); out != nil && out.Err != nil {
		return errors.New(out.Message())
	}
	return userError(err)
}

func newTradeCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Check, place and cancel orders for the selected account",
	}
	cmd.AddCommand(
		newImpactCmd(a),
		newPlaceCheckedCmd(a),
		newPlaceCmd(a),
		newCancelCmd(a),
	)
	return cmd
}

func newImpactCmd(a *App) *cobra.Command {
	var (
		f     orderFlags
		place bool
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Check an order's impact and stage it for placement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			ctx := ctxOf(cmd)
			staged, err := a.coord.CheckImpact(ctx, req)
			if err != nil {
				return a.failure(err)
			}
			writeStaged(cmd.OutOrStdout(), staged, !place)
			if !place {
				return nil
			}
			order, err := a.coord.PlaceChecked(ctx, wait)
			if err != nil {
				return a.failure(err)
			}
			writeOrder(cmd.OutOrStdout(), "Order placed", order)
			return nil
		},
	}
	f.register(cmd, false)
	cmd.Flags().BoolVar(&place, "place", false, "place the trade right after a successful check")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the brokerage to confirm the placement")
	return cmd
}

func newPlaceCheckedCmd(a *App) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "place-checked",
		Short: "Place the trade staged by the last successful impact check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := ctxOf(cmd)
			recs, err := a.journal.ListOutcomes(ctx, 0)
			if err != nil {
				return err
			}
			if tradeID, accountID, ok := stagedFromJournal(recs); ok {
				if err := a.coord.Resume(tradeID, accountID); err != nil {
					return userError(err)
				}
			}
			order, err := a.coord.PlaceChecked(ctx, wait)
			if err != nil {
				return a.failure(err)
			}
			writeOrder(cmd.OutOrStdout(), "Order placed", order)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the brokerage to confirm the placement")
	return cmd
}

// stagedFromJournal finds the trade left staged by earlier runs. recs are
// newest first. Cancellations and failures do not change what is staged; a
// successful placement consumes it, and so does a placement rejected as
// stale.
func stagedFromJournal(recs []domain.OutcomeRecord) (tradeID, accountID string, ok bool) {
	for _, r := range recs {
		if r.Status == engine.StatusStale {
			return "", "", false
		}
		if r.Op == string(engine.OpCancel) || r.Error != "" {
			continue
		}
		if r.Op == string(engine.OpImpact) && r.TradeID != "" {
			return r.TradeID, r.AccountID, true
		}
		return "", "", false
	}
	return "", "", false
}

func newPlaceCmd(a *App) *cobra.Command {
	var f orderFlags
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place an order directly, without an impact check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			order, err := a.coord.PlaceForce(ctxOf(cmd), req)
			if err != nil {
				return a.failure(err)
			}
			writeOrder(cmd.OutOrStdout(), "Order placed", order)
			return nil
		},
	}
	f.register(cmd, true)
	return cmd
}

func newCancelCmd(a *App) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "cancel <brokerageOrderId>",
		Short: "Cancel an open brokerage order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := ""
			if len(args) == 1 {
				orderID = args[0]
			}
			order, err := a.coord.Cancel(ctxOf(cmd), account, orderID)
			if err != nil {
				return a.failure(err)
			}
			writeOrder(cmd.OutOrStdout(), "Cancel requested", order)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (defaults to the selected account)")
	return cmd
}

func writeStaged(w io.Writer, s *domain.StagedTrade, hint bool) {
	fmt.Fprintf(w, "Trade %s staged.\n", s.TradeID())
	for _, im := range s.Impacts {
		fmt.Fprintf(w, "  remaining cash %s  commissions %s  forex fees %s\n",
			FormatOptional(im.RemainingCash), FormatOptional(im.EstimatedCommissions), FormatOptional(im.ForexFees))
	}
	if hint {
		fmt.Fprintln(w, "Run `brokerlink trade place-checked` to place it.")
	}
}

func writeOrder(w io.Writer, what string, o *domain.OrderOutcome) {
	fmt.Fprint(w, what)
	if o == nil {
		fmt.Fprintln(w, ".")
		return
	}
	if o.BrokerageOrderID != "" {
		fmt.Fprintf(w, ": brokerage order %s", o.BrokerageOrderID)
	}
	if o.Status != "" {
		fmt.Fprintf(w, " (%s)", o.Status)
	}
	fmt.Fprintln(w, ".")
}
