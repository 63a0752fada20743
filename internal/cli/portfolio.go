package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"brokerlink/internal/domain"
	"brokerlink/internal/search"
	"brokerlink/internal/store"
)

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func newAccountsCmd(a *App) *cobra.Command {
	var selectID string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List brokerage accounts and optionally select one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := ctxOf(cmd)
			accounts, err := a.view.LoadAccounts(ctx)
			if err != nil {
				return userError(err)
			}
			if selectID != "" {
				if err := a.view.Select(ctx, selectID); err != nil {
					return userError(err)
				}
			}

			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No accounts.")
				return nil
			}
			selected := a.view.Selected()
			t := newTable(out, "", "ID", "NAME", "NUMBER", "INSTITUTION", "BALANCE")
			for _, acc := range accounts {
				mark := ""
				if acc.ID == selected {
					mark = "*"
				}
				t.row(mark, acc.ID, acc.Name, acc.Number, acc.InstitutionName, FormatMoney(acc.Balance))
			}
			t.flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&selectID, "select", "", "account id to select for holdings, transactions, search and trading")
	return cmd
}

// ---------------------------------------------------------------------------
// Holdings
// ---------------------------------------------------------------------------

func newHoldingsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "Show positions of the selected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.view.LoadHoldings(ctxOf(cmd))
			if err != nil {
				return userError(err)
			}
			writeHoldings(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func writeHoldings(w io.Writer, h *domain.Holdings) {
	fmt.Fprintf(w, "%s (%s)  balance %s\n", h.Account.Name, h.Account.InstitutionName, FormatMoney(h.Account.Balance))
	if h.TotalValue != nil {
		fmt.Fprintf(w, "Total value: %s %s\n", FormatMoney(&h.TotalValue.Value), h.TotalValue.Currency)
	}

	if len(h.Positions) == 0 && len(h.OptionPositions) == 0 {
		fmt.Fprintln(w, "No positions.")
		return
	}
	if len(h.Positions) > 0 {
		fmt.Fprintln(w)
		t := newTable(w, "SYMBOL", "UNITS", "PRICE", "AVG COST", "VALUE", "OPEN P&L")
		for _, p := range h.Positions {
			t.row(p.Symbol, FormatUnits(p.Units), FormatMoney(&p.Price),
				FormatOptional(p.AveragePurchasePrice), FormatMoney(&p.MarketValue), FormatPnL(p.OpenPnL))
		}
		t.flush()
	}
	if len(h.OptionPositions) > 0 {
		fmt.Fprintln(w)
		t := newTable(w, "CONTRACT", "TYPE", "STRIKE", "EXPIRY", "UNITS", "PRICE", "VALUE")
		for _, o := range h.OptionPositions {
			t.row(o.Ticker, o.OptionType, FormatOptional(o.StrikePrice), o.ExpirationDate,
				FormatUnits(o.Units), FormatMoney(&o.Price), FormatMoney(&o.MarketValue))
		}
		t.flush()
	}
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

func newTransactionsCmd(a *App) *cobra.Command {
	var (
		q      domain.ActivityQuery
		export bool
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List activity of the selected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.view.LoadTransactions(ctxOf(cmd), q)
			if err != nil {
				return userError(err)
			}
			out := cmd.OutOrStdout()

			if len(page.Transactions) == 0 {
				fmt.Fprintln(out, "No transactions.")
			} else {
				t := newTable(out, "DATE", "TYPE", "SYMBOL", "UNITS", "PRICE", "AMOUNT", "FEE")
				for _, tx := range page.Transactions {
					t.row(tx.TradeDate, tx.Type, tx.Symbol, FormatOptional(tx.Units),
						FormatOptional(tx.Price), FormatOptional(tx.Amount), FormatOptional(tx.Fee))
				}
				t.flush()
			}
			if p := page.Pagination; p != nil {
				fmt.Fprintf(out, "Showing %d from offset %d of %d.\n", len(page.Transactions), p.Offset, p.Total)
			}

			if export {
				ps := store.NewParquetStore(a.cfg.Client.ExportDir)
				n, err := ps.WriteTransactions(ctxOf(cmd), a.view.Selected(), page.Transactions)
				if err != nil {
					return fmt.Errorf("exporting transactions: %w", err)
				}
				fmt.Fprintf(out, "Exported to %s (%d transactions in archive).\n", a.cfg.Client.ExportDir, n)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.StartDate, "start", "", "first trade date, YYYY-MM-DD")
	f.StringVar(&q.EndDate, "end", "", "last trade date, YYYY-MM-DD")
	f.IntVar(&q.Offset, "offset", 0, "page offset")
	f.IntVar(&q.Limit, "limit", domain.DefaultActivityLimit, "page size")
	f.StringVar(&q.Type, "type", "", "comma-separated activity types, e.g. BUY,SELL")
	f.BoolVar(&export, "export", false, "merge the page into the account's parquet export")
	return cmd
}

// ---------------------------------------------------------------------------
// Symbol search
// ---------------------------------------------------------------------------

func newSearchCmd(a *App) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Resolve a symbol query to instrument ids for the selected account",
		Long: `Searches symbols tradable in the selected account. With -i, each input line
replaces the query as if typed, results follow after the debounce period, and
":N" picks result N.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return a.searchInteractive(cmd)
			}
			if len(args) == 0 {
				return cmd.Usage()
			}

			h := search.NewHelper(a.client, a.session, search.Options{Logger: a.log})
			defer h.Close()
			results, err := h.Search(ctxOf(cmd), args[0])
			if err != nil {
				return userError(err)
			}
			writeResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read queries from stdin")
	return cmd
}

func writeResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No symbols found.")
		return
	}
	t := newTable(w, "#", "SYMBOL", "DESCRIPTION", "INSTRUMENT ID")
	for i, r := range results {
		t.row(strconv.Itoa(i+1), r.Symbol, r.Description, r.InstrumentID)
	}
	t.flush()
}

// lockedWriter serializes writes from the search callback and the input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (a *App) searchInteractive(cmd *cobra.Command) error {
	out := &lockedWriter{w: cmd.OutOrStdout()}
	var (
		mu        sync.Mutex
		latest    []search.Result
		selecting bool
	)
	h := search.NewHelper(a.client, a.session, search.Options{
		Debounce: a.cfg.Client.SearchDebounce,
		Logger:   a.log,
		OnUpdate: func(s search.Snapshot) {
			if s.Loading {
				return
			}
			mu.Lock()
			latest = s.Results
			skip := selecting
			mu.Unlock()
			if skip {
				return
			}

			var b strings.Builder
			switch {
			case s.Error != "":
				fmt.Fprintln(&b, s.Error)
			case search.Searchable(s.Query):
				writeResults(&b, s.Results)
			default:
				return
			}
			_, _ = io.WriteString(out, b.String())
		},
	})
	defer h.Close()

	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if n, ok := strings.CutPrefix(line, ":"); ok {
			i, err := strconv.Atoi(n)
			mu.Lock()
			results := latest
			mu.Unlock()
			if err != nil || i < 1 || i > len(results) {
				fmt.Fprintf(out, "No result %s.\n", n)
				continue
			}
			mu.Lock()
			selecting = true
			mu.Unlock()
			h.Select(results[i-1])
			mu.Lock()
			selecting = false
			mu.Unlock()
			fmt.Fprintf(out, "Selected %s (%s)\n", results[i-1].Symbol, results[i-1].InstrumentID)
			continue
		}
		h.Input(line)
	}
	return sc.Err()
}
