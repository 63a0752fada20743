// Package search resolves free-text symbol queries to instrument ids for
// the selected account. Keystrokes are debounced and every request is
// sequence-stamped: a response is applied only when no newer keystroke has
// been seen, whatever order the responses arrive in.
package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
	"brokerlink/internal/session"
)

const (
	// MinQueryLength is the shortest query that triggers a backend call.
	MinQueryLength = 2

	// DefaultDebounce is the quiet period after the last keystroke.
	DefaultDebounce = 400 * time.Millisecond
)

var (
	errNoAccount     = apperr.Validation("Select an account before searching symbols")
	errNoCredentials = apperr.Validation("Missing user credentials")
)

// Searchable reports whether query, ignoring surrounding whitespace, is
// long enough to be sent to the backend. Length is counted in characters.
func Searchable(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) >= MinQueryLength
}

// Result is one search hit.
type Result struct {
	Symbol       string
	Description  string
	InstrumentID string
}

// Snapshot is the helper's observable state.
type Snapshot struct {
	Seq      uint64
	Query    string
	Results  []Result
	Error    string
	Loading  bool
	Selected *Result
}

// Options configures a Helper.
type Options struct {
	Debounce time.Duration // <= 0 fires immediately
	OnUpdate func(Snapshot) // called with the helper's lock held; must not call back into it
	Logger   *slog.Logger
}

// Helper is safe for concurrent use.
type Helper struct {
	accounts broker.Accounts
	session  *session.Session
	debounce time.Duration
	onUpdate func(Snapshot)
	log      *slog.Logger

	mu       sync.Mutex
	seq      uint64
	timer    *time.Timer
	cancel   context.CancelFunc
	query    string
	results  []Result
	errMsg   string
	loading  bool
	selected *Result
}

// NewHelper creates a Helper searching through accounts with the session's
// credentials and selected account.
func NewHelper(accounts broker.Accounts, sess *session.Session, opts Options) *Helper {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Helper{
		accounts: accounts,
		session:  sess,
		debounce: opts.Debounce,
		onUpdate: opts.OnUpdate,
		log:      log,
	}
}

// Input records a keystroke. Any pending or in-flight search for an older
// query is invalidated. Queries shorter than MinQueryLength clear the
// results without a call; a missing account or credentials clear them with
// a validation message.
func (h *Helper) Input(query string) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.stopLocked()
	h.query = query
	h.loading = false

	if !Searchable(query) {
		h.results = nil
		h.errMsg = ""
		h.notifyLocked()
		h.mu.Unlock()
		return
	}

	id, accountID, err := h.target()
	if err != nil {
		h.results = nil
		h.errMsg = err.Error()
		h.notifyLocked()
		h.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	term := strings.TrimSpace(query)
	run := func() { h.run(ctx, seq, id, accountID, term) }
	if h.debounce <= 0 {
		go run()
	} else {
		h.timer = time.AfterFunc(h.debounce, run)
	}
	h.mu.Unlock()
}

// run issues the search for seq and applies its response when seq is still
// the latest and the account is still selected.
func (h *Helper) run(ctx context.Context, seq uint64, id domain.Identity, accountID, query string) {
	h.mu.Lock()
	if seq != h.seq {
		h.mu.Unlock()
		return
	}
	h.loading = true
	h.errMsg = ""
	h.notifyLocked()
	h.mu.Unlock()

	symbols, err := h.accounts.SearchSymbols(ctx, id, accountID, query)

	h.mu.Lock()
	defer h.mu.Unlock()
	if seq != h.seq {
		h.log.Debug("discarding stale symbol search", "seq", seq, "latest", h.seq)
		return
	}
	h.loading = false
	if h.session.AccountID() != accountID {
		h.log.Debug("discarding symbol search for deselected account", "account_id", accountID)
		h.results = nil
		h.notifyLocked()
		return
	}
	if err != nil {
		h.results = nil
		h.errMsg = apperr.Message(err)
		if h.errMsg == "" {
			h.errMsg = "Failed to search symbols"
		}
		h.notifyLocked()
		return
	}
	h.results = toResults(symbols)
	h.notifyLocked()
}

// Search runs one query immediately, without debouncing, and returns its
// results. It follows the same preconditions as Input but does not touch
// the helper's state.
func (h *Helper) Search(ctx context.Context, query string) ([]Result, error) {
	if !Searchable(query) {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	id, accountID, err := h.target()
	if err != nil {
		return nil, err
	}
	symbols, err := h.accounts.SearchSymbols(ctx, id, accountID, query)
	if err != nil {
		return nil, err
	}
	return toResults(symbols), nil
}

// Select records r as the resolved instrument and clears the result list.
// Later keystrokes do not change the selection.
func (h *Helper) Select(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.stopLocked()
	sel := r
	h.selected = &sel
	h.query = r.Symbol
	h.results = nil
	h.errMsg = ""
	h.loading = false
	h.notifyLocked()
}

// Selected returns the resolved instrument, or nil.
func (h *Helper) Selected() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return nil
	}
	sel := *h.selected
	return &sel
}

// ClearSelection forgets the resolved instrument.
func (h *Helper) ClearSelection() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selected = nil
	h.notifyLocked()
}

// Snapshot returns the current state.
func (h *Helper) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Close stops any pending or in-flight search.
func (h *Helper) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.stopLocked()
}

func (h *Helper) target() (domain.Identity, string, error) {
	accountID := h.session.AccountID()
	if accountID == "" {
		return domain.Identity{}, "", errNoAccount
	}
	id := h.session.Identity()
	if strings.TrimSpace(id.UserID) == "" || id.UserSecret == "" {
		return domain.Identity{}, "", errNoCredentials
	}
	return id, accountID, nil
}

func (h *Helper) stopLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Helper) snapshotLocked() Snapshot {
	s := Snapshot{
		Seq:     h.seq,
		Query:   h.query,
		Results: append([]Result(nil), h.results...),
		Error:   h.errMsg,
		Loading: h.loading,
	}
	if h.selected != nil {
		sel := *h.selected
		s.Selected = &sel
	}
	return s
}

func (h *Helper) notifyLocked() {
	if h.onUpdate != nil {
		h.onUpdate(h.snapshotLocked())
	}
}

func toResults(symbols []domain.Symbol) []Result {
	out := make([]Result, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, Result{Symbol: s.Symbol, Description: s.Description, InstrumentID: s.ID})
	}
	return out
}
