// Package connection implements the brokerage-connection lifecycle: deciding
// whether to refresh an existing authorization or start a new link flow,
// listing authorizations with a best-effort refresh of each, and checking
// for an active link to a specific brokerage.
package connection

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
	"brokerlink/internal/metrics"
)

// maxParallelRefresh bounds concurrent refresh calls during a listing.
const maxParallelRefresh = 8

// Manager runs the connection operations against a backend.
type Manager struct {
	backend broker.Connections
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewManager creates a Manager. m may be nil.
func NewManager(backend broker.Connections, m *metrics.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{backend: backend, metrics: m, log: log}
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// ConnectResult is the outcome of Connect. Exactly one of
// ExistingAuthorizationID and Login is set.
type ConnectResult struct {
	// UserSecret is the secret the caller must persist. It differs from the
	// one supplied when Registered is true.
	UserSecret string
	Registered bool

	// Set when an enabled authorization for the broker already existed.
	ExistingAuthorizationID string
	Refresh                 RefreshResult

	// Set when a new link flow was started.
	Login *domain.LoginResult
}

// Existing reports whether Connect reused an authorization.
func (r *ConnectResult) Existing() bool {
	return r.ExistingAuthorizationID != ""
}

// Connect links userID to brokerSlug without creating a second enabled
// authorization for the same broker. Without a secret the identity is
// registered first and a link flow always follows.
func (m *Manager) Connect(ctx context.Context, userID, brokerSlug, userSecret string) (*ConnectResult, error) {
	userID = strings.TrimSpace(userID)
	brokerSlug = strings.TrimSpace(brokerSlug)
	if userID == "" || brokerSlug == "" {
		return nil, apperr.MissingFields("userId", "broker")
	}

	id := domain.Identity{UserID: userID, UserSecret: userSecret}
	if !id.Registered() {
		secret, err := m.backend.RegisterUser(ctx, userID)
		if err != nil {
			return nil, apperr.Operation("register user", err)
		}
		id.UserSecret = secret
		m.log.Info("registered user", "user_id", userID)

		login, err := m.backend.Login(ctx, id, brokerSlug)
		if err != nil {
			return nil, apperr.Operation("login", err)
		}
		return &ConnectResult{UserSecret: secret, Registered: true, Login: login}, nil
	}

	auths, err := m.backend.ListAuthorizations(ctx, id)
	if err != nil {
		return nil, apperr.Operation("list authorizations", err)
	}

	for _, a := range auths {
		if a.Disabled || a.ID == "" || !a.MatchesSlug(brokerSlug) {
			continue
		}
		return &ConnectResult{
			UserSecret:              id.UserSecret,
			ExistingAuthorizationID: a.ID,
			Refresh:                 m.refresh(ctx, id, a.ID),
		}, nil
	}

	login, err := m.backend.Login(ctx, id, brokerSlug)
	if err != nil {
		return nil, apperr.Operation("login", err)
	}
	return &ConnectResult{UserSecret: id.UserSecret, Login: login}, nil
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// RefreshResult is the per-authorization outcome of a best-effort refresh.
type RefreshResult struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Summary is one authorization annotated with display fields.
type Summary struct {
	ID         string        `json:"id"`
	BrokerName string        `json:"brokerName"`
	LogoURL    string        `json:"logoUrl"`
	Disabled   bool          `json:"disabled"`
	Refresh    RefreshResult `json:"refresh"`
}

// ListConnections lists every authorization of the identity and refreshes
// each enabled one in parallel. A failed refresh is recorded in its Summary
// and never removes the authorization or stops the others.
func (m *Manager) ListConnections(ctx context.Context, id domain.Identity) ([]Summary, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	auths, err := m.backend.ListAuthorizations(ctx, id)
	if err != nil {
		return nil, apperr.Operation("list authorizations", err)
	}

	summaries := make([]Summary, len(auths))
	var g errgroup.Group
	g.SetLimit(maxParallelRefresh)

	for i, a := range auths {
		summaries[i] = Summary{
			ID:         a.ID,
			BrokerName: a.Brokerage.Name,
			LogoURL:    a.Brokerage.LogoURL,
			Disabled:   a.Disabled,
		}
		if a.Disabled || a.ID == "" {
			continue
		}
		g.Go(func() error {
			summaries[i].Refresh = m.refresh(ctx, id, a.ID)
			return nil // refresh failures never abort the listing
		})
	}
	_ = g.Wait()

	return summaries, nil
}

// refresh triggers a re-sync of one authorization. Failures are logged as
// BestEffortFailure and reported in the result only.
func (m *Manager) refresh(ctx context.Context, id domain.Identity, authorizationID string) RefreshResult {
	err := m.backend.RefreshAuthorization(ctx, id, authorizationID)
	if err == nil {
		return RefreshResult{Attempted: true, OK: true}
	}

	failure := &apperr.BestEffortFailure{Op: "refresh authorization", ID: authorizationID, Err: err}
	m.metrics.RefreshFailed()
	m.log.Warn("refresh failed", "authorization_id", authorizationID, "error", failure)

	msg := apperr.Message(err)
	if msg == "" {
		msg = "refresh failed"
	}
	return RefreshResult{Attempted: true, Error: msg}
}

// ---------------------------------------------------------------------------
// Check
// ---------------------------------------------------------------------------

// CheckResult reports whether an enabled link to one brokerage exists.
type CheckResult struct {
	HasActiveConnection bool                         `json:"hasActiveConnection"`
	Connections         []domain.BrokerAuthorization `json:"connections"`
}

// CheckConnection returns every authorization for brokerageID, enabled or
// not, and whether any of them is enabled.
func (m *Manager) CheckConnection(ctx context.Context, id domain.Identity, brokerageID string) (*CheckResult, error) {
	brokerageID = strings.TrimSpace(brokerageID)
	if strings.TrimSpace(id.UserID) == "" || id.UserSecret == "" || brokerageID == "" {
		return nil, apperr.MissingFields("userId", "userSecret", "brokerId")
	}

	auths, err := m.backend.ListAuthorizations(ctx, id)
	if err != nil {
		return nil, apperr.Operation("list authorizations", err)
	}

	res := &CheckResult{Connections: []domain.BrokerAuthorization{}}
	for _, a := range auths {
		if a.Brokerage.ID != brokerageID {
			continue
		}
		res.Connections = append(res.Connections, a)
		if !a.Disabled {
			res.HasActiveConnection = true
		}
	}
	return res, nil
}

func requireIdentity(id domain.Identity) error {
	if strings.TrimSpace(id.UserID) == "" || id.UserSecret == "" {
		return apperr.MissingFields("userId", "userSecret")
	}
	return nil
}
