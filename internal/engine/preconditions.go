package engine

import (
	"strings"

	"brokerlink/internal/apperr"
	"brokerlink/internal/domain"
)

// Client-side preconditions. Each one fails before any network call.

var (
	errNoCredentials = apperr.Validation("Missing user credentials")
	errNoAccount     = apperr.Validation("Select an account")
)

func trim(s string) string { return strings.TrimSpace(s) }

// credentials returns the session identity, requiring both halves of the
// credential pair.
func (c *Coordinator) credentials() (domain.Identity, error) {
	id := c.session.Identity()
	if trim(id.UserID) == "" || id.UserSecret == "" {
		return domain.Identity{}, errNoCredentials
	}
	return id, nil
}

// account resolves the target account: accountID when given, else the
// session's selected account.
func (c *Coordinator) account(accountID string) (string, error) {
	if id := trim(accountID); id != "" {
		return id, nil
	}
	if id := c.session.AccountID(); id != "" {
		return id, nil
	}
	return "", errNoAccount
}

// checkOrderFields checks the fields shared by the impact and forced paths.
// instrument is the resolved instrument reference, or "" when none was
// given; field names it in the error.
func checkOrderFields(req domain.OrderRequest, instrument, field string) error {
	var missing []string
	if req.Action == "" {
		missing = append(missing, "action")
	}
	if trim(instrument) == "" {
		missing = append(missing, field)
	}
	if req.OrderType == "" {
		missing = append(missing, "order_type")
	}
	if req.TimeInForce == "" {
		missing = append(missing, "time_in_force")
	}
	if len(missing) > 0 {
		return apperr.MissingFields(missing...)
	}

	switch {
	case !req.Action.Valid():
		return apperr.Validation("Invalid action %q: expected BUY or SELL", req.Action)
	case !req.OrderType.Valid():
		return apperr.Validation("Invalid order_type %q: expected Market, Limit, Stop or StopLimit", req.OrderType)
	case !req.TimeInForce.Valid():
		return apperr.Validation("Invalid time_in_force %q: expected Day, GTC, FOK or IOC", req.TimeInForce)
	}
	return nil
}
