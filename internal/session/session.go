// Package session keeps the exchange session alive.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"betbot/internal/exchange"
	"betbot/internal/metrics"
)

// Coordinator logs in and renews the session on a fixed interval. The renew
// interval must sit between the exchange's keep-alive rate limit and its idle expiry.
type Coordinator struct {
	ex       exchange.Exchange
	username string
	password string
	renew    time.Duration
	loggedIn atomic.Bool
}

func NewCoordinator(ex exchange.Exchange, username, password string, renew time.Duration) *Coordinator {
	return &Coordinator{ex: ex, username: username, password: password, renew: renew}
}

func (c *Coordinator) Name() string { return "session" }

// LoggedIn reports the last known session state.
func (c *Coordinator) LoggedIn() bool { return c.loggedIn.Load() }

func (c *Coordinator) setLoggedIn(v bool) {
	c.loggedIn.Store(v)
	if v {
		metrics.SessionLoggedIn.Set(1)
	} else {
		metrics.SessionLoggedIn.Set(0)
	}
}

// Login establishes a session.
func (c *Coordinator) Login(ctx context.Context) error {
	if err := c.ex.Login(ctx, c.username, c.password); err != nil {
		c.setLoggedIn(false)
		return asAuthError("login", err)
	}
	c.setLoggedIn(true)
	slog.Info("logged in to exchange")
	return nil
}

// Renew extends the session. Any failure drops back to logged out so the next
// iteration logs in again.
func (c *Coordinator) Renew(ctx context.Context) error {
	if err := c.ex.RenewSession(ctx); err != nil {
		c.setLoggedIn(false)
		return asAuthError("keepAlive", err)
	}
	slog.Debug("session renewed")
	return nil
}

// asAuthError reports every session failure as an authentication failure,
// keeping the exchange's own code when it sent one.
func asAuthError(op string, err error) error {
	var authErr *exchange.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &exchange.AuthError{Op: op, Code: err.Error()}
}

func (c *Coordinator) RunOnce(ctx context.Context) (time.Duration, error) {
	if !c.LoggedIn() {
		if err := c.Login(ctx); err != nil {
			return 0, err
		}
		return c.renew, nil
	}
	if err := c.Renew(ctx); err != nil {
		return 0, err
	}
	return c.renew, nil
}
