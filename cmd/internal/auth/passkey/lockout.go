package passkey

import (
	"context"

	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/metrics"
)

// checkLockout fails once email has LockoutThreshold failed logins from ip
// inside LockoutWindow. Only failures checked against a registered credential
// count, and other addresses are unaffected. Lookup errors are logged and do
// not lock anyone out.
func (c *Controller) checkLockout(ctx context.Context, email, ip string) error {
	if c.audit == nil || c.cfg.LockoutThreshold <= 0 {
		return nil
	}
	now := c.now()
	n, err := c.audit.CountSince(ctx, audit.CountQuery{
		Action:  audit.ActionLoginFailed,
		Subject: email,
		IP:      ip,
		Since:   now.Add(-c.cfg.LockoutWindow),
	})
	if err != nil {
		c.log.Error("auth.login.lockout.fail", "err", err)
		return nil
	}
	if n < c.cfg.LockoutThreshold {
		return nil
	}

	c.log.Warn("auth.login.locked", "failures", n)
	c.record(ctx, audit.Event{
		Action:  audit.ActionLoginLocked,
		Subject: email,
		IP:      ip,
		Meta:    map[string]any{"failures": n},
	})
	metrics.RecordCeremony(metrics.CeremonyLogin, metrics.ResultLocked)
	return &LockedError{RetryAfter: c.cfg.LockoutWindow}
}
