package app

import (
	logx "notifyd/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifyFunc matches daemon.SdNotify so tests can observe readiness.
type notifyFunc func(unsetEnvironment bool, state string) (bool, error)

// sdNotify reports state to systemd when running under a Type=notify unit.
// Outside systemd (no NOTIFY_SOCKET) it is a no-op.
func (a *App) sdNotify(state string) {
	fn := a.notify
	if fn == nil {
		fn = daemon.SdNotify
	}
	sent, err := fn(false, state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}
