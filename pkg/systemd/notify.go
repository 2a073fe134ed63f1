// Package systemd reports service state to systemd through the sd_notify
// protocol. Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "relaybot/pkg/logx"
)

// Notifier sends sd_notify states.
type Notifier struct {
	log    logx.Logger
	notify func(unsetEnv bool, state string) (bool, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify}
}

// Ready marks startup as finished.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping marks the beginning of shutdown.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

func (n *Notifier) send(state string) {
	ok, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when the watchdog is disabled.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	n.watch(ctx, interval/2)
}

func (n *Notifier) watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
