package node

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier reports service state to the init system.
type Notifier interface {
	Notify(state string) error
}

// SystemdNotifier speaks the sd_notify protocol. Outside systemd
// (NOTIFY_SOCKET unset) every call is a no-op.
type SystemdNotifier struct{}

func (SystemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

const (
	stateReady    = daemon.SdNotifyReady
	stateStopping = daemon.SdNotifyStopping
	stateWatchdog = daemon.SdNotifyWatchdog
	stateReload   = daemon.SdNotifyReloading
)

// watchdogInterval is half the unit's WatchdogSec, or 0 when the watchdog
// is off.
func watchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// NopNotifier discards every state.
type NopNotifier struct{}

func (NopNotifier) Notify(string) error { return nil }
