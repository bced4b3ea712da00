package systemd

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	API       net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{
		Activated: false,
	}

	// Check if systemd socket activation is available
	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return listeners, nil
	}

	listeners.Activated = true

	// Names come from FileDescriptorName= in focusguard.socket (systemd 227+)
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := listenersMap["api"]; ok && len(lns) > 0 {
		listeners.API = lns[0]
	}

	if lns, ok := listenersMap["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd.
// Outside systemd this is a no-op.
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	return nil
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// until ctx is done. It returns at once when WatchdogSec= is not set.
func RunWatchdog(ctx context.Context, logger zerolog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("failed to read watchdog settings: %w", err)
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Systemd watchdog enabled")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Watchdog notification failed")
			}
		}
	}
}

// IsSystemdService returns true if running as a systemd notify service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
