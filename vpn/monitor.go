package vpn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/openvpn-manager/common"
)

// PasswordSource supplies saved escalation passwords for reconnects.
// keyring.Store satisfies it.
type PasswordSource interface {
	Get(profileName string) (string, error)
}

// MonitorConfig holds configuration for the connection monitor.
type MonitorConfig struct {
	// CheckInterval is how often liveness is re-checked.
	CheckInterval time.Duration
	// AutoReconnect enables reconnecting after the process dies.
	AutoReconnect bool
	// ReconnectDelay is the wait before each reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds reconnects per loss (0 = unlimited).
	MaxReconnectAttempts int
}

// DefaultMonitorConfig returns sensible defaults for monitoring.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:        common.MonitorInterval,
		AutoReconnect:        false,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
	}
}

// Monitor polls the manager so a dead OpenVPN process is noticed even when
// nobody is asking, and optionally reconnects it.
type Monitor struct {
	mu           sync.Mutex
	config       MonitorConfig
	manager      *Manager
	passwords    PasswordSource
	running      bool
	reconnecting bool
	stopChan     chan struct{}

	onLost            func(profileName string)
	onReconnecting    func(profileName string, attempt int)
	onReconnected     func(profileName string)
	onReconnectFailed func(profileName string, err error)
}

// NewMonitor creates a monitor for manager. passwords may be nil.
func NewMonitor(manager *Manager, config MonitorConfig, passwords PasswordSource) *Monitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = common.MonitorInterval
	}
	return &Monitor{
		config:    config,
		manager:   manager,
		passwords: passwords,
		stopChan:  make(chan struct{}),
	}
}

// SetOnLost sets a callback for an unexpected process exit.
func (mon *Monitor) SetOnLost(callback func(profileName string)) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.onLost = callback
}

// SetOnReconnecting sets a callback for reconnection attempts.
func (mon *Monitor) SetOnReconnecting(callback func(profileName string, attempt int)) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.onReconnecting = callback
}

// SetOnReconnected sets a callback for a successful reconnect.
func (mon *Monitor) SetOnReconnected(callback func(profileName string)) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.onReconnected = callback
}

// SetOnReconnectFailed sets a callback for giving up on a reconnect.
func (mon *Monitor) SetOnReconnectFailed(callback func(profileName string, err error)) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.onReconnectFailed = callback
}

// Start begins the monitoring loop.
func (mon *Monitor) Start() {
	mon.mu.Lock()
	if mon.running {
		mon.mu.Unlock()
		return
	}
	mon.running = true
	mon.stopChan = make(chan struct{})
	stop := mon.stopChan
	mon.mu.Unlock()

	go mon.runLoop(stop)
}

// Stop stops the monitoring loop and any pending reconnect.
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	if !mon.running {
		mon.mu.Unlock()
		return
	}
	mon.running = false
	close(mon.stopChan)
	mon.mu.Unlock()

	common.LogDebug("Connection monitor stopped")
}

// IsRunning returns whether the monitor is currently running.
func (mon *Monitor) IsRunning() bool {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.running
}

func (mon *Monitor) runLoop(stop <-chan struct{}) {
	mon.mu.Lock()
	interval := mon.config.CheckInterval
	mon.mu.Unlock()

	common.LogDebug("Connection monitor started (interval: %v)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mon.check(stop)
		}
	}
}

// check re-evaluates liveness and reacts to a lost connection.
func (mon *Monitor) check(stop <-chan struct{}) {
	if mon.manager.IsConnected() {
		return
	}
	lost := mon.manager.takeLost()
	if lost == "" {
		return
	}

	common.LogWarn("Connection to %s lost", lost)

	mon.mu.Lock()
	onLost := mon.onLost
	startReconnect := mon.config.AutoReconnect && !mon.reconnecting
	if startReconnect {
		mon.reconnecting = true
	}
	mon.mu.Unlock()

	if onLost != nil {
		onLost(lost)
	}
	if startReconnect {
		go mon.reconnect(lost, stop)
	}
}

// reconnect retries Connect for profileName until it succeeds, the attempt
// limit is reached or the monitor is stopped.
func (mon *Monitor) reconnect(profileName string, stop <-chan struct{}) {
	defer func() {
		mon.mu.Lock()
		mon.reconnecting = false
		mon.mu.Unlock()
	}()

	mon.mu.Lock()
	cfg := mon.config
	mon.mu.Unlock()

	password, err := mon.password(profileName)
	if err != nil {
		mon.reconnectFailed(profileName, err)
		return
	}

	var lastErr error
	for attempt := 1; cfg.MaxReconnectAttempts == 0 || attempt <= cfg.MaxReconnectAttempts; attempt++ {
		mon.mu.Lock()
		onReconnecting := mon.onReconnecting
		mon.mu.Unlock()
		if onReconnecting != nil {
			onReconnecting(profileName, attempt)
		}
		common.LogInfo("Attempting reconnect for %s (attempt %d)", profileName, attempt)

		select {
		case <-stop:
			return
		case <-time.After(cfg.ReconnectDelay):
		}

		// Someone else may have connected in the meantime.
		if mon.manager.IsConnected() {
			common.LogInfo("Already connected, skipping reconnect for %s", profileName)
			return
		}

		if _, lastErr = mon.manager.Connect(profileName, password); lastErr == nil {
			common.LogInfo("Reconnect successful for %s", profileName)
			mon.mu.Lock()
			onReconnected := mon.onReconnected
			mon.mu.Unlock()
			if onReconnected != nil {
				onReconnected(profileName)
			}
			return
		}
		common.LogWarn("Reconnect failed for %s: %v", profileName, lastErr)
		if errors.Is(lastErr, common.ErrProfileNotFound) || errors.Is(lastErr, common.ErrConfigNotFound) {
			break
		}
	}

	mon.reconnectFailed(profileName, fmt.Errorf("giving up on %s: %w", profileName, lastErr))
}

// password looks up the saved password. A profile without one reconnects
// with no password, which works when privilege escalation needs none.
func (mon *Monitor) password(profileName string) (string, error) {
	if mon.passwords == nil {
		return "", nil
	}
	password, err := mon.passwords.Get(profileName)
	if err == nil {
		return password, nil
	}
	if errors.Is(err, common.ErrCredentialsNotFound) {
		common.LogDebug("No saved password for %s, reconnecting without one", profileName)
		return "", nil
	}
	return "", fmt.Errorf("read saved password: %w", err)
}

func (mon *Monitor) reconnectFailed(profileName string, err error) {
	common.LogError("Auto-reconnect for %s failed: %v", profileName, err)
	mon.mu.Lock()
	callback := mon.onReconnectFailed
	mon.mu.Unlock()
	if callback != nil {
		callback(profileName, err)
	}
}

// UpdateConfig updates the monitor configuration.
func (mon *Monitor) UpdateConfig(config MonitorConfig) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.config = config
}
