package vpn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yllada/openvpn-manager/common"
	"github.com/yllada/openvpn-manager/config"
)

// Re-exported for callers that only import vpn.
var (
	ErrAlreadyConnected = common.ErrAlreadyConnected
	ErrNotConnected     = common.ErrNotConnected
	ErrConnectionFailed = common.ErrConnectionFailed
	ErrAuthFailed       = common.ErrAuthFailed
	ErrProcessExited    = common.ErrProcessExited
)

// promptMarkers are substrings that identify a privilege-escalation password prompt.
var promptMarkers = []string{"password", "Password", "[sudo]"}

// errNoPrompt means the pty child never asked for a password.
var errNoPrompt = errors.New("no password prompt")

const (
	failureTailLines = 5
	failureMaxLen    = 200
	readerDrainWait  = 500 * time.Millisecond
)

// MetricsRecorder receives connection counters. The metrics package provides
// the Prometheus implementation.
type MetricsRecorder interface {
	ConnectAttempt(result string)
	Disconnected(forced bool)
	LogLine()
	SetTunnelUp(up bool)
}

// Connect attempt results reported to MetricsRecorder.
const (
	ResultSuccess    = "success"
	ResultRejected   = "rejected"
	ResultAuthFailed = "auth_failed"
	ResultExited     = "exited"
	ResultError      = "error"
)

// connection is the single tracked OpenVPN session.
type connection struct {
	profile     string
	proc        Process
	state       common.ConnectionStatus
	started     time.Time
	session     string
	established bool
	readerDone  chan struct{}
}

// Manager supervises at most one OpenVPN process at a time.
//
// mu guards the log ring and all connection state, including the tunnel IP.
// opMu serialises Connect and Disconnect so their blocking waits never run
// while mu is held.
type Manager struct {
	cfg      *config.Config
	profiles *ProfileStore
	publicIP *PublicIPLookup
	lister   InterfaceLister
	notifier common.Notifier
	history  common.SessionRecorder
	metrics  MetricsRecorder

	opMu sync.Mutex

	mu         sync.Mutex
	conn       *connection
	tunnelIP   string
	logs       *logRing
	logHandler func(string)
	lost       string
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the application settings.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			m.cfg = cfg
		}
	}
}

// WithNotifier sets the receiver of connection lifecycle events.
func WithNotifier(n common.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithSessionRecorder sets where connection sessions are recorded.
func WithSessionRecorder(r common.SessionRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.history = r
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithInterfaceLister replaces the `ip addr show` interface scan.
func WithInterfaceLister(l InterfaceLister) Option {
	return func(m *Manager) {
		if l != nil {
			m.lister = l
		}
	}
}

// WithPublicIPLookup replaces the public IP lookup.
func WithPublicIPLookup(p *PublicIPLookup) Option {
	return func(m *Manager) {
		if p != nil {
			m.publicIP = p
		}
	}
}

// NewManager creates a manager over the given profile store.
func NewManager(profiles *ProfileStore, opts ...Option) *Manager {
	m := &Manager{
		cfg:      config.DefaultConfig(),
		profiles: profiles,
		lister:   CommandInterfaceLister{},
		notifier: nopNotifier{},
		history:  nopRecorder{},
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.publicIP == nil {
		m.publicIP = NewPublicIPLookup(m.cfg.PublicIPEndpoint, m.cfg.PublicIPTimeout)
	}
	m.logs = newLogRing(m.cfg.LogCapacity)
	return m
}

// Profiles returns the underlying profile store.
func (m *Manager) Profiles() *ProfileStore {
	return m.profiles
}

// AddProfile stores a profile for configPath under name.
func (m *Manager) AddProfile(name, configPath string) (*Profile, error) {
	return m.profiles.Add(name, configPath)
}

// RemoveProfile deletes a profile.
func (m *Manager) RemoveProfile(name string) error {
	return m.profiles.Remove(name)
}

// ListProfiles returns all profiles sorted by name.
func (m *Manager) ListProfiles() []*Profile {
	return m.profiles.List()
}

// ProfileServerAddress returns the stored server address of a profile.
func (m *Manager) ProfileServerAddress(name string) (string, bool) {
	return m.profiles.ServerAddress(name)
}

// SetLogHandler registers a callback invoked for every captured log line.
// It runs on the log reader goroutine.
func (m *Manager) SetLogHandler(handler func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logHandler = handler
}

// Connect starts OpenVPN for the named profile. When password is non-empty
// the child runs on a pseudo-terminal and the password is typed into the
// escalation prompt; otherwise, or when no prompt appears, the child runs
// with its output on a pipe. The returned message only acknowledges the
// launch; an established tunnel shows up later in the logs.
func (m *Manager) Connect(profileName, password string) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.IsConnected() {
		m.metrics.ConnectAttempt(ResultRejected)
		return "", common.NewUserError(ErrAlreadyConnected, "Already connected. Please disconnect first.")
	}

	profile, err := m.profiles.Get(profileName)
	if err != nil {
		m.metrics.ConnectAttempt(ResultRejected)
		return "", common.NewUserError(common.ErrProfileNotFound, fmt.Sprintf("Profile '%s' not found", profileName))
	}
	if !common.FileExists(profile.ConfigPath) {
		m.metrics.ConnectAttempt(ResultRejected)
		return "", common.NewUserError(common.ErrConfigNotFound, fmt.Sprintf("Config file not found: %s", profile.ConfigPath))
	}

	argv := m.launchCommand(profile.ConfigPath)
	common.LogInfo("Connecting to %s: %s", profileName, strings.Join(argv, " "))
	m.notifier.Notify(common.EventConnecting, profileName, "")

	var proc Process
	var preamble []string
	if password != "" {
		p, lines, err := m.spawnWithPassword(argv, password)
		switch {
		case err == nil:
			proc = p
			preamble = lines
		case errors.Is(err, ErrAuthFailed):
			common.LogWarn("Process exited after password was sent for %s", profileName)
			m.metrics.ConnectAttempt(ResultAuthFailed)
			m.notifier.Notify(common.EventAuthFailed, profileName, "")
			return "", common.NewUserError(ErrAuthFailed, "Authentication failed. Please check your password.")
		default:
			common.LogInfo("No password prompt (%v), launching without a terminal", err)
		}
	}
	if proc == nil {
		p, err := startPipeProcess(argv)
		if err != nil {
			common.LogError("Failed to start OpenVPN: %v", err)
			m.metrics.ConnectAttempt(ResultError)
			return "", common.NewUserError(ErrConnectionFailed, fmt.Sprintf("Failed to start OpenVPN: %v", err))
		}
		proc = p
	}

	conn := &connection{
		profile:    profileName,
		proc:       proc,
		state:      common.StatusConnecting,
		started:    time.Now(),
		readerDone: make(chan struct{}),
	}

	m.mu.Lock()
	m.logs.Reset()
	m.tunnelIP = ""
	m.lost = ""
	m.conn = conn
	m.mu.Unlock()

	// Output seen before the prompt goes in ahead of anything the reader captures.
	m.appendLines(conn, preamble)
	go m.readLogs(conn)

	if proc.Wait(m.cfg.SettleDelay) {
		waitFor(conn.readerDone, readerDrainWait)

		m.mu.Lock()
		tail := common.LastN(m.logs.Snapshot(), failureTailLines)
		if m.conn == conn {
			m.conn = nil
			m.tunnelIP = ""
		}
		m.mu.Unlock()

		detail := strings.Join(tail, "\n")
		if len(detail) > failureMaxLen {
			detail = detail[:failureMaxLen]
		}
		if detail == "" {
			detail = "Process exited immediately"
		}
		common.LogError("OpenVPN exited during startup for %s", profileName)
		m.metrics.ConnectAttempt(ResultExited)
		return "", common.NewUserError(ErrProcessExited, "Failed to start OpenVPN: "+detail)
	}

	session, err := m.history.Begin(profileName)
	if err != nil {
		common.LogWarn("Could not record session start: %v", err)
	}

	m.mu.Lock()
	if m.conn == conn {
		conn.state = common.StatusConnected
		conn.session = session
	}
	m.mu.Unlock()

	if err := m.profiles.MarkUsed(profileName); err != nil {
		common.LogWarn("Could not update last use of %s: %v", profileName, err)
	}
	m.metrics.ConnectAttempt(ResultSuccess)
	common.LogInfo("OpenVPN started for %s (pid %d)", profileName, proc.PID())

	return fmt.Sprintf("Connecting to %s...", profileName), nil
}

// launchCommand builds the escalation prefix, the OpenVPN binary and its config.
func (m *Manager) launchCommand(configPath string) []string {
	argv := make([]string, 0, len(m.cfg.Escalation)+3)
	argv = append(argv, m.cfg.Escalation...)
	return append(argv, m.cfg.OpenVPNBinary, "--config", configPath)
}

// spawnWithPassword starts argv on a pty and answers its password prompt.
// It returns the output lines printed before the prompt.
// errNoPrompt means the caller should fall back to a pipe launch.
func (m *Manager) spawnWithPassword(argv []string, password string) (Process, []string, error) {
	proc, err := startPTYProcess(argv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errNoPrompt, err)
	}

	preamble, ok := waitForPrompt(proc, m.cfg.PromptTimeout)
	if !ok {
		_ = proc.Terminate(true)
		proc.Wait(time.Second)
		proc.Close()
		return nil, nil, errNoPrompt
	}

	if _, err := proc.Write([]byte(password + "\n")); err != nil {
		_ = proc.Terminate(true)
		proc.Close()
		return nil, nil, fmt.Errorf("%w: write password: %v", ErrAuthFailed, err)
	}

	if proc.Wait(m.cfg.AuthGrace) {
		proc.Close()
		return nil, nil, ErrAuthFailed
	}
	// Still running. This is not proof the password was accepted.
	return proc, preamble, nil
}

// waitForPrompt reads pty output until a password prompt appears, the
// stream ends or timeout elapses. On success it returns the lines printed
// before the prompt, without the prompt line itself.
func waitForPrompt(proc Process, timeout time.Duration) ([]string, bool) {
	deadline := time.Now().Add(timeout)
	var seen strings.Builder
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		chunk, err := proc.ReadChunk(min(remaining, common.LogPollInterval))
		if err != nil {
			return nil, false
		}
		if len(chunk) == 0 {
			continue
		}
		seen.Write(chunk)
		if text := seen.String(); hasPrompt(text) {
			return preambleLines(text), true
		}
	}
}

func hasPrompt(text string) bool {
	for _, marker := range promptMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// preambleLines splits pre-prompt output into log lines, dropping blanks
// and the prompt line.
func preambleLines(text string) []string {
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := cleanLine([]byte(raw))
		if line == "" || hasPrompt(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Disconnect stops the tracked OpenVPN process. The process group gets
// SIGTERM and, if it is still running after the terminate timeout, SIGKILL.
// Connection state is cleared in every case.
func (m *Manager) Disconnect() (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.IsConnected() {
		return "", common.NewUserError(ErrNotConnected, "Not connected")
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return "", common.NewUserError(ErrNotConnected, "Not connected")
	}

	common.LogInfo("Disconnecting from %s", conn.profile)

	forced := false
	if err := conn.proc.Terminate(false); err != nil {
		common.LogDebug("SIGTERM failed: %v", err)
		forced = true
	} else if !conn.proc.Wait(m.cfg.TerminateTimeout) {
		common.LogWarn("OpenVPN did not exit within %v", m.cfg.TerminateTimeout)
		forced = true
	}
	if forced {
		if err := conn.proc.Terminate(true); err != nil {
			common.LogDebug("SIGKILL failed: %v", err)
		}
		conn.proc.Wait(time.Second)
	}

	m.sweep()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.tunnelIP = ""
	}
	m.mu.Unlock()

	outcome := common.OutcomeDisconnected
	message := "Disconnected successfully"
	if forced {
		outcome = common.OutcomeForced
		message = "Disconnected (force)"
	}
	m.endSession(conn, outcome)
	m.metrics.Disconnected(forced)
	m.metrics.SetTunnelUp(false)
	m.notifier.Notify(common.EventDisconnected, conn.profile, "")

	return message, nil
}

// sweep kills any OpenVPN process left behind by name. Children started
// through sudo can escape the process group signal.
func (m *Manager) sweep() {
	if !m.cfg.SweepEnabled {
		return
	}
	argv := sweepCommand(m.cfg.Escalation, m.cfg.OpenVPNBinary)

	ctx, cancel := context.WithTimeout(context.Background(), common.SweepTimeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput(); err != nil {
		common.LogDebug("Sweep %v: %v %s", argv, err, strings.TrimSpace(string(out)))
	}
}

func sweepCommand(escalation []string, binary string) []string {
	argv := make([]string, 0, len(escalation)+4)
	argv = append(argv, escalation...)
	if len(escalation) > 0 && filepath.Base(escalation[0]) == "sudo" {
		// Never block on a password prompt here.
		argv = append(argv, "-n")
	}
	return append(argv, "pkill", "-x", filepath.Base(binary))
}

// IsConnected reports whether a launched process is still running. A dead
// process is noticed here: its state is cleared and its session closed.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return false
	}
	if conn.proc.Alive() {
		connected := conn.state == common.StatusConnected
		m.mu.Unlock()
		return connected
	}
	m.conn = nil
	m.tunnelIP = ""
	wasConnected := conn.state == common.StatusConnected
	if wasConnected {
		m.lost = conn.profile
	}
	m.mu.Unlock()

	if wasConnected {
		common.LogWarn("OpenVPN for %s exited", conn.profile)
		m.endSession(conn, common.OutcomeExited)
		m.metrics.SetTunnelUp(false)
		m.notifier.Notify(common.EventLost, conn.profile, "")
	}
	return false
}

// takeLost returns and clears the profile whose process was last found dead.
func (m *Manager) takeLost() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lost := m.lost
	m.lost = ""
	return lost
}

// ConnectionStatus reports whether a connection is live and for which profile.
func (m *Manager) ConnectionStatus() (bool, string) {
	if !m.IsConnected() {
		return false, ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return false, ""
	}
	return true, m.conn.profile
}

// Established reports whether OpenVPN has logged a completed initialization
// for the current connection.
func (m *Manager) Established() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.established
}

// Uptime returns how long the current connection has been running.
func (m *Manager) Uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return 0
	}
	return time.Since(m.conn.started)
}

// Logs returns a copy of the buffered OpenVPN output.
func (m *Manager) Logs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs.Snapshot()
}

// ConnectionIP returns the tunnel address. If connected and not yet known,
// one interface scan is attempted first.
func (m *Manager) ConnectionIP() string {
	m.mu.Lock()
	ip := m.tunnelIP
	m.mu.Unlock()
	if ip != "" {
		return ip
	}
	if !m.IsConnected() {
		return ""
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ""
	}
	m.scanTunnelIP(conn)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tunnelIP
}

// PublicIP returns the host's public IPv4 address, falling back to the last
// known value when the lookup fails.
func (m *Manager) PublicIP() string {
	return m.publicIP.Get(context.Background())
}

// CachedPublicIP returns the last known public IP without a network request.
func (m *Manager) CachedPublicIP() string {
	return m.publicIP.Cached()
}

// PublicIPLookup returns the lookup used by PublicIP.
func (m *Manager) PublicIPLookup() *PublicIPLookup {
	return m.publicIP
}

// HandleLogLine applies a log line to the current connection: it marks the
// tunnel established and discovers the tunnel IP when OpenVPN reports it.
func (m *Manager) HandleLogLine(line string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	m.onLogLine(conn, line)
}

func (m *Manager) onLogLine(conn *connection, line string) {
	switch classifyLine(line) {
	case lineEstablished:
		m.markEstablished(conn)
		m.scanTunnelIP(conn)
	case lineTunDevice:
		m.scanTunnelIP(conn)
	case linePeerInitiated:
		common.LogDebug("Peer connection initiated for %s", conn.profile)
	case lineAuthFailed:
		common.LogWarn("Server rejected credentials for %s", conn.profile)
		m.notifier.Notify(common.EventAuthFailed, conn.profile, line)
	}
}

func (m *Manager) markEstablished(conn *connection) {
	m.mu.Lock()
	if conn.established {
		m.mu.Unlock()
		return
	}
	conn.established = true
	m.mu.Unlock()

	common.LogInfo("Connection to %s established", conn.profile)
	m.metrics.SetTunnelUp(true)
	m.notifier.Notify(common.EventEstablished, conn.profile, "")
}

// scanTunnelIP lists interfaces and records the first tun/tap IPv4 address.
// Scan failures leave the tunnel IP unknown.
func (m *Manager) scanTunnelIP(conn *connection) {
	ctx, cancel := context.WithTimeout(context.Background(), common.InterfaceScanTimeout)
	defer cancel()

	listing, err := m.lister.ListInterfaces(ctx)
	if err != nil {
		common.LogDebug("Interface scan failed: %v", err)
		return
	}
	ip := ParseTunnelIP(listing)
	if ip == "" {
		return
	}

	m.mu.Lock()
	if m.conn != conn || m.tunnelIP != "" {
		m.mu.Unlock()
		return
	}
	m.tunnelIP = ip
	session := conn.session
	m.mu.Unlock()

	common.LogInfo("Tunnel IP for %s: %s", conn.profile, ip)
	if session != "" {
		if err := m.history.SetTunnelIP(session, ip); err != nil {
			common.LogDebug("Could not record tunnel IP: %v", err)
		}
	}
}

// readLogs drains the process output into the log ring until the stream
// ends or the process is gone. It owns closing the process handle.
func (m *Manager) readLogs(conn *connection) {
	defer close(conn.readerDone)
	defer conn.proc.Close()

	var splitter lineSplitter
	for {
		chunk, err := conn.proc.ReadChunk(common.LogPollInterval)
		if err != nil {
			m.appendLines(conn, splitter.Flush())
			return
		}
		if len(chunk) == 0 {
			if !conn.proc.Alive() {
				m.appendLines(conn, splitter.Flush())
				return
			}
			continue
		}
		m.appendLines(conn, splitter.Feed(chunk))
	}
}

func (m *Manager) appendLines(conn *connection, lines []string) {
	for _, line := range lines {
		m.mu.Lock()
		if m.conn != nil && m.conn != conn {
			// A newer connection owns the buffer.
			m.mu.Unlock()
			return
		}
		m.logs.Add(line)
		handler := m.logHandler
		m.mu.Unlock()

		m.metrics.LogLine()
		if handler != nil {
			handler(line)
		}
		m.onLogLine(conn, line)
	}
}

func (m *Manager) endSession(conn *connection, outcome string) {
	m.mu.Lock()
	session := conn.session
	conn.session = ""
	m.mu.Unlock()
	if session == "" {
		return
	}
	if err := m.history.End(session, outcome); err != nil {
		common.LogDebug("Could not record session end: %v", err)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(common.Event, string, string) {}

type nopRecorder struct{}

func (nopRecorder) Begin(string) (string, error)      { return "", nil }
func (nopRecorder) SetTunnelIP(string, string) error { return nil }
func (nopRecorder) End(string, string) error         { return nil }

type nopMetrics struct{}

func (nopMetrics) ConnectAttempt(string) {}
func (nopMetrics) Disconnected(bool)     {}
func (nopMetrics) LogLine()              {}
func (nopMetrics) SetTunnelUp(bool)      {}
