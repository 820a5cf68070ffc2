// Package notify delivers desktop notifications for connection events.
// Notifications go over the session D-Bus to org.freedesktop.Notifications,
// with notify-send as a fallback.
package notify

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/openvpn-manager/common"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"

	sendTimeout = 3 * time.Second
)

// Urgency levels understood by org.freedesktop.Notifications.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// String returns the name notify-send expects.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Notification is a single desktop notification.
type Notification struct {
	Title   string
	Message string
	Icon    string
	Urgency Urgency
}

// Sender delivers a notification to the desktop.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// DBusSender talks to the notification daemon on the session bus.
type DBusSender struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// Send calls org.freedesktop.Notifications.Notify.
func (s *DBusSender) Send(ctx context.Context, n Notification) error {
	conn, err := s.connect()
	if err != nil {
		return err
	}

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}
	obj := conn.Object(busName, dbus.ObjectPath(objectPath))
	call := obj.CallWithContext(ctx, notifyCall, 0,
		common.AppName, uint32(0), n.Icon, n.Title, n.Message,
		[]string{}, hints, int32(-1))
	return call.Err
}

func (s *DBusSender) connect() (*dbus.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Close releases the bus connection.
func (s *DBusSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// CommandSender shells out to notify-send.
type CommandSender struct{}

// Send runs notify-send with the notification fields.
func (CommandSender) Send(ctx context.Context, n Notification) error {
	cmd := exec.CommandContext(ctx, "notify-send",
		"--app-name="+common.AppName,
		"--icon="+n.Icon,
		"--urgency="+n.Urgency.String(),
		n.Title,
		n.Message,
	)
	return cmd.Run()
}

// FallbackSender tries each sender in order until one succeeds.
type FallbackSender []Sender

// Send returns the last error when every sender fails.
func (f FallbackSender) Send(ctx context.Context, n Notification) error {
	var err error
	for _, s := range f {
		if err = s.Send(ctx, n); err == nil {
			return nil
		}
		common.LogDebug("Notification sender failed: %v", err)
	}
	return err
}

// Desktop implements common.Notifier. Delivery happens off the caller's
// goroutine so the log reader is never held up by the notification daemon.
type Desktop struct {
	sender  Sender
	enabled bool
	wg      sync.WaitGroup
}

// NewDesktop returns a notifier using D-Bus with a notify-send fallback.
func NewDesktop(enabled bool) *Desktop {
	return NewDesktopWithSender(FallbackSender{&DBusSender{}, CommandSender{}}, enabled)
}

// NewDesktopWithSender returns a notifier delivering through sender.
func NewDesktopWithSender(sender Sender, enabled bool) *Desktop {
	return &Desktop{sender: sender, enabled: enabled}
}

// Notify sends a notification for event. It does nothing when disabled.
func (d *Desktop) Notify(event common.Event, profileName, detail string) {
	if !d.enabled {
		return
	}
	n, ok := Build(event, profileName, detail)
	if !ok {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := d.sender.Send(ctx, n); err != nil {
			common.LogWarn("Could not show notification: %v", err)
		}
	}()
}

// Wait blocks until pending notifications have been delivered.
func (d *Desktop) Wait() {
	d.wg.Wait()
}

// Build returns the notification shown for event.
func Build(event common.Event, profileName, detail string) (Notification, bool) {
	switch event {
	case common.EventConnecting:
		return Notification{
			Title:   "Connecting VPN",
			Message: "Connecting to " + profileName + "...",
			Icon:    "network-vpn-acquiring",
			Urgency: UrgencyLow,
		}, true
	case common.EventEstablished:
		msg := "Connected to " + profileName
		if detail != "" {
			msg += " (" + detail + ")"
		}
		return Notification{
			Title:   "VPN Connected",
			Message: msg,
			Icon:    "network-vpn",
			Urgency: UrgencyLow,
		}, true
	case common.EventDisconnected:
		return Notification{
			Title:   "VPN Disconnected",
			Message: "Disconnected from " + profileName,
			Icon:    "network-vpn-disconnected",
			Urgency: UrgencyNormal,
		}, true
	case common.EventLost:
		return Notification{
			Title:   "VPN Connection Lost",
			Message: "The connection to " + profileName + " was lost",
			Icon:    "network-vpn-error",
			Urgency: UrgencyCritical,
		}, true
	case common.EventAuthFailed:
		msg := profileName + ": authentication failed"
		if detail != "" {
			msg = profileName + ": " + detail
		}
		return Notification{
			Title:   "Connection Error",
			Message: msg,
			Icon:    "dialog-error",
			Urgency: UrgencyCritical,
		}, true
	default:
		return Notification{}, false
	}
}
