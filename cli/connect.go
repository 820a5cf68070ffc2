package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yllada/openvpn-manager/common"
	"github.com/yllada/openvpn-manager/config"
	"github.com/yllada/openvpn-manager/metrics"
	"github.com/yllada/openvpn-manager/notify"
	"github.com/yllada/openvpn-manager/vpn"
)

// watchInterval is how often the foreground session polls for establishment.
const watchInterval = 500 * time.Millisecond

type connectOptions struct {
	askPassword   bool
	passwordStdin bool
	savePassword  bool
	metricsAddr   string
}

func (a *app) newConnectCommand() *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect NAME",
		Short: "Connect to a profile and stay in the foreground",
		Long: `Start OpenVPN for a profile and stream its log until interrupted.
Ctrl-C disconnects. A password, when given, is typed into the
privilege-escalation prompt. Without a password flag, a password saved
with --save-password is used.

Example:
  openvpn-manager connect Office --ask-password --save-password
  echo secret | openvpn-manager connect Office --password-stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConnect(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.askPassword, "ask-password", "p", false, "prompt for the escalation password")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the escalation password from stdin")
	cmd.Flags().BoolVar(&opts.savePassword, "save-password", false, "save the password to the keyring")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /status on this address")
	cmd.MarkFlagsMutuallyExclusive("ask-password", "password-stdin")

	return cmd
}

func (a *app) runConnect(cmd *cobra.Command, name string, opts connectOptions) error {
	out := &syncWriter{w: cmd.OutOrStdout()}

	password, entered, err := a.readPassword(cmd, name, opts)
	if err != nil {
		return err
	}

	store, err := a.openProfiles()
	if err != nil {
		return err
	}

	notifier := notify.NewDesktop(a.cfg.Notifications)
	defer notifier.Wait()

	m := metrics.New()
	managerOpts := []vpn.Option{
		vpn.WithConfig(a.cfg),
		vpn.WithNotifier(notifier),
		vpn.WithMetrics(m),
	}
	if a.cfg.HistoryEnabled {
		hist, err := a.openHistory()
		if err != nil {
			common.LogWarn("Session history disabled: %v", err)
		} else {
			defer hist.Close()
			if n, err := hist.CloseOpen(); err == nil && n > 0 {
				common.LogInfo("Closed %d session(s) left open by a previous run", n)
			}
			managerOpts = append(managerOpts, vpn.WithSessionRecorder(hist))
		}
	}

	manager := vpn.NewManager(store, managerOpts...)
	manager.PublicIPLookup().SetObserver(m.PublicIPLookup)
	manager.SetLogHandler(func(line string) {
		fmt.Fprintln(out, logStyle.Render(line))
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msg, err := manager.Connect(name, password)
	if err != nil {
		return err
	}
	printSuccess(out, "%s", msg)

	if opts.savePassword && entered {
		if err := a.passwordStore().Set(name, password); err != nil {
			printWarn(out, "Could not save password: %v", err)
		} else {
			common.LogInfo("Saved password for %s", name)
		}
	}

	if opts.metricsAddr != "" {
		srv, err := metrics.Listen(opts.metricsAddr, metrics.Router(m, manager))
		if err != nil {
			printWarn(out, "Metrics disabled: %v", err)
		} else {
			go func() {
				if err := srv.Serve(ctx); err != nil {
					common.LogWarn("Metrics server stopped: %v", err)
				}
			}()
			printField(out, "Metrics", "http://"+srv.Addr()+"/metrics")
		}
	}

	lost := make(chan string, 1)
	giveUp := func(profileName string) {
		select {
		case lost <- profileName:
		default:
		}
	}

	monitor := vpn.NewMonitor(manager, monitorConfig(a.cfg), a.passwordStore())
	monitor.SetOnLost(func(profileName string) {
		printWarn(out, "Connection to %s lost", profileName)
		if !a.cfg.AutoReconnect {
			giveUp(profileName)
		}
	})
	monitor.SetOnReconnecting(func(profileName string, attempt int) {
		printWarn(out, "Reconnecting to %s (attempt %d)", profileName, attempt)
	})
	monitor.SetOnReconnected(func(profileName string) {
		printSuccess(out, "Reconnected to %s", profileName)
	})
	monitor.SetOnReconnectFailed(func(profileName string, err error) {
		printError(out, "Reconnect to %s failed: %v", profileName, err)
		giveUp(profileName)
	})
	monitor.Start()
	defer monitor.Stop()

	return watch(ctx, out, manager, lost)
}

// watch reports establishment and blocks until the session ends.
func watch(ctx context.Context, out io.Writer, manager *vpn.Manager, lost <-chan string) error {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			uptime := manager.Uptime()
			msg, err := manager.Disconnect()
			if errors.Is(err, common.ErrNotConnected) {
				return nil
			}
			if err != nil {
				return err
			}
			printSuccess(out, "%s", msg)
			printField(out, "Uptime", formatDuration(uptime))
			return nil

		case profileName := <-lost:
			return fmt.Errorf("connection to %s lost", profileName)

		case <-ticker.C:
			if !manager.Established() {
				reported = false
				continue
			}
			if reported {
				continue
			}
			reported = true
			_, profileName := manager.ConnectionStatus()
			printSuccess(out, "Connected to %s", profileName)
			printField(out, "Tunnel IP", orUnknown(manager.ConnectionIP()))
			printField(out, "Public IP", orUnknown(manager.PublicIP()))
		}
	}
}

func monitorConfig(cfg *config.Config) vpn.MonitorConfig {
	mc := vpn.DefaultMonitorConfig()
	mc.CheckInterval = cfg.MonitorInterval
	mc.AutoReconnect = cfg.AutoReconnect
	return mc
}

// readPassword returns the escalation password and whether it was entered
// on this run rather than loaded from the keyring.
func (a *app) readPassword(cmd *cobra.Command, name string, opts connectOptions) (string, bool, error) {
	switch {
	case opts.passwordStdin:
		password, err := readLine(cmd.InOrStdin())
		if err != nil {
			return "", false, fmt.Errorf("reading password from stdin: %w", err)
		}
		return password, password != "", nil

	case opts.askPassword:
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", false, errors.New("--ask-password needs a terminal; use --password-stdin")
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Password for privilege escalation: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", false, err
		}
		return string(raw), len(raw) > 0, nil
	}

	password, err := a.passwordStore().Get(name)
	if err != nil {
		return "", false, nil
	}
	common.LogDebug("Using saved password for %s", name)
	return password, false, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// syncWriter serializes writes from the log reader and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
