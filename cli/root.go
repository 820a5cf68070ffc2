// Package cli provides the command-line interface for OpenVPN Manager.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yllada/openvpn-manager/common"
	"github.com/yllada/openvpn-manager/config"
	"github.com/yllada/openvpn-manager/keyring"
	"github.com/yllada/openvpn-manager/vpn"
)

// BuildInfo carries the version stamped in at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Built   string
}

// app holds state shared by all commands.
type app struct {
	build      BuildInfo
	configPath string
	verbose    bool
	// fileLogging is disabled in tests.
	fileLogging bool

	cfg *config.Config
	// passwords overrides the process-wide keyring store.
	passwords *keyring.Store
}

// Execute runs the root command and returns the process exit code.
func Execute(build BuildInfo) int {
	root := newRootCommand(&app{build: build, fileLogging: true})
	err := root.Execute()
	common.CloseLogger()
	if err != nil {
		printError(os.Stderr, "%v", err)
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "openvpn-manager",
		Short: "Manage OpenVPN client connections",
		Long: `OpenVPN Manager keeps named OpenVPN profiles and runs one connection
at a time, streaming its log and reporting the tunnel and public IP.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "settings file (default ~/.config/openvpn-manager/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.newAddCommand(),
		a.newRemoveCommand(),
		a.newListCommand(),
		a.newServerCommand(),
		a.newConnectCommand(),
		a.newPublicIPCommand(),
		a.newHistoryCommand(),
		a.newVersionCommand(),
	)
	return root
}

// setup initializes logging and loads the settings file.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	level := common.LevelInfo
	if a.verbose {
		level = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:      level,
		EnableFile: a.fileLogging,
	}); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: Could not initialize file logging: %v\n", err)
	}

	path := a.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// openProfiles opens the profile store with the configured resolver.
func (a *app) openProfiles() (*vpn.ProfileStore, error) {
	path, err := vpn.DefaultProfilesPath()
	if err != nil {
		return nil, err
	}
	inspector := vpn.NewInspector(vpn.DefaultResolver(a.cfg.DNSServers))
	return vpn.NewProfileStore(path, inspector)
}

func (a *app) passwordStore() *keyring.Store {
	if a.passwords != nil {
		return a.passwords
	}
	return keyring.Default()
}
