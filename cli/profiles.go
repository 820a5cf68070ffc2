package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yllada/openvpn-manager/common"
)

func (a *app) newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME CONFIG",
		Short: "Add or replace a profile",
		Long: `Add a profile pointing at an OpenVPN config file. The server address is
read from the config's remote directive. An existing profile with the same
name is replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openProfiles()
			if err != nil {
				return err
			}

			configPath, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}

			profile, err := store.Add(args[0], configPath)
			if errors.Is(err, common.ErrConfigNotFound) {
				return fmt.Errorf("config file not found: %s", configPath)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSuccess(out, "Profile %s saved", profile.Name)
			printField(out, "Server", profile.DisplayAddress())
			return nil
		},
	}
}

func (a *app) newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Remove a profile and its saved password",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openProfiles()
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				if errors.Is(err, common.ErrProfileNotFound) {
					return fmt.Errorf("profile '%s' not found", args[0])
				}
				return err
			}
			if err := a.passwordStore().Delete(args[0]); err != nil {
				common.LogDebug("Could not delete saved password for %s: %v", args[0], err)
			}
			printSuccess(cmd.OutOrStdout(), "Profile %s removed", args[0])
			return nil
		},
	}
}

func (a *app) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openProfiles()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			profiles := store.List()
			if len(profiles) == 0 {
				fmt.Fprintln(out, "No VPN profiles configured.")
				fmt.Fprintln(out, "Add one with: openvpn-manager add NAME CONFIG")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSERVER\tLAST USED\tCONFIG")
			fmt.Fprintln(w, "----\t------\t---------\t------")
			for _, p := range profiles {
				lastUsed := "never"
				if !p.LastUsed.IsZero() {
					lastUsed = p.LastUsed.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.DisplayAddress(), lastUsed, p.ConfigPath)
			}
			return w.Flush()
		},
	}
}

func (a *app) newServerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server NAME",
		Short: "Print a profile's server address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openProfiles()
			if err != nil {
				return err
			}
			address, ok := store.ServerAddress(args[0])
			if !ok {
				address = "unknown"
			}
			fmt.Fprintln(cmd.OutOrStdout(), address)
			return nil
		},
	}
}
