package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yllada/openvpn-manager/history"
	"github.com/yllada/openvpn-manager/vpn"
)

func (a *app) newPublicIPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "public-ip",
		Short: "Print this host's public IPv4 address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lookup := vpn.NewPublicIPLookup(a.cfg.PublicIPEndpoint, a.cfg.PublicIPTimeout)
			ip := lookup.Get(cmd.Context())
			if ip == "" {
				return errors.New("could not determine public IP")
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}
}

func (a *app) newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent connection sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			sessions, err := hist.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPROFILE\tDURATION\tTUNNEL IP\tOUTCOME")
			fmt.Fprintln(w, "-------\t-------\t--------\t---------\t-------")
			for _, s := range sessions {
				outcome := s.Outcome
				if s.EndedAt.IsZero() {
					outcome = "active"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.StartedAt.Local().Format("2006-01-02 15:04:05"),
					s.Profile,
					formatDuration(s.Duration()),
					orUnknown(s.TunnelIP),
					outcome)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "count", "n", 20, "number of sessions to show")
	return cmd
}

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OpenVPN Manager v%s\n", a.build.Version)
			if a.build.Built != "" && a.build.Built != "unknown" {
				fmt.Fprintf(out, "  Build:  %s\n", a.build.Built)
				fmt.Fprintf(out, "  Commit: %s\n", a.build.Commit)
			}
		},
	}
}

func (a *app) openHistory() (*history.Store, error) {
	path, err := history.DefaultPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}
