package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"brokerlink/internal/apperr"
)

func newLoginCmd(a *App) *cobra.Command {
	var user, broker string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Link a brokerage, or refresh the existing link to it",
		Long: `Registers the user on first use and starts a brokerage link flow. When an
enabled link to the same brokerage already exists it is refreshed instead
and no second link is created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := ctxOf(cmd)
			if strings.TrimSpace(user) == "" {
				user = a.session.Identity().UserID
			}
			if strings.TrimSpace(user) == "" || strings.TrimSpace(broker) == "" {
				return apperr.MissingFields("user", "broker")
			}
			if err := a.session.SetUser(ctx, user); err != nil {
				return err
			}

			id, gen := a.session.Begin()
			res, err := a.client.ConnectBroker(ctx, id.UserID, broker, id.UserSecret)
			if err != nil {
				return userError(err)
			}
			if _, err := a.session.Rotate(ctx, gen, res.UserSecret); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			out := cmd.OutOrStdout()
			if res.Existing() {
				fmt.Fprintf(out, "Already connected to %s (connection %s).\n", broker, res.ExistingConnectionID)
				if r := res.Refresh; r != nil && r.Attempted {
					if r.OK {
						fmt.Fprintln(out, "Connection refreshed.")
					} else {
						fmt.Fprintf(out, "Refresh failed: %s\n", r.Error)
					}
				}
				return nil
			}
			fmt.Fprintf(out, "Open this link to connect %s:\n%s\n", broker, res.RedirectURI)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the stored session user)")
	cmd.Flags().StringVar(&broker, "broker", "", "brokerage slug, e.g. ALPACA")
	return cmd
}

func newConnectionsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List brokerage links, refreshing each enabled one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conns, err := a.client.ListConnections(ctxOf(cmd), a.session.Identity())
			if err != nil {
				return userError(err)
			}
			if len(conns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No connections.")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "ID", "BROKER", "STATUS", "REFRESH")
			for _, c := range conns {
				status := "enabled"
				if c.Disabled {
					status = "disabled"
				}
				refresh := "-"
				switch {
				case c.Refresh.OK:
					refresh = "ok"
				case c.Refresh.Attempted:
					refresh = "failed: " + c.Refresh.Error
				}
				t.row(c.ID, c.BrokerName, status, refresh)
			}
			t.flush()
			return nil
		},
	}
}

func newCheckCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check <brokerageId>",
		Short: "Report whether an enabled link to a brokerage exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.CheckConnection(ctxOf(cmd), a.session.Identity(), args[0])
			if err != nil {
				return userError(err)
			}
			out := cmd.OutOrStdout()
			if res.HasActiveConnection {
				fmt.Fprintf(out, "Active connection to %s.\n", args[0])
			} else {
				fmt.Fprintf(out, "No active connection to %s.\n", args[0])
			}
			for _, c := range res.Connections {
				state := "enabled"
				if c.Disabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "  %s  %s\n", c.ID, state)
			}
			return nil
		},
	}
}

func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials and selected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session.Clear(ctxOf(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
