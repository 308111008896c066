package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newPeersCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage the replicas this node signals",
	}

	var alias, url string
	add := &cobra.Command{
		Use:   "add DID",
		Short: "Add a peer by did:key",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			p, err := a.roster.Add(args[0], alias, url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", p.Alias, p.DID)
			return nil
		}),
	}
	add.Flags().StringVar(&alias, "alias", "", "local name (default: generated petname)")
	add.Flags().StringVar(&url, "url", "", "websocket URL of the peer's signal endpoint")

	list := &cobra.Command{
		Use:   "list",
		Short: "List peers and when they were last seen",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			now := time.Now()
			active := make(map[string]bool)
			for _, p := range a.roster.Active(a.cfg.ActiveAgentDuration, now) {
				active[p.DID] = true
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tDID\tURL\tLAST SEEN")
			for _, p := range a.roster.List() {
				seen := "never"
				if !p.LastSeen.IsZero() {
					seen = now.Sub(p.LastSeen).Truncate(time.Second).String() + " ago"
					if active[p.DID] {
						seen += " (active)"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Label(), p.DID, p.URL, seen)
			}
			return w.Flush()
		}),
	}

	remove := &cobra.Command{
		Use:   "remove DID|ALIAS",
		Short: "Remove a peer",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			return a.roster.Remove(args[0])
		}),
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
