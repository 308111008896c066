package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "diffsync",
		Short: "Replicate a perspective of signed links between peers",
		Long: `diffsync keeps a replica of a shared set of signed links. Every change is
a diff committed onto a causal graph of revisions; replicas pull each other's
revisions, fast-forward when they can and merge when histories diverged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&g.dataDir, "data", ".", "data directory (contains .diffsync/)")
	pf.StringVar(&g.backend, "backend", "file", "storage backend: file, badger, kubo or memory")
	pf.StringVar(&g.kuboAPI, "kubo-api", "", "Kubo RPC URL for the kubo backend")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newAddCmd(g),
		newRemoveCmd(g),
		newCommitCmd(g),
		newPullCmd(g),
		newRenderCmd(g),
		newRevisionsCmd(g),
		newPeersCmd(g),
		newServeCmd(g),
		newMountCmd(g),
	)
	return root
}
