package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemshift/diffsync/internal/diffsync"
	"github.com/systemshift/diffsync/internal/perspective"
)

func newAddCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add SOURCE PREDICATE TARGET",
		Short: "Sign a link and commit it",
		Long: `Sign a link with the local identity and commit it as a one-link diff.
Pass an empty string to leave a part of the triple out.`,
		Args: cobra.ExactArgs(3),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			l, err := perspective.Sign(a.identity, perspective.NewTriple(args[0], args[1], args[2]), time.Now())
			if err != nil {
				return err
			}
			return commitAndPrint(cmd, a, perspective.PerspectiveDiff{Additions: []perspective.LinkExpression{l}})
		}),
	}
}

func newRemoveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove SOURCE PREDICATE TARGET",
		Short: "Commit the removal of every link with this triple",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			p, err := a.node.Render(cmd.Context())
			if err != nil {
				return err
			}
			triple := perspective.NewTriple(args[0], args[1], args[2])
			var diff perspective.PerspectiveDiff
			for _, l := range p.Links {
				if l.Data.Equal(triple) {
					diff.Removals = append(diff.Removals, l)
				}
			}
			if diff.IsEmpty() {
				return errors.New("no link matches")
			}
			return commitAndPrint(cmd, a, diff)
		}),
	}
}

func newCommitCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "commit -f DIFF.json",
		Short: "Commit a diff of signed links from a JSON file",
		Long: `Commit a diff of the form {"additions": [...], "removals": [...]}.
Every link must carry a valid signature of its author.`,
		Args: cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var diff perspective.PerspectiveDiff
			if err := json.Unmarshal(data, &diff); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			for _, l := range append(append([]perspective.LinkExpression(nil), diff.Additions...), diff.Removals...) {
				if err := perspective.Verify(l); err != nil {
					return fmt.Errorf("link by %s: %w", l.Author, err)
				}
			}
			return commitAndPrint(cmd, a, diff)
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "diff JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func commitAndPrint(cmd *cobra.Command, a *app, diff perspective.PerspectiveDiff) error {
	h, err := a.node.Commit(cmd.Context(), diff)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), h)
	return nil
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the links of the current revision",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			p, err := a.node.Render(cmd.Context())
			if errors.Is(err, diffsync.ErrNoCurrentRevision) {
				p, err = perspective.Perspective{}, nil
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if p.Links == nil {
					p.Links = []perspective.LinkExpression{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			for _, l := range p.Links {
				fmt.Fprintf(out, "%s %s %s\t%s\n", part(l.Data.Source), part(l.Data.Predicate), part(l.Data.Target), l.Author)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the perspective as JSON")
	return cmd
}

func part(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
