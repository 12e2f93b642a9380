package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mrc-ide/outpack-server/internal/index"
	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query"
	"github.com/mrc-ide/outpack-server/internal/query/eval"
	"github.com/mrc-ide/outpack-server/internal/store"
)

// NewSearchCommand creates the search command
func NewSearchCommand() *cobra.Command {
	var (
		env     []string
		this    string
		asJSON  bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find packets matching a query",
		Long: `Evaluate a query against the repository's metadata.

Examples:
  outpack search latest
  outpack search 'name == "data" && parameter:x > 1'
  outpack search 'parameter:x == environment:x' --env x=2
  outpack search 'latest(name == "data" && parameter:x == this:x)' --this 20230101-000000-aaaaaaaa`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rootPath(cmd)
			if err != nil {
				return err
			}
			environment, err := query.ParseEnvironment(env)
			if err != nil {
				return err
			}

			idx := index.New()
			root, err := store.Open(path, idx)
			if err != nil {
				return err
			}
			if _, err := root.LoadIndex(); err != nil {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			c := eval.Context{Environment: environment}
			if this != "" {
				p, ok := idx.Get(this)
				if !ok {
					return fmt.Errorf("packet '%s' not found", this)
				}
				c.This = p
			}

			engine := query.NewEngine(idx)
			sel, err := engine.EvaluateQuery(context.Background(), args[0], c)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sel)
			}
			renderSelection(cmd.OutOrStdout(), idx, sel, noColor)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Environment binding key=value (repeatable)")
	cmd.Flags().StringVar(&this, "this", "", "Packet id bound to this: lookups")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the selection as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colour output")

	return cmd
}

func renderSelection(w io.Writer, idx *index.Index, sel eval.Selection, noColor bool) {
	if sel.IsEmpty() {
		color.New(color.FgYellow).Fprintln(w, "No packets found")
		return
	}

	t := newTable(w, []string{"ID", "NAME", "PARAMETERS"}, noColor)
	for _, id := range sel.IDs {
		p, ok := idx.Get(id)
		if !ok {
			continue
		}
		t.addRow(p.ID, p.Name, formatParameters(p))
	}
	t.render()
}

func formatParameters(p *metadata.Packet) string {
	keys := p.ParameterKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%#v", k, p.Parameters[k])
	}
	return strings.Join(parts, ", ")
}

// NewParseCommand creates the parse command
func NewParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Check a query and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.NewEngine(index.New()).Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), q.String())
			return nil
		},
	}
}
