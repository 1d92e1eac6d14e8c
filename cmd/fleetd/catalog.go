package main

import (
	"encoding/json"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
)

func catalogCmd() *cobra.Command {
	var pattern string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the capability catalog",
		Example: `  fleetd catalog
  fleetd catalog --pattern 'robotdog.*'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var caps []capability.Capability
			for _, c := range capability.All() {
				if pattern == "" || capability.Matches(pattern, c.ID) {
					caps = append(caps, c)
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(caps)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Name", "Category", "Action", "Required", "Est. min"})
			for _, c := range caps {
				tw.AppendRow(table.Row{c.ID, c.Name, c.Category, c.Action, strings.Join(c.RequiredParameters(), ", "), task.EstimateMinutes(c.ID)})
			}
			tw.AppendFooter(table.Row{"", "", "", "", "Total", len(caps)})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "capability id or wildcard pattern (e.g. drone.*)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}
