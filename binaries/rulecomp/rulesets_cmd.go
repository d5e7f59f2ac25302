package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type rulesetsCmd struct{}

func (c *rulesetsCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "rulesets",
		Short: "List the rule-sets each test runs with",
	}
}

func (c *rulesetsCmd) run(cl *rulecompCLI, cmd *cobra.Command, args []string) error {
	cfg, tests, err := cl.load()
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(cl.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TEST", "FLAVOURS", "RULESETS"})
	t.AppendRows(rulesetNames(cfg, tests))
	t.Render()
	return nil
}
