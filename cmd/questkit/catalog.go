package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"questkit/catalog"
	"questkit/core"
)

func newCatalogCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect quest template catalogs",
	}
	cmd.AddCommand(newCatalogValidateCmd(c), newCatalogShowCmd(c), newCatalogInstantiateCmd(c))
	return cmd
}

func newCatalogValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that every template in FILE is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s: %d template(s) ok\n", args[0], cat.Len())
			return nil
		},
	}
}

func newCatalogShowCmd(c *cli) *cobra.Command {
	var (
		format   string
		template string
	)
	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print the templates in FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			templates := cat.List()
			if template != "" {
				t, ok := cat.Get(template)
				if !ok {
					return fmt.Errorf("%w: %q", catalog.ErrTemplateNotFound, template)
				}
				templates = []catalog.Template{t}
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(c.out)
				enc.SetIndent(2)
				if err := enc.Encode(map[string]any{"templates": templates}); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(templates)
			case "table":
				for _, t := range templates {
					fmt.Fprintf(c.out, "%-24s %-32s %4d xp  %d criteria\n", t.ID, t.Title, t.RewardXP, len(t.Criteria))
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q (want table, yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, yaml or json")
	cmd.Flags().StringVarP(&template, "template", "t", "", "only show this template")
	return cmd
}

func newCatalogInstantiateCmd(c *cli) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "instantiate FILE TEMPLATE",
		Short: "Print the quest a template yields for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			normalized, err := core.NormalizeUserID(core.UserID(user))
			if err != nil {
				return err
			}
			q, err := cat.Instantiate(args[1], normalized, time.Now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user the quest is created for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
