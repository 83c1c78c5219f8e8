package main

import (
	"fmt"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"llamagen/internal/registry"
)

func newModelsCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the GGUF models found in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			models, err := registry.LoadDir(cfg.ModelsDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.MarshalIndent(models, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tQUANT\tFAMILY\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Quant, m.Family, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newInfoCmd(o *options) *cobra.Command {
	var sanity bool
	cmd := &cobra.Command{
		Use:   "info [model]",
		Short: "Load a model and print its runtime details",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()
			var v any
			if sanity {
				v = mgr.SanityCheck()
			} else {
				var id string
				if len(args) == 1 {
					id = args[0]
				}
				if err := mgr.EnsureInstance(cmd.Context(), id); err != nil {
					return err
				}
				info, err := mgr.Describe(id)
				if err != nil {
					return err
				}
				v = info
			}
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().BoolVar(&sanity, "sanity", false, "Print the startup sanity report instead of loading")
	return cmd
}
