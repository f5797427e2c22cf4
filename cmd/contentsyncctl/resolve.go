package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/binding"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

func resolveCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve <ref>...",
		Short: "Print the current value of one or more references",
		Long: "Resolve authenticates, waits for the initial sync and prints each reference.\n" +
			"References look like <tab>:<key>, color:<key>, image:<key>, store:<id> or meta:<name>.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateRefs(args); err != nil {
				return err
			}
			client, err := connect(cmd.Context(), cmd, opts, false)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if asJSON {
				vals := make(map[string]any, len(args))
				for _, ref := range args {
					vals[ref] = client.Resolve(ref)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(vals)
			}
			for _, ref := range args {
				fmt.Fprintf(out, "%s\t%s\n", ref, formatValue(client.Resolve(ref)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON object keyed by reference")
	return cmd
}

func validateRefs(refs []string) error {
	for _, ref := range refs {
		if _, ok := binding.Parse(ref); !ok {
			return xerrors.Newf("invalid reference %q", ref)
		}
	}
	return nil
}

// formatValue prints strings bare and everything else as compact JSON.
func formatValue(val any) string {
	if s, ok := val.(string); ok {
		return s
	}
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Sprint(val)
	}
	return string(b)
}
