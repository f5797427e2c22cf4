package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/spf13/cobra"

	contentsync "github.com/keithlinneman/linnemanlabs-contentsync"
)

type watchLine struct {
	Time    string `json:"time"`
	Ref     string `json:"ref"`
	Value   any    `json:"value"`
	Initial bool   `json:"initial,omitempty"`
}

func watchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <ref>",
		Short: "Print a JSON line for every change of a reference until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[0]
			if err := validateRefs(args); err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := connect(ctx, cmd, opts, true)
			if err != nil {
				return err
			}
			defer client.Close()

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			unsubscribe := client.Observe(ref, func(u contentsync.Update) {
				mu.Lock()
				defer mu.Unlock()
				_ = enc.Encode(watchLine{
					Time:    time.Now().UTC().Format(time.RFC3339),
					Ref:     u.Reference,
					Value:   u.Value,
					Initial: u.Initial,
				})
			})
			defer unsubscribe()

			<-ctx.Done()
			return nil
		},
	}
}
