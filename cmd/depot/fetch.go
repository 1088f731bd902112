package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eugener/depot/internal/config"
	"github.com/eugener/depot/internal/datacache"
	"github.com/eugener/depot/internal/fetch"
)

// newFetchCmd returns a command that fetches one configured source once,
// bypassing the cache, and prints the indented JSON.
func newFetchCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "fetch <source> [-p key=value]...",
		Short: "Fetch a configured source once and print the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			sources, err := datacache.NewSources(cfg.ToSources())
			if err != nil {
				return err
			}
			src, err := sources.Lookup(args[0])
			if err != nil {
				return err
			}

			extra := make(map[string]string, len(params))
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok || k == "" {
					return fmt.Errorf("param %q: want key=value", p)
				}
				extra[k] = v
			}
			opts := datacache.OptionsFor(src, extra)

			client := newFetchClient(cfg.Fetch, nil, nil)
			data, err := client.Fetch(cmd.Context(), fetch.Request{
				URL:     src.URL,
				Method:  opts.Method,
				Params:  opts.Params,
				Headers: opts.Headers,
			})
			if err != nil {
				return err
			}

			var out bytes.Buffer
			if err := json.Indent(&out, data, "", "  "); err != nil {
				return err
			}
			out.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(out.Bytes())
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "extra query parameter (repeatable)")
	return cmd
}
