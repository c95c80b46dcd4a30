package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonletto/webdemos/internal/accesslog"
)

var errHistoryDisabled = errors.New("access history is disabled (set WEBDEMOS_ACCESS_DB or access_db)")

func historyCmd() *cobra.Command {
	var (
		limit int
		ip    string
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent requests from the access history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.Config(cmd)
			if err != nil {
				return err
			}
			if cfg.AccessDB == "" {
				return errHistoryDisabled
			}

			store, err := accesslog.Open(cfg.AccessDB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			q := accesslog.Query{Limit: limit, RemoteIP: ip}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			records, err := store.Recent(context.Background(), q)
			if err != nil {
				return err
			}

			if globals.JSON {
				output, _ := json.MarshalIndent(records, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			if len(records) == 0 {
				fmt.Println("No requests recorded")
				return nil
			}
			for _, r := range records {
				uri := r.URI
				if r.Query != "" {
					uri += "?" + r.Query
				}
				fmt.Printf("%s  %-15s  %-6s %3d %7dB  %s\n",
					r.Time.Local().Format("2006-01-02 15:04:05"), r.RemoteIP, r.Method, r.Status, r.Bytes, uri)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of requests to show")
	cmd.Flags().StringVar(&ip, "ip", "", "Only show requests from this address")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show requests newer than this (e.g. 1h)")
	return cmd
}
