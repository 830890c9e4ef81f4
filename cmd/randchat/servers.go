package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/randchat/pkg/client"
)

func serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List saved chat servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := loadServers(cmd)
			if err != nil {
				return err
			}
			if len(list.Servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved servers. Add one with: randchat servers add NAME ENDPOINT")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENDPOINT\tLAST USED")
			for _, s := range list.Recent() {
				last := "never"
				if s.LastUsed > 0 {
					last = time.Unix(s.LastUsed, 0).Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Endpoint, last)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(serversAddCmd())
	return cmd
}

func serversAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME ENDPOINT",
		Short: "Save a chat server endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, endpoint := args[0], args[1]
			u, err := url.Parse(endpoint)
			if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
				return fmt.Errorf("endpoint %q must be a ws:// or wss:// URL", endpoint)
			}
			list, err := loadServers(cmd)
			if err != nil {
				return err
			}
			verb := "Updated"
			if list.Add(client.Server{Name: name, Endpoint: endpoint}) {
				verb = "Saved"
			}
			if err := list.Save(); err != nil {
				return fmt.Errorf("save servers: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, name, endpoint)
			return nil
		},
	}
}

func loadServers(cmd *cobra.Command) (*client.ServerList, error) {
	path, _ := cmd.Flags().GetString("servers-file")
	list := client.NewServerList(path)
	if err := list.Load(); err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	return list, nil
}
