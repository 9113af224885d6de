package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRouteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Print the category a query routes to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cat := a.router.Route(cmd.Context(), strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), cat)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
