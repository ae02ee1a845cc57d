package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/snapcheck/internal/controller"
)

func newBootstrapCmd(a *app) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Open the page and run only the compatibility bootstrap",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSuite()
			if err != nil {
				return err
			}
			rt, err := a.newStack(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.svc.Bootstrap(cmd.Context(), controller.RunRequest{URL: url})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page URL overriding the suite url")
	return cmd
}
