package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the suite file without opening a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSuite()
			if err != nil {
				return err
			}
			problems := s.Problems()
			for _, p := range problems {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("suite %s has %d problem(s)", a.suitePath, len(problems))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: %s, %d intercept(s)\n", a.suitePath, s.URL, len(s.Intercepts))
			return nil
		},
	}
}
