package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/snapcheck/internal/controller"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		url    string
		query  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autocomplete suite once and exit non-zero on failure",
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

			run, err := rt.svc.Run(cmd.Context(), controller.RunRequest{URL: url, StartingQuery: query})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(run); err != nil {
					return err
				}
			} else {
				printRun(out, run)
			}
			if run.Status != controller.StatusPassed {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page URL overriding the suite url")
	cmd.Flags().StringVar(&query, "query", "", "query overriding the suite starting_query")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run record as JSON")
	return cmd
}

func printRun(w io.Writer, run controller.Run) {
	group := ""
	for _, r := range run.Results {
		if r.Group != group {
			group = r.Group
			fmt.Fprintf(w, "\n%s\n", group)
		}
		mark := "ok  "
		switch r.Status {
		case scenario.Failed:
			mark = "FAIL"
		case scenario.Skipped:
			mark = "skip"
		}
		fmt.Fprintf(w, "  %s %s", mark, r.Name)
		if r.Message != "" {
			fmt.Fprintf(w, ": %s", r.Message)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%s: %s\n", run.Status, run.Summary)
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	if run.ResultsFile != "" {
		fmt.Fprintf(w, "results: %s\n", run.ResultsFile)
	}
}
