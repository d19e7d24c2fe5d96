package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type scanRow struct {
	Stage    string `json:"stage"`
	Key      string `json:"key"`
	Platform string `json:"platform"`
	Identity string `json:"identity"`
	Verdict  string `json:"verdict"`
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var stageIDs []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Preview the candidates each stage would process",
		Long: `List the keys each stage would consider and whether they are actionable.

Nothing is written to the object store. A key is "settled" when it is already
processed or its output exists, and "corrupted" when its body cannot be read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.toolLogger()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), ctx.configValue(), logger, stageIDs...)
			if err != nil {
				return err
			}
			defer rt.Close()

			var rows []scanRow
			actionable := 0
			for _, st := range rt.stages {
				keys, err := rt.engine.Scanner.Scan(cmd.Context(), st)
				if err != nil {
					return fmt.Errorf("scan %s: %w", st.ID, err)
				}
				for _, key := range keys {
					verdict, err := rt.engine.Inspect(cmd.Context(), st, key)
					if err != nil {
						verdict = "error: " + err.Error()
					}
					if verdict == "actionable" {
						actionable++
					}
					rows = append(rows, scanRow{
						Stage:    st.ID,
						Key:      key.String(),
						Platform: key.Platform,
						Identity: key.Identity,
						Verdict:  verdict,
					})
				}
			}

			if jsonOutput {
				if rows == nil {
					rows = []scanRow{}
				}
				return writeJSON(cmd, rows)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No candidates found")
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.Stage, r.Key, r.Verdict})
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Key", "Verdict"}, table, nil))
			fmt.Fprintf(out, "%d candidates, %d actionable\n", len(rows), actionable)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&stageIDs, "stage", "s", nil, "Limit to these stages (goal, content, posts)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output candidates as JSON")
	return cmd
}
