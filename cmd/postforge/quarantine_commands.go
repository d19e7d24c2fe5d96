package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"postforge/internal/api"
	"postforge/internal/config"
)

func newQuarantineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and requeue failure records",
	}
	cmd.AddCommand(newQuarantineListCommand(ctx))
	cmd.AddCommand(newQuarantineRequeueCommand(ctx))
	return cmd
}

// quarantineStages returns the requested stages or every stage. Quarantine
// records outlive the enabled flags, so disabled stages are still listed.
func quarantineStages(ids []string) []string {
	if len(ids) > 0 {
		return ids
	}
	return config.StageIDs()
}

func newQuarantineListCommand(ctx *commandContext) *cobra.Command {
	var stageIDs []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined items",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.toolLogger()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), ctx.configValue(), logger, quarantineStages(stageIDs)...)
			if err != nil {
				return err
			}
			defer rt.Close()

			responses := make([]api.QuarantineListResponse, 0, len(rt.stages))
			total := 0
			for _, st := range rt.stages {
				records, err := rt.engine.Quarantine.List(cmd.Context(), st)
				if err != nil {
					return err
				}
				resp := api.QuarantineListResponse{Stage: st.ID, Records: make([]api.QuarantineRecord, 0, len(records))}
				for _, rec := range records {
					resp.Records = append(resp.Records, api.FromRecord(rec))
				}
				total += len(records)
				responses = append(responses, resp)
			}

			if jsonOutput {
				return writeJSON(cmd, responses)
			}
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "No quarantined items")
				return nil
			}
			rows := make([][]string, 0, total)
			for _, resp := range responses {
				for _, rec := range resp.Records {
					rows = append(rows, []string{
						resp.Stage,
						rec.Key,
						rec.Reason,
						fallback(rec.Timestamp, "-"),
						yesNo(rec.Recoverable),
					})
				}
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Record", "Reason", "Quarantined", "Recoverable"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&stageIDs, "stage", "s", nil, "Limit to these stages (goal, content, posts)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output records as JSON")
	return cmd
}

func newQuarantineRequeueCommand(ctx *commandContext) *cobra.Command {
	var stageID string
	var all bool

	cmd := &cobra.Command{
		Use:   "requeue --stage <stage> [record-key...]",
		Short: "Restore quarantined items to their stage input as pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID = strings.TrimSpace(stageID)
			if stageID == "" {
				return errors.New("--stage is required")
			}
			if !all && len(args) == 0 {
				return errors.New("name at least one record key or pass --all")
			}
			logger, err := ctx.toolLogger()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), ctx.configValue(), logger, stageID)
			if err != nil {
				return err
			}
			defer rt.Close()
			st, err := rt.stage(stageID)
			if err != nil {
				return err
			}

			keys := args
			if all {
				records, err := rt.engine.Quarantine.List(cmd.Context(), st)
				if err != nil {
					return err
				}
				keys = nil
				for _, rec := range records {
					if rec.Payload != nil {
						keys = append(keys, rec.Key)
					}
				}
			}

			out := cmd.OutOrStdout()
			var errs []error
			requeued := 0
			for _, key := range keys {
				restored, err := rt.engine.Quarantine.Requeue(cmd.Context(), st, strings.TrimSpace(key))
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", key, err))
					continue
				}
				requeued++
				fmt.Fprintf(out, "Requeued %s -> %s\n", key, restored)
			}
			fmt.Fprintf(out, "%d of %d records requeued\n", requeued, len(keys))
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&stageID, "stage", "s", "", "Stage whose quarantine to requeue from")
	cmd.Flags().BoolVar(&all, "all", false, "Requeue every recoverable record of the stage")
	return cmd
}
