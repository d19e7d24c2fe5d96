package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"postforge/internal/api"
	"postforge/internal/lease"
	"postforge/internal/logging"
	"postforge/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stageIDs []string
	var once bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline scheduler",
		Long: `Run one lane per enabled stage until interrupted.

With --once every selected stage runs a single pass and the command prints
the pass statistics. The HTTP endpoint only starts in daemon mode and only
when api.bind is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			runCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var (
				logger *slog.Logger
				err    error
			)
			if once {
				logger, err = ctx.toolLogger()
			} else {
				logger, err = logging.NewFromConfig(cfg)
			}
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			rt, err := openRuntime(runCtx, cfg, logger, stageIDs...)
			if err != nil {
				return err
			}
			defer rt.Close()

			leases, err := lease.Open(cfg.Lease)
			if err != nil {
				return fmt.Errorf("open leases: %w", err)
			}
			defer leases.Close()

			mgr, err := rt.manager(leases)
			if err != nil {
				return err
			}

			if once {
				results, runErr := mgr.RunOnce(runCtx)
				if jsonOutput {
					if err := writeJSON(cmd, passRows(results)); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderPassTable(results))
				}
				return runErr
			}

			if cfg.API.Bind != "" {
				srv, err := api.New(api.Options{
					Bind:       cfg.API.Bind,
					Status:     mgr,
					Quarantine: rt.engine.Quarantine,
					Stages:     rt.stages,
					Logger:     logger,
				})
				if err != nil {
					return err
				}
				if err := srv.Start(runCtx); err != nil {
					return err
				}
				defer srv.Stop()
			}

			ids := make([]string, 0, len(rt.stages))
			for _, st := range rt.stages {
				ids = append(ids, st.ID)
			}
			logger.Info("postforge started",
				logging.Any("stages", ids),
				logging.String("storage", cfg.Storage.Backend),
				logging.String("lease", leases.Backend()),
				logging.String(logging.FieldEventType, "scheduler_started"),
			)
			if err := mgr.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("postforge shutting down", logging.String(logging.FieldEventType, "scheduler_stopped"))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&stageIDs, "stage", "s", nil, "Run only these stages (goal, content, posts)")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass per stage and exit")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print --once results as JSON")
	return cmd
}

type passRow struct {
	Stage       string `json:"stage"`
	Scanned     int    `json:"scanned"`
	Actionable  int    `json:"actionable"`
	Committed   int    `json:"committed"`
	Skipped     int    `json:"skipped"`
	Quarantined int    `json:"quarantined"`
	Deferred    int    `json:"deferred"`
	Errors      int    `json:"errors"`
	DurationMs  int64  `json:"durationMs"`
}

func passRows(results []pipeline.PassStats) []passRow {
	rows := make([]passRow, 0, len(results))
	for _, stats := range results {
		rows = append(rows, passRow{
			Stage:       stats.Stage,
			Scanned:     stats.Scanned,
			Actionable:  stats.Actionable,
			Committed:   stats.Committed,
			Skipped:     stats.Skipped,
			Quarantined: stats.Quarantined,
			Deferred:    stats.Deferred,
			Errors:      stats.Errors,
			DurationMs:  stats.Duration.Milliseconds(),
		})
	}
	return rows
}

func renderPassTable(results []pipeline.PassStats) string {
	if len(results) == 0 {
		return "No passes completed\n"
	}
	headers := []string{"Stage", "Scanned", "Actionable", "Committed", "Skipped", "Quarantined", "Deferred", "Errors"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(results))
	for _, r := range passRows(results) {
		rows = append(rows, []string{
			r.Stage,
			strconv.Itoa(r.Scanned),
			strconv.Itoa(r.Actionable),
			strconv.Itoa(r.Committed),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Quarantined),
			strconv.Itoa(r.Deferred),
			strconv.Itoa(r.Errors),
		})
	}
	return renderTable(headers, rows, aligns) + "\n"
}
