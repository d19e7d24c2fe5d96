package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"postforge/internal/api"
)

const statusProbeTimeout = 3 * time.Second

// statusReport is the JSON shape of `postforge status --json`.
type statusReport struct {
	Scheduler string              `json:"scheduler"`
	Address   string              `json:"address,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	Workflow  *api.WorkflowStatus `json:"workflow,omitempty"`
	Stages    []stageSnapshot     `json:"stages,omitempty"`
}

// stageSnapshot is the store-side view of a stage when no scheduler answers.
type stageSnapshot struct {
	Stage       string          `json:"stage"`
	Input       string          `json:"input"`
	Candidates  int             `json:"candidates"`
	Quarantined int             `json:"quarantined"`
	Health      api.StageHealth `json:"health"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler and stage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()

			report := statusReport{Scheduler: "disabled"}
			addr := strings.TrimSpace(apiAddr)
			if addr == "" {
				addr = cfg.API.Bind
			}
			if addr != "" {
				report.Address = addr
				status, err := fetchWorkflowStatus(cmd.Context(), addr)
				if err == nil {
					report.Scheduler = "running"
					report.Workflow = &status
					if jsonOutput {
						return writeJSON(cmd, report)
					}
					printLiveStatus(out, report, shouldColorize(out))
					return nil
				}
				report.Scheduler = "unreachable"
				report.Detail = err.Error()
			}

			logger, err := ctx.toolLogger()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, st := range rt.stages {
				snap := stageSnapshot{Stage: st.ID, Input: st.InputPrefix}
				keys, err := rt.engine.Scanner.Scan(cmd.Context(), st)
				if err != nil {
					return fmt.Errorf("scan %s: %w", st.ID, err)
				}
				snap.Candidates = len(keys)
				records, err := rt.engine.Quarantine.List(cmd.Context(), st)
				if err != nil {
					return err
				}
				snap.Quarantined = len(records)
				health := st.Handler.HealthCheck(cmd.Context())
				snap.Health = api.StageHealth{Name: health.Name, Ready: health.Ready, Detail: health.Detail}
				report.Stages = append(report.Stages, snap)
			}

			if jsonOutput {
				return writeJSON(cmd, report)
			}
			printOfflineStatus(out, report, shouldColorize(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	cmd.Flags().StringVar(&apiAddr, "api", "", "Scheduler API address (defaults to api.bind)")
	return cmd
}

// fetchWorkflowStatus queries a running scheduler. Wildcard bind hosts are
// dialled on loopback.
func fetchWorkflowStatus(ctx context.Context, bind string) (api.WorkflowStatus, error) {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return api.WorkflowStatus{}, fmt.Errorf("parse api address %q: %w", bind, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, port) + "/api/status"

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return api.WorkflowStatus{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return api.WorkflowStatus{}, fmt.Errorf("scheduler not reachable at %s", bind)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return api.WorkflowStatus{}, fmt.Errorf("scheduler at %s returned %d", bind, resp.StatusCode)
	}
	var status api.WorkflowStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return api.WorkflowStatus{}, fmt.Errorf("decode scheduler status: %w", err)
	}
	return status, nil
}

func printLiveStatus(out io.Writer, report statusReport, colorize bool) {
	for _, line := range renderSectionHeader("Scheduler", colorize) {
		fmt.Fprintln(out, line)
	}
	kind, message := statusOK, "Running"
	if !report.Workflow.Running {
		kind, message = statusWarn, "Stopped"
	}
	fmt.Fprintln(out, renderStatusLine("Scheduler", kind, message+" ("+report.Address+")", colorize))
	fmt.Fprintln(out)

	headers := []string{"Stage", "Passes", "Committed", "Skipped", "Quarantined", "Deferred", "Lease", "Last Pass", "Last Error"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft}
	rows := make([][]string, 0, len(report.Workflow.Stages))
	health := make([]api.StageHealth, 0, len(report.Workflow.Stages))
	for _, st := range report.Workflow.Stages {
		lease := "held"
		switch {
		case st.Standby:
			lease = "standby"
		case !st.LeaseHeld:
			lease = "idle"
		}
		rows = append(rows, []string{
			st.Stage,
			strconv.Itoa(st.Passes),
			strconv.Itoa(st.Committed),
			strconv.Itoa(st.Skipped),
			strconv.Itoa(st.Quarantined),
			strconv.Itoa(st.Deferred),
			lease,
			fallback(st.LastPass, "-"),
			fallback(st.LastError, "-"),
		})
		health = append(health, st.Health)
	}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Health", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range healthLines(health, colorize) {
		fmt.Fprintln(out, line)
	}
}

func printOfflineStatus(out io.Writer, report statusReport, colorize bool) {
	for _, line := range renderSectionHeader("Scheduler", colorize) {
		fmt.Fprintln(out, line)
	}
	switch report.Scheduler {
	case "unreachable":
		fmt.Fprintln(out, renderStatusLine("Scheduler", statusWarn, report.Detail, colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Scheduler", statusInfo, "API disabled (set api.bind)", colorize))
	}
	fmt.Fprintln(out)

	headers := []string{"Stage", "Input", "Candidates", "Quarantined"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight}
	rows := make([][]string, 0, len(report.Stages))
	health := make([]api.StageHealth, 0, len(report.Stages))
	for _, st := range report.Stages {
		rows = append(rows, []string{st.Stage, st.Input + "/", strconv.Itoa(st.Candidates), strconv.Itoa(st.Quarantined)})
		health = append(health, st.Health)
	}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Health", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range healthLines(health, colorize) {
		fmt.Fprintln(out, line)
	}
}

func fallback(value, placeholder string) string {
	if strings.TrimSpace(value) == "" {
		return placeholder
	}
	return value
}
