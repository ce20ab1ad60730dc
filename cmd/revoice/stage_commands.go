package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"revoice/internal/workflow"
)

func newStartCommand(cmdCtx *commandContext) *cobra.Command {
	var paramsJSON string

	cmd := &cobra.Command{
		Use:   "start <session-id> <stage>",
		Short: "Run one pipeline stage and wait for it to finish",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if trimmed := strings.TrimSpace(paramsJSON); trimmed != "" {
				if !json.Valid([]byte(trimmed)) {
					return fmt.Errorf("--params must be a valid JSON object")
				}
				params = json.RawMessage(trimmed)
			}

			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.StartStage(cmd.Context(), args[0], args[1], params)
			if err != nil {
				return err
			}
			renderStatus(cmd, status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&paramsJSON, "params", "p", "", "Stage parameters as a JSON object")
	return cmd
}

func newResetCommand(cmdCtx *commandContext) *cobra.Command {
	var fromStage string

	cmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Rewind a session to before the named stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(fromStage) == "" {
				return fmt.Errorf("--from is required")
			}
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.ResetFrom(cmd.Context(), args[0], fromStage)
			if err != nil {
				return err
			}
			renderStatus(cmd, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStage, "from", "", "Stage to reset from (inclusive)")
	return cmd
}

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the pipeline snapshot for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(status)
			}
			renderStatus(cmd, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw JSON snapshot")
	return cmd
}

func newDownloadCommand(cmdCtx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "download <session-id> <artifact-kind>",
		Short: "Download a stored artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			written, err := client.DownloadArtifact(cmd.Context(), args[0], args[1], outputPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", written)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination file (defaults to the stored file name)")
	return cmd
}

func newHealthCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon and stage tooling readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			report, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Stage readiness", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, st := range report.Stages {
				kind, message := statusOK, "ready"
				if !st.Ready {
					kind, message = statusError, st.Detail
				}
				fmt.Fprintln(out, renderStatusLine(st.Name, kind, message, colorize))
			}
			if !report.Healthy {
				return fmt.Errorf("one or more stages are not ready")
			}
			return nil
		},
	}
}

func renderStatus(cmd *cobra.Command, status *workflow.Status) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader(fmt.Sprintf("Session %s (%s)", status.SessionID, status.Title), colorize) {
		fmt.Fprintln(out, line)
	}
	for _, st := range status.Stages {
		kind := statusInfo
		message := string(st.State)
		switch string(st.State) {
		case "completed":
			kind = statusOK
		case "running":
			kind = statusWarn
		case "failed":
			kind = statusError
			if status.FailedStage == st.Name && status.LastError != "" {
				message = fmt.Sprintf("failed: %s", status.LastError)
			}
		}
		fmt.Fprintln(out, renderStatusLine(string(st.Name), kind, message, colorize))
	}
	if status.CurrentStage != "" {
		fmt.Fprintf(out, "\nNext stage: %s\n", status.CurrentStage)
	}
	if len(status.Artifacts) > 0 {
		rows := make([][]string, 0, len(status.Artifacts))
		for _, artifact := range status.Artifacts {
			rows = append(rows, []string{
				string(artifact.Kind),
				artifact.FileName,
				fmt.Sprintf("%d", artifact.Size),
			})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(
			[]string{"Artifact", "File", "Bytes"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight},
		))
	}
}
