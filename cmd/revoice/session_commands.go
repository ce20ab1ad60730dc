package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCreateCommand(cmdCtx *commandContext) *cobra.Command {
	var title string
	var referencePath string

	cmd := &cobra.Command{
		Use:   "create <song-file>",
		Short: "Create a session by uploading a song",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			created, err := client.CreateSession(cmd.Context(), title, args[0], referencePath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created session %s (%s)\n", created.SessionID, created.Title)
			for _, artifact := range created.Artifacts {
				fmt.Fprintf(out, "  stored %s: %s (%d bytes)\n", artifact.Kind, artifact.FileName, artifact.Size)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Session title (defaults to the song file name)")
	cmd.Flags().StringVarP(&referencePath, "reference", "r", "", "Reference voice sample to upload alongside the song")
	return cmd
}

func newSessionsCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List pipeline sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			sessions, err := client.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}

			rows := make([][]string, 0, len(sessions))
			for _, sess := range sessions {
				state := sess.CurrentStage
				switch {
				case sess.RunningStage != "":
					state = sess.RunningStage + " (running)"
				case sess.FailedStage != "":
					state = sess.FailedStage + " (failed)"
				case state == "":
					state = "done"
				}
				source := "yes"
				if !sess.HasSource {
					source = "no"
				}
				rows = append(rows, []string{sess.SessionID, sess.Title, state, source, sess.UpdatedAt})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Session", "Title", "Stage", "Source", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newReferenceCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reference <session-id> <voice-file>",
		Short: "Upload or replace the reference voice sample",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			if err := client.UploadReference(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored reference voice for session %s\n", args[0])
			return nil
		},
	}
}

func newDeleteCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all of its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cmdCtx.apiClient()
			if err != nil {
				return err
			}
			sessionID := strings.TrimSpace(args[0])
			if err := client.DeleteSession(cmd.Context(), sessionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sessionID)
			return nil
		},
	}
}
