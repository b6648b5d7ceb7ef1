package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/triadwork/triad/pkg/dispatch"
	"github.com/triadwork/triad/pkg/models"
)

var app *cliApp

var rootCmd = &cobra.Command{
	Use:           "triad",
	Short:         "triad drives a Planner/Worker/Reviewer orchestration session",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newCLIApp(cmd.Context())
		if err != nil {
			return err
		}
		app = a
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return app.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(confirmPlanCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(subtaskCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "manage orchestration sessions",
}

var (
	sessionCreateOwner     string
	sessionCreateNovel     bool
	sessionCreateGenre     string
	sessionCreateStyle     string
	sessionCreateLength    string
	sessionListOwner       string
	sessionListStatus      string
	sessionListLimit       int
	sessionListOffset      int
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create <topic>",
	Short: "create a new session in planning mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := models.CreateSessionRequest{
			Topic:     args[0],
			Owner:     sessionCreateOwner,
			NovelMode: sessionCreateNovel,
		}
		if sessionCreateNovel {
			req.NovelProfile = &models.NovelProfile{
				Genre:  sessionCreateGenre,
				Style:  sessionCreateStyle,
				Length: sessionCreateLength,
			}
		}
		snapshot, err := app.orch.CreateSession(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(snapshot)
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "list sessions for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		summaries, err := app.orch.ListSessions(cmd.Context(), models.SessionFilters{
			Owner:  sessionListOwner,
			Status: sessionListStatus,
			Limit:  sessionListLimit,
			Offset: sessionListOffset,
		})
		if err != nil {
			return err
		}
		return printJSON(summaries)
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "print the full snapshot of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := app.orch.GetSnapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(snapshot)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "soft-delete a session and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{Command: string(dispatch.KindDeleteSession)})
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionCreateOwner, "owner", "", "account email that owns the session")
	sessionCreateCmd.Flags().BoolVar(&sessionCreateNovel, "novel-mode", false, "start the session in novel-writing mode")
	sessionCreateCmd.Flags().StringVar(&sessionCreateGenre, "genre", "", "novel mode: genre")
	sessionCreateCmd.Flags().StringVar(&sessionCreateStyle, "style", "", "novel mode: prose style")
	sessionCreateCmd.Flags().StringVar(&sessionCreateLength, "length", "", "novel mode: target length")
	_ = sessionCreateCmd.MarkFlagRequired("owner")

	sessionListCmd.Flags().StringVar(&sessionListOwner, "owner", "", "account email to list sessions for")
	sessionListCmd.Flags().StringVar(&sessionListStatus, "status", "", "filter by orchestrator status")
	sessionListCmd.Flags().IntVar(&sessionListLimit, "limit", 0, "maximum results")
	sessionListCmd.Flags().IntVar(&sessionListOffset, "offset", 0, "result offset")
	_ = sessionListCmd.MarkFlagRequired("owner")

	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionGetCmd, sessionDeleteCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan <session-id>",
	Short: "show the session's current plan (read-only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{Command: string(dispatch.KindPlan)})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <session-id> <text>",
	Short: "send a message to the planner (planning mode) or orchestrator (execution mode)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{
			Command: string(dispatch.KindAsk),
			Payload: map[string]any{"text": args[1]},
		})
	},
}

var confirmPlanCmd = &cobra.Command{
	Use:   "confirm-plan <session-id>",
	Short: "lock the plan and switch the session into execution mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{Command: string(dispatch.KindConfirmPlan)})
	},
}

var nextCmd = &cobra.Command{
	Use:   "next <session-id>",
	Short: "run the next pending subtask in the background",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{Command: string(dispatch.KindNext)})
	},
}

var allCmd = &cobra.Command{
	Use:   "all <session-id>",
	Short: "run every remaining subtask in the background",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{Command: string(dispatch.KindAll)})
	},
}

var subtaskCmd = &cobra.Command{
	Use:   "subtask",
	Short: "edit the subtask plan directly",
}

var (
	subtaskTitle   string
	subtaskNotes   string
	subtaskAfter   string
	subtaskReason  string
	subtaskNewTitle string
	subtaskNewNotes string
)

var subtaskAppendCmd = &cobra.Command{
	Use:   "append <session-id>",
	Short: "append a subtask to the end of the plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{
			Command: string(dispatch.KindAppendSubtask),
			Payload: map[string]any{"title": subtaskTitle, "notes": subtaskNotes},
		})
	},
}

var subtaskInsertCmd = &cobra.Command{
	Use:   "insert <session-id>",
	Short: "insert a subtask after another",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{
			Command: string(dispatch.KindInsertSubtask),
			Payload: map[string]any{"after_id": subtaskAfter, "title": subtaskTitle, "notes": subtaskNotes},
		})
	},
}

var subtaskUpdateCmd = &cobra.Command{
	Use:   "update <session-id> <subtask-id>",
	Short: "edit a subtask's title and/or notes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]any{"subtask_id": args[1]}
		if cmd.Flags().Changed("title") {
			payload["title"] = subtaskNewTitle
		}
		if cmd.Flags().Changed("notes") {
			payload["notes"] = subtaskNewNotes
		}
		return runCommand(cmd, args[0], dispatch.RawCommand{Command: string(dispatch.KindUpdateSubtask), Payload: payload})
	},
}

var subtaskSkipCmd = &cobra.Command{
	Use:   "skip <session-id> <subtask-id>",
	Short: "skip a subtask",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{
			Command: string(dispatch.KindSkipSubtask),
			Payload: map[string]any{"subtask_id": args[1], "reason": subtaskReason},
		})
	},
}

var subtaskSetCurrentCmd = &cobra.Command{
	Use:   "set-current <session-id> <subtask-id>",
	Short: "move the cursor to a specific subtask",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{
			Command: string(dispatch.KindSetCurrentSubtask),
			Payload: map[string]any{"subtask_id": args[1]},
		})
	},
}

var subtaskApplyRevisionCmd = &cobra.Command{
	Use:   "apply-revision <session-id> <subtask-id>",
	Short: "apply the reviewer's latest revision as the subtask's worker output",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], dispatch.RawCommand{
			Command: string(dispatch.KindApplyReviewerRevision),
			Payload: map[string]any{"subtask_id": args[1]},
		})
	},
}

func init() {
	subtaskAppendCmd.Flags().StringVar(&subtaskTitle, "title", "", "subtask title")
	subtaskAppendCmd.Flags().StringVar(&subtaskNotes, "notes", "", "subtask notes")
	_ = subtaskAppendCmd.MarkFlagRequired("title")

	subtaskInsertCmd.Flags().StringVar(&subtaskAfter, "after", "", "id of the subtask to insert after")
	subtaskInsertCmd.Flags().StringVar(&subtaskTitle, "title", "", "subtask title")
	subtaskInsertCmd.Flags().StringVar(&subtaskNotes, "notes", "", "subtask notes")
	_ = subtaskInsertCmd.MarkFlagRequired("after")
	_ = subtaskInsertCmd.MarkFlagRequired("title")

	subtaskUpdateCmd.Flags().StringVar(&subtaskNewTitle, "title", "", "new title")
	subtaskUpdateCmd.Flags().StringVar(&subtaskNewNotes, "notes", "", "new notes")

	subtaskSkipCmd.Flags().StringVar(&subtaskReason, "reason", "", "reason for skipping")

	subtaskCmd.AddCommand(subtaskAppendCmd, subtaskInsertCmd, subtaskUpdateCmd, subtaskSkipCmd, subtaskSetCurrentCmd, subtaskApplyRevisionCmd)
}

// runCommand executes raw against sessionID through the shared Dispatcher
// and prints the resulting CommandResult as JSON. It returns a non-nil error
// only for unexpected failures; a result with ok=false (the dispatcher maps
// expected failures into one) prints its message to stderr and exits with
// status 1 instead of printing the result.
func runCommand(cmd *cobra.Command, sessionID string, raw dispatch.RawCommand) error {
	result, err := app.dispatcher.Execute(cmd.Context(), sessionID, raw)
	if err != nil {
		return err
	}
	if !result.OK {
		fmt.Fprintln(os.Stderr, "triad:", result.Message)
		os.Exit(1)
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
