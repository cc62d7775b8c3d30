package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foldergate/internal/audit"
	"foldergate/internal/model"
	"foldergate/internal/vault"
	"foldergate/internal/verify"
)

const dayFlagFormat = "2006-01-02"

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the audit trail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.close()

		taskID, _ := cmd.Flags().GetString("task")
		from, err := parseDayFlag(cmd, "from", time.Time{})
		if err != nil {
			return err
		}
		to, err := parseDayFlag(cmd, "to", time.Now().UTC())
		if err != nil {
			return err
		}

		entries, err := audit.Query(vault.LogsDir(s.root), from, to, taskID)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(entries)
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Timestamp", "Severity", "Action", "Task", "From", "To", "Result", "Error"})
		for _, e := range entries {
			tw.AppendRow(table.Row{e.Timestamp, e.Severity, e.Action, e.TaskID, e.From, e.To, e.Result, e.Error})
		}
		tw.Render()
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify task consistency, completion claims, and log integrity",
	Long: `Verify reconciles declared task states against their physical folders
(the folder wins), checks completion claims, and recomputes the audit
trail's hash chains. Any chain failure raises the vault-wide halt latch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		v := verify.New(s.root, s.auditor, s.locks, s.logger)

		taskID, _ := cmd.Flags().GetString("task")
		if taskID != "" {
			return verifyOne(v, taskID)
		}

		findings, err := v.Sweep()
		if err != nil {
			return err
		}

		var completionFailures []string
		tasks, err := vault.ListTasks(s.root, model.StateComplete)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := v.VerifyCompletion(t.ID); err != nil {
				completionFailures = append(completionFailures, err.Error())
			}
		}

		failedLogs, err := v.VerifyLogs()
		if err != nil {
			return err
		}

		if jsonOutput() {
			if err := printJSON(map[string]any{
				"findings":            findings,
				"completion_failures": completionFailures,
				"failed_log_files":    failedLogs,
			}); err != nil {
				return err
			}
		} else {
			for _, f := range findings {
				fmt.Printf("repaired %s: declared %s, folder %s (%s)\n", f.TaskID, f.Declared, f.Folder, f.Note)
			}
			for _, msg := range completionFailures {
				fmt.Println(msg)
			}
			for _, path := range failedLogs {
				fmt.Printf("INTEGRITY FAILURE: %s\n", path)
			}
			if len(findings)+len(completionFailures)+len(failedLogs) == 0 {
				fmt.Println("ok")
			}
		}

		if len(failedLogs) > 0 {
			return fmt.Errorf("log integrity verification failed; vault halted")
		}
		if len(completionFailures) > 0 {
			return fmt.Errorf("%d task(s) failed completion verification", len(completionFailures))
		}
		return nil
	},
}

func verifyOne(v *verify.Verifier, taskID string) error {
	finding, err := v.VerifyStateConsistency(taskID)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(map[string]any{"task_id": taskID, "finding": finding})
	}
	if finding == nil {
		fmt.Printf("%s: consistent\n", taskID)
	} else {
		fmt.Printf("repaired %s: declared %s, folder %s\n", taskID, finding.Declared, finding.Folder)
	}
	return nil
}

var unhaltCmd = &cobra.Command{
	Use:   "unhalt",
	Short: "Clear the halt latch after investigating an integrity failure",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return fmt.Errorf("--reason is required: record why the halt is safe to clear")
		}

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		logsDir := vault.LogsDir(s.root)
		halted, haltReason := audit.Halted(logsDir)
		if !halted {
			fmt.Println("vault is not halted")
			return nil
		}
		if err := audit.ClearHalt(logsDir); err != nil {
			return err
		}
		if err := s.auditor.Append(audit.Entry{
			Severity: audit.SeverityWarn,
			Action:   audit.ActionHaltCleared,
			Actor:    model.ActorHuman,
			Result:   audit.ResultSuccess,
			Context:  map[string]string{"halt_reason": haltReason, "clear_reason": reason},
		}); err != nil {
			return err
		}
		fmt.Println("halt cleared")
		return nil
	},
}

func parseDayFlag(cmd *cobra.Command, name string, fallback time.Time) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(dayFlagFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}

func init() {
	logsCmd.Flags().String("task", "", "filter to one task ID")
	logsCmd.Flags().String("from", "", "start day (YYYY-MM-DD)")
	logsCmd.Flags().String("to", "", "end day (YYYY-MM-DD)")

	verifyCmd.Flags().String("task", "", "verify a single task's state consistency")

	unhaltCmd.Flags().String("reason", "", "why the halt is safe to clear (recorded in the audit trail)")

	rootCmd.AddCommand(logsCmd, verifyCmd, unhaltCmd)
}
