package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"foldergate/internal/audit"
	"foldergate/internal/machine"
	"foldergate/internal/model"
	"foldergate/internal/vault"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault layout in the target directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		root := vaultRoot()
		if err := vault.Init(root, name); err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]string{"vault": root, "status": "initialized"})
		}
		fmt.Printf("initialized vault at %s\n", root)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create [body]",
	Short: "Create a task in the Entry folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		body := ""
		if len(args) == 1 {
			body = args[0]
		}
		priority, _ := cmd.Flags().GetInt("priority")
		metaPairs, _ := cmd.Flags().GetStringSlice("meta")
		metadata, err := parseMeta(metaPairs)
		if err != nil {
			return err
		}

		task, err := s.machine.CreateTask(priority, body, metadata)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(task)
		}
		fmt.Printf("created %s in %s/\n", task.ID, model.StateEntry.Folder())
		return nil
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition <task-id> <state>",
	Short: "Move a task to another state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := parseState(args[1])
		if err != nil {
			return err
		}
		actorFlag, _ := cmd.Flags().GetString("actor")
		actor := model.Actor(actorFlag)
		if actor != model.ActorSystem && actor != model.ActorHuman {
			return fmt.Errorf("unknown actor %q (system or human)", actorFlag)
		}
		reason, _ := cmd.Flags().GetString("reason")
		approver, _ := cmd.Flags().GetString("approver")

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		tr, err := s.machine.Execute(machine.TransitionRequest{
			TaskID:   args[0],
			To:       to,
			Actor:    actor,
			Reason:   reason,
			Approver: approver,
		})
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(tr)
		}
		if tr != nil {
			fmt.Printf("%s: %s → %s\n", tr.TaskID, tr.From, tr.To)
			if !tr.Logged {
				fmt.Fprintln(os.Stderr, "warning: transition committed but not logged; task flagged for reconciliation")
			}
		} else {
			fmt.Printf("%s: metadata updated\n", args[0])
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <task-id>",
	Short: "Finish planning: route to Ready, or Pending-Approval when the content gates a sensitive action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		to, err := s.machine.CompletePlanning(args[0], reason)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]string{"task_id": args[0], "state": string(to)})
		}
		fmt.Printf("%s: planning complete, now in %s/\n", args[0], to.Folder())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [state]",
	Short: "List tasks, optionally filtered to one state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.close()

		states := model.AllStates()
		if len(args) == 1 {
			st, err := parseState(args[0])
			if err != nil {
				return err
			}
			states = []model.State{st}
		}

		type row struct {
			Task  *model.Task `json:"task"`
			State model.State `json:"state"`
		}
		var rows []row
		for _, st := range states {
			tasks, err := vault.ListTasks(s.root, st)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				rows = append(rows, row{Task: t, State: st})
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Task.ID < rows[j].Task.ID })

		if jsonOutput() {
			return printJSON(rows)
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Task", "State", "Priority", "Approval", "Updated"})
		for _, r := range rows {
			approvalCol := "-"
			if r.Task.Approval != nil {
				approvalCol = fmt.Sprintf("%s/%s: %s", r.Task.Approval.ActionType, r.Task.Approval.RiskLevel, r.Task.Approval.Decision)
			}
			tw.AppendRow(table.Row{r.Task.ID, r.State.Folder(), r.Task.Priority, approvalCol, r.Task.UpdatedAt})
		}
		tw.Render()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Per-state task counts and the halt latch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.close()

		counts := make(map[model.State]int, len(model.AllStates()))
		total := 0
		for _, st := range model.AllStates() {
			files, err := vault.ListTaskFiles(s.root, st)
			if err != nil {
				return err
			}
			counts[st] = len(files)
			total += len(files)
		}
		halted, haltReason := audit.Halted(vault.LogsDir(s.root))

		if jsonOutput() {
			return printJSON(map[string]any{
				"vault":       s.cfg.Vault.Name,
				"counts":      counts,
				"total":       total,
				"halted":      halted,
				"halt_reason": haltReason,
			})
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"State", "Tasks"})
		for _, st := range model.AllStates() {
			tw.AppendRow(table.Row{st.Folder(), counts[st]})
		}
		tw.AppendFooter(table.Row{"Total", total})
		tw.Render()

		if halted {
			fmt.Printf("\nHALTED: %s\n", haltReason)
		}
		return nil
	},
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata must be key=value, got %q", p)
		}
		md[k] = v
	}
	return md, nil
}

func init() {
	initCmd.Flags().String("name", "", "vault name (defaults to directory name)")

	createCmd.Flags().Int("priority", 0, "task priority")
	createCmd.Flags().StringSlice("meta", nil, "metadata key=value (repeatable)")

	transitionCmd.Flags().String("actor", string(model.ActorSystem), "acting party (system or human)")
	transitionCmd.Flags().String("reason", "", "reason recorded in the audit trail")
	transitionCmd.Flags().String("approver", "", "approver identity for approval decisions")

	planCmd.Flags().String("reason", "planning complete", "reason recorded in the audit trail")

	rootCmd.AddCommand(initCmd, createCmd, transitionCmd, planCmd, listCmd, statusCmd)
}
