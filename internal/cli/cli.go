package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MASITH-developpement/Azalscore-sub010/internal/log"
	"github.com/MASITH-developpement/Azalscore-sub010/internal/service"
	internal_storage "github.com/MASITH-developpement/Azalscore-sub010/internal/storage"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/engine"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

func SetupCLI(rootCmd *cobra.Command) {
	createCmd := &cobra.Command{
		Use:   "create [definition.json]",
		Short: "Create or update a workflow definition from a JSON file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustConnStr(cmd))
			defer store.Close()
			svc := service.NewWorkflowService(store, log.GetLogger())

			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", args[0], err)
				os.Exit(1)
			}
			var def models.WorkflowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid workflow definition: %v\n", err)
				os.Exit(1)
			}
			if err := svc.SaveDefinition(def); err != nil {
				log.GetLogger().Errorf("Failed to save workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to save workflow: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Saved workflow '%s' (%s)\n", def.Name, def.ID)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow definitions",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustConnStr(cmd))
			defer store.Close()
			svc := service.NewWorkflowService(store, log.GetLogger())

			tenantID, _ := cmd.Flags().GetString("tenant")
			workflows, err := svc.ListDefinitions(tenantID)
			if err != nil {
				log.GetLogger().Errorf("Failed to list workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
				os.Exit(1)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Workflows:\n")
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Status: %s, Version: %d, Tenant: %s\n",
					wf.ID, wf.Name, wf.Status, wf.Version, wf.TenantID)
			}
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [workflow-id] [ACTIVE|PAUSED|ARCHIVED]",
		Short: "Move a workflow definition through its lifecycle",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustConnStr(cmd))
			defer store.Close()
			svc := service.NewWorkflowService(store, log.GetLogger())

			id, status := args[0], strings.ToUpper(args[1])
			if err := svc.UpdateStatus(id, models.WorkflowStatus(status)); err != nil {
				log.GetLogger().Errorf("Failed to update workflow status: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to update workflow status: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Workflow %s is now %s\n", id, status)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run [workflow-id]",
		Short: "Run a workflow to completion and print the outcome",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustConnStr(cmd))
			defer store.Close()

			def, err := store.GetDefinition(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: workflow %s not found: %v\n", args[0], err)
				os.Exit(1)
			}

			input := map[string]any{}
			pairs, _ := cmd.Flags().GetStringSlice("input")
			for _, pair := range pairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					fmt.Fprintf(os.Stderr, "Error: invalid --input %q, expected key=value\n", pair)
					os.Exit(1)
				}
				input[k] = v
			}

			eng := engine.NewEngine(context.Background(), store, engine.Collaborators{}, log.GetLogger())
			if err := eng.RegisterDefinition(def); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to register workflow: %v\n", err)
				os.Exit(1)
			}
			execID, err := eng.StartExecution(def.ID, engine.StartOptions{
				TriggerType: models.ManualTrigger,
				Input:       input,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start workflow: %v\n", err)
				os.Exit(1)
			}

			timeout, _ := cmd.Flags().GetInt("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()
			exec, err := eng.WaitFor(ctx, execID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: execution %s did not finish: %v (status %s)\n", execID, err, exec.Status)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Execution %s finished %s\n", execID, exec.Status)
			if exec.ErrorMsg != "" {
				fmt.Fprintf(os.Stdout, "Error: %s\n", exec.ErrorMsg)
			}
			for _, res := range exec.Results {
				fmt.Fprintf(os.Stdout, "- %s: %s (%dms)\n", res.ActionID, res.Status, res.DurationMs)
			}
		},
	}
	runCmd.Flags().StringSlice("input", nil, "Input variable as key=value (repeatable)")
	runCmd.Flags().Int("timeout", 600, "Seconds to wait for the run to finish")

	executionsCmd := &cobra.Command{
		Use:   "executions [workflow-id]",
		Short: "List the recorded executions of a workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustConnStr(cmd))
			defer store.Close()
			svc := service.NewWorkflowService(store, log.GetLogger())

			execs, err := svc.ListExecutions(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to list executions: %v\n", err)
				os.Exit(1)
			}
			if len(execs) == 0 {
				fmt.Fprintf(os.Stdout, "No executions found.\n")
				return
			}
			for _, exec := range execs {
				fmt.Fprintf(os.Stdout, "- ID: %s, Status: %s, Trigger: %s, Started: %s\n",
					exec.ID, exec.Status, exec.TriggerType, exec.StartedAt.Format(time.RFC3339))
			}
		},
	}

	listCmd.Flags().String("tenant", "", "Filter by tenant ID")
	rootCmd.AddCommand(createCmd, listCmd, statusCmd, runCmd, executionsCmd)
}

func mustConnStr(cmd *cobra.Command) string {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	return dbConnStr
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
