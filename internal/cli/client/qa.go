package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// QARun is a recorded review sweep summary.
type QARun struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Examined   int    `json:"examined"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Repaired   int    `json:"repaired"`
	Notes      string `json:"notes,omitempty"`
}

// QAHealth reports whether the review scheduler is keeping up.
type QAHealth struct {
	Healthy      bool   `json:"healthy"`
	LastRun      *QARun `json:"last_run,omitempty"`
	OverdueSince string `json:"overdue_since,omitempty"`
}

// QACmd creates the qa command group.
func QACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Inspect QA sweeps",
		Long:  "View review scheduler health and sweep history.",
	}

	cmd.AddCommand(qaHealthCmd())
	cmd.AddCommand(qaRunsCmd())

	return cmd
}

func qaHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show review scheduler health",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runQAHealth(cmd, outputJSON)
		},
	}
}

func runQAHealth(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/qa/health")
	if err != nil {
		// A 503 still carries a health payload worth showing.
		if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != 503 {
			return fmt.Errorf("failed to get qa health: %w", err)
		}
	}

	var health QAHealth
	if resp != nil {
		if err := json.Unmarshal(resp.Data, &health); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	if outputJSON {
		output, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if health.Healthy {
		fmt.Println("QA scheduler: healthy")
	} else {
		fmt.Println("QA scheduler: UNHEALTHY")
		if health.OverdueSince != "" {
			fmt.Printf("Overdue since: %s\n", health.OverdueSince)
		}
	}
	if health.LastRun != nil {
		printQARun(health.LastRun)
	}

	return nil
}

func qaRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent QA sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runQARuns(cmd, limit, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")

	return cmd
}

func runQARuns(cmd *cobra.Command, limit int, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/qa/runs?limit=%d", limit))
	if err != nil {
		return fmt.Errorf("failed to list qa runs: %w", err)
	}

	var page struct {
		Items []*QARun `json:"items"`
	}
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(page.Items, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(page.Items) == 0 {
		fmt.Println("No QA runs recorded")
		return nil
	}

	for _, run := range page.Items {
		fmt.Printf("%s  examined=%d passed=%d failed=%d repaired=%d  (%s)\n",
			run.ID, run.Examined, run.Passed, run.Failed, run.Repaired, run.FinishedAt)
	}

	return nil
}

func printQARun(run *QARun) {
	fmt.Printf("Last run: examined=%d passed=%d failed=%d repaired=%d (finished %s)\n",
		run.Examined, run.Passed, run.Failed, run.Repaired, run.FinishedAt)
	if run.Notes != "" {
		fmt.Printf("Notes: %s\n", run.Notes)
	}
}
