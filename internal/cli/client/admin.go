package client

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// InspectCmd creates the inspect command. Operator view of a chunk by row ID,
// content included regardless of visibility.
func InspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <chunk_id>",
		Short: "Inspect a chunk's trust state (admin)",
		Long:  "Shows a chunk by row ID including quarantined or banned content. Requires an admin token.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runInspect(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runInspect(cmd *cobra.Command, chunkID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}
	if err := api.RequireToken(); err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/admin/chunks/%s", url.PathEscape(chunkID)))
	if err != nil {
		return fmt.Errorf("failed to inspect chunk: %w", err)
	}

	var chunk Chunk
	if err := json.Unmarshal(resp.Data, &chunk); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(chunk, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	printChunk(&chunk)
	return nil
}

// UnbanCmd creates the unban command.
func UnbanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unban <chunk_id>",
		Short: "Lift a chunk ban (admin)",
		Long:  "Returns a banned chunk to quarantine and schedules a regeneration. Requires an admin token.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runUnban(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runUnban(cmd *cobra.Command, chunkID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}
	if err := api.RequireToken(); err != nil {
		return err
	}

	resp, err := api.Post(fmt.Sprintf("/admin/chunks/%s/unban", url.PathEscape(chunkID)), nil)
	if err != nil {
		return fmt.Errorf("failed to unban chunk: %w", err)
	}

	var chunk Chunk
	if err := json.Unmarshal(resp.Data, &chunk); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(chunk, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Chunk %s unbanned: now %s/%s, regeneration scheduled\n",
		chunk.ID, chunk.QAStatus, chunk.VerifiedStatus)
	return nil
}

// QATriggerCmd creates the qa-trigger command, which runs a sweep on the server.
func QATriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa-trigger",
		Short: "Trigger a QA sweep on the server (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runQATrigger(cmd, outputJSON)
		},
	}

	return cmd
}

func runQATrigger(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}
	if err := api.RequireToken(); err != nil {
		return err
	}

	resp, err := api.Post("/admin/qa/run", nil)
	if err != nil {
		return fmt.Errorf("failed to trigger qa run: %w", err)
	}

	if outputJSON {
		fmt.Println(string(resp.Data))
		return nil
	}

	var run QARun
	if err := json.Unmarshal(resp.Data, &run); err == nil && run.ID != "" {
		printQARun(&run)
		return nil
	}

	fmt.Println("No chunks due for review")
	return nil
}
