package client

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// ChunkList is a cursor page of chunks.
type ChunkList struct {
	Items   []*Chunk `json:"items"`
	Cursor  string   `json:"cursor"`
	HasMore bool     `json:"has_more"`
}

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	var cursor string
	var limit int

	cmd := &cobra.Command{
		Use:   "list <vehicle_key>",
		Short: "List chunks for a vehicle",
		Long:  "Lists known chunks for a normalized vehicle key, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runList(cmd, args[0], cursor, limit, outputJSON)
		},
	}

	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from a previous page")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")

	return cmd
}

func runList(cmd *cobra.Command, vehicleKey, cursor string, limit int, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/vehicles/%s/chunks?limit=%d", url.PathEscape(vehicleKey), limit)
	if cursor != "" {
		path += "&cursor=" + url.QueryEscape(cursor)
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	var page ChunkList
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(page, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(page.Items) == 0 {
		fmt.Println("No chunks found")
		return nil
	}

	fmt.Printf("Chunks for %s:\n", vehicleKey)
	for _, chunk := range page.Items {
		title := chunk.Title
		if title == "" {
			title = "(content withheld)"
		}
		fmt.Printf("  %s  %-14s %-12s %s\n", chunk.ID, chunk.ChunkType, chunk.Visibility, title)
	}
	if page.HasMore {
		fmt.Printf("\nMore results: --cursor %s\n", page.Cursor)
	}

	return nil
}
