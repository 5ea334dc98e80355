package client

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/swoopinfo/swoopkb/internal/domain"
)

// Chunk represents a knowledge chunk from the API.
type Chunk struct {
	ID               string                 `json:"id"`
	VehicleKey       string                 `json:"vehicle_key"`
	ContentID        string                 `json:"content_id"`
	ChunkType        string                 `json:"chunk_type"`
	Title            string                 `json:"title,omitempty"`
	ContentText      string                 `json:"content_text,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
	Sources          []string               `json:"sources,omitempty"`
	SourceConfidence float64                `json:"source_confidence,omitempty"`
	QAStatus         string                 `json:"qa_status"`
	VerifiedStatus   string                 `json:"verified_status"`
	Visibility       string                 `json:"visibility"`
	QAPassCount      int                    `json:"qa_pass_count"`
	PromotionCount   int                    `json:"promotion_count"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}

// Resolution is the API's answer to a chunk lookup.
type Resolution struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Chunk  *Chunk `json:"chunk,omitempty"`
}

// ResolveCmd creates the resolve command.
func ResolveCmd() *cobra.Command {
	var vehicleKey, year, vMake, model, engine, chunkType, saveDiagram string

	cmd := &cobra.Command{
		Use:   "resolve <content_id>",
		Short: "Look up a chunk, generating it if missing",
		Long: "Looks up a knowledge chunk for a vehicle. A miss queues generation " +
			"and returns pending; retry after a short delay.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			key := vehicleKey
			if key == "" {
				if year == "" || vMake == "" || model == "" || engine == "" {
					return fmt.Errorf("either --vehicle or all of --year/--make/--model/--engine are required")
				}
				key = domain.NormalizeVehicleKey(domain.Vehicle{
					Year:   year,
					Make:   vMake,
					Model:  model,
					Engine: engine,
				})
			}

			return runResolve(cmd, key, args[0], chunkType, saveDiagram, outputJSON)
		},
	}

	cmd.Flags().StringVar(&vehicleKey, "vehicle", "", "Normalized vehicle key (e.g. 2019_honda_accord_2.0t)")
	cmd.Flags().StringVar(&year, "year", "", "Vehicle year (alternative to --vehicle)")
	cmd.Flags().StringVar(&vMake, "make", "", "Vehicle make")
	cmd.Flags().StringVar(&model, "model", "", "Vehicle model")
	cmd.Flags().StringVar(&engine, "engine", "", "Vehicle engine")
	cmd.Flags().StringVarP(&chunkType, "type", "t", "", "Chunk type (required)")
	cmd.Flags().StringVar(&saveDiagram, "save-diagram", "", "Save a diagram SVG to this path")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runResolve(cmd *cobra.Command, vehicleKey, contentID, chunkType, saveDiagram string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/vehicles/%s/chunks/%s?type=%s",
		url.PathEscape(vehicleKey), url.PathEscape(contentID), url.QueryEscape(chunkType))
	resp, statusCode, err := api.GetWithStatus(path)
	if err != nil {
		return fmt.Errorf("failed to resolve chunk: %w", err)
	}

	var resolution Resolution
	if err := json.Unmarshal(resp.Data, &resolution); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(resolution, "", "  ")
		fmt.Println(string(output))
	} else {
		printResolution(&resolution, statusCode)
	}

	if saveDiagram != "" && resolution.Chunk != nil {
		if svgURL, ok := resolution.Chunk.Data["svg_url"].(string); ok && svgURL != "" {
			if err := api.DownloadFile(svgURL, saveDiagram); err != nil {
				return fmt.Errorf("failed to save diagram: %w", err)
			}
			fmt.Printf("Diagram saved to %s\n", saveDiagram)
		}
	}

	return nil
}

func printResolution(resolution *Resolution, statusCode int) {
	switch resolution.Status {
	case "pending":
		fmt.Println("Generation queued; retry in a few seconds")
	case "unavailable":
		fmt.Printf("Unavailable: %s\n", resolution.Reason)
	default:
		printChunk(resolution.Chunk)
	}
	_ = statusCode
}

func printChunk(chunk *Chunk) {
	if chunk == nil {
		return
	}
	fmt.Printf("Title: %s\n", chunk.Title)
	fmt.Printf("Type: %s\n", chunk.ChunkType)
	fmt.Printf("Vehicle: %s\n", chunk.VehicleKey)
	fmt.Printf("Trust: %s/%s (%s)\n", chunk.QAStatus, chunk.VerifiedStatus, chunk.Visibility)
	if chunk.SourceConfidence > 0 {
		fmt.Printf("Confidence: %.2f\n", chunk.SourceConfidence)
	}
	if len(chunk.Sources) > 0 {
		fmt.Println("Sources:")
		for _, s := range chunk.Sources {
			fmt.Printf("  - %s\n", s)
		}
	}
	if chunk.ContentText != "" {
		fmt.Println()
		fmt.Println("--- Content ---")
		fmt.Println(chunk.ContentText)
	}
	if len(chunk.Data) > 0 {
		jsonBytes, _ := json.MarshalIndent(chunk.Data, "", "  ")
		fmt.Println()
		fmt.Println("--- Data ---")
		fmt.Println(string(jsonBytes))
	}
}
