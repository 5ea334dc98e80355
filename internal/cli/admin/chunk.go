package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/swoopinfo/swoopkb/internal/config"
	"github.com/swoopinfo/swoopkb/internal/database"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/openrouter"
	"github.com/swoopinfo/swoopkb/internal/repository"
	"github.com/swoopinfo/swoopkb/internal/service"
)

func ChunkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Manage knowledge chunks",
		Long:  "Inspect and administer chunk trust state",
	}

	cmd.AddCommand(ChunkGetCmd())
	cmd.AddCommand(ChunkUnbanCmd())

	return cmd
}

func ChunkGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a chunk including trust state",
		Long:  "Show a chunk by row ID regardless of visibility",
		Args:  cobra.ExactArgs(1),
		RunE:  runChunkGet,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runChunkGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	chunkRepo := repository.NewChunkRepository(pool)
	chunk, err := chunkRepo.GetByID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get chunk: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(chunkSummary(chunk), "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Chunk %s\n", chunk.ID)
		fmt.Printf("  Key:        %s\n", chunk.Key())
		fmt.Printf("  Title:      %s\n", chunk.Title)
		fmt.Printf("  QA:         %s (passes: %d)\n", chunk.QAStatus, chunk.QAPassCount)
		fmt.Printf("  Trust:      %s\n", chunk.VerifiedStatus)
		fmt.Printf("  Visibility: %s\n", chunk.Visibility())
		fmt.Printf("  Attempts:   %d\n", chunk.RegenerationAttempts)
		if chunk.QANotes != "" {
			fmt.Printf("  Notes:      %s\n", chunk.QANotes)
		}
	}

	return nil
}

func ChunkUnbanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unban <id>",
		Short: "Lift a chunk ban",
		Long:  "Return a banned chunk to quarantine and schedule a regeneration",
		Args:  cobra.ExactArgs(1),
		RunE:  runChunkUnban,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runChunkUnban(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	chunkRepo := repository.NewChunkRepository(pool)
	jobRepo := repository.NewGenerationJobRepository(pool)
	resolver := service.NewResolverService(chunkRepo, jobRepo, repository.NewTxRunner(pool), cfg.DailyGenerationLimit)

	chunk, err := resolver.Unban(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to unban chunk: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(chunkSummary(chunk), "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Chunk %s unbanned: now %s/%s, regeneration scheduled\n",
			chunk.ID, chunk.QAStatus, chunk.VerifiedStatus)
	}

	return nil
}

func chunkSummary(chunk *domain.Chunk) map[string]interface{} {
	return map[string]interface{}{
		"id":                    chunk.ID,
		"vehicle_key":           chunk.VehicleKey,
		"content_id":            chunk.ContentID,
		"chunk_type":            chunk.ChunkType,
		"title":                 chunk.Title,
		"qa_status":             chunk.QAStatus,
		"qa_pass_count":         chunk.QAPassCount,
		"qa_notes":              chunk.QANotes,
		"verified_status":       chunk.VerifiedStatus,
		"visibility":            chunk.Visibility(),
		"regeneration_attempts": chunk.RegenerationAttempts,
		"created_at":            chunk.CreatedAt,
		"updated_at":            chunk.UpdatedAt,
	}
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
}

func newOpenRouterClient(cfg *config.Config) *openrouter.Client {
	return openrouter.NewClient(openrouter.Config{
		APIKey:          cfg.OpenRouterAPIKey,
		BaseURL:         cfg.OpenRouterBaseURL,
		GenerationModel: cfg.GenerationModel,
		QAModel:         cfg.QAModel,
		EmbeddingModel:  cfg.EmbeddingModel,
	})
}
