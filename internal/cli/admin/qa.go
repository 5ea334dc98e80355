package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/swoopinfo/swoopkb/internal/config"
	"github.com/swoopinfo/swoopkb/internal/jobs"
	"github.com/swoopinfo/swoopkb/internal/repository"
	"github.com/swoopinfo/swoopkb/internal/service"
)

func QACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Manage QA sweeps",
		Long:  "Run and inspect chunk quality review sweeps",
	}

	cmd.AddCommand(QARunCmd())
	cmd.AddCommand(QARunsCmd())

	return cmd
}

func QARunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a QA sweep now",
		Long:  "Review all chunks due for re-evaluation and record a run summary",
		RunE:  runQARun,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runQARun(cmd *cobra.Command, args []string) error {
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

	scheduler := buildScheduler(cfg, pool)
	run, err := scheduler.RunSweep(ctx)
	if err != nil {
		return fmt.Errorf("qa sweep failed: %w", err)
	}

	if run == nil {
		fmt.Println("No chunks due for review")
		return nil
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":          run.ID,
			"started_at":  run.StartedAt,
			"finished_at": run.FinishedAt,
			"examined":    run.Examined,
			"passed":      run.Passed,
			"failed":      run.Failed,
			"repaired":    run.Repaired,
			"notes":       run.Notes,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("QA sweep %s: examined=%d passed=%d failed=%d repaired=%d\n",
			run.ID, run.Examined, run.Passed, run.Failed, run.Repaired)
		if run.Notes != "" {
			fmt.Printf("Notes: %s\n", run.Notes)
		}
	}

	return nil
}

func QARunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent QA sweeps",
		Long:  "List recorded QA sweep summaries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runQARuns(outputFormat, limit)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")

	return cmd
}

func runQARuns(outputFormat string, limit int) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	qaRunRepo := repository.NewQARunRepository(pool)
	runs, err := qaRunRepo.ListRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list qa runs: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(runs))
		for i, run := range runs {
			data[i] = map[string]interface{}{
				"id":          run.ID,
				"started_at":  run.StartedAt,
				"finished_at": run.FinishedAt,
				"examined":    run.Examined,
				"passed":      run.Passed,
				"failed":      run.Failed,
				"repaired":    run.Repaired,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(runs) == 0 {
			fmt.Println("No QA runs recorded")
			return nil
		}
		fmt.Println("QA runs:")
		for _, run := range runs {
			fmt.Printf("  %s: examined=%d passed=%d failed=%d repaired=%d (finished: %s)\n",
				run.ID, run.Examined, run.Passed, run.Failed, run.Repaired,
				run.FinishedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

// buildScheduler assembles a rules-only QA scheduler for offline sweeps. The
// semantic checker is attached only when OpenRouter is configured.
func buildScheduler(cfg *config.Config, pool *pgxpool.Pool) *jobs.QAScheduler {
	chunkRepo := repository.NewChunkRepository(pool)
	jobRepo := repository.NewGenerationJobRepository(pool)
	qaRunRepo := repository.NewQARunRepository(pool)

	var semantic service.SemanticChecker
	if cfg.HasOpenRouter() {
		semantic = newOpenRouterClient(cfg)
	}

	qaSvc := service.NewQAService(semantic)
	promoter := service.NewPromoterService(chunkRepo, jobRepo, cfg.MaxRegenerationAttempts)

	return jobs.NewQAScheduler(chunkRepo, qaRunRepo, qaSvc, promoter, cfg.ReviewInterval, cfg.ReviewBatchSize)
}
