package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/domain"
	"storyforge/internal/durable"
	"storyforge/internal/infra"
	"storyforge/internal/pipeline"
	"storyforge/internal/providers/image"
	"storyforge/internal/providers/llm"
	"storyforge/internal/stages"
	"storyforge/internal/storage"
)

type taskWorker struct {
	ctx        context.Context
	tasks      domain.TaskRepository
	controller *pipeline.Controller
	poll       time.Duration
	logger     infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	llmClient, err := llm.NewClient(llm.Options{
		APIKey:        cfg.OpenAIAPIKey,
		BaseURL:       cfg.OpenAIBaseURL,
		ModelStandard: cfg.ModelStandard,
		ModelLight:    cfg.ModelLight,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure language model client")
	}

	images, err := image.NewClient(image.Options{
		APIKey:     cfg.ImageAPIKey,
		BaseURL:    cfg.ImageBaseURL,
		RatePerMin: cfg.ImageRatePerMin,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure image provider")
	}

	policy := stages.QualityPolicy{
		MinStyle:       cfg.QualityMinStyle,
		MinBackground:  cfg.QualityMinBackground,
		MinAnatomy:     cfg.QualityMinAnatomy,
		MinComposition: cfg.QualityMinComposition,
		StyleFloor:     cfg.QualityStyleFloor,
	}

	tasks := repo.NewTaskRepository(pool)
	controller := &pipeline.Controller{
		Cfg:       cfg,
		Orders:    repo.NewOrderRepository(pool),
		Manifests: repo.NewManifestRepository(pool),
		Pages:     repo.NewPageRepository(pool),
		Purchases: repo.NewPurchaseRepository(pool),
		Pending:   repo.NewPendingCreditRepository(pool),
		Ledger:    repo.NewCreditLedger(pool),
		Steps:     repo.NewStepRepository(pool),
		Images:    images,
		Manifest:  &stages.ManifestStage{LLM: llmClient},
		Scenes:    &stages.SceneStage{LLM: llmClient},
		Synth: &stages.Synthesizer{
			Images:      images,
			LLM:         llmClient,
			Store:       store,
			Policy:      policy,
			MaxAttempts: cfg.MaxPageAttempts,
			Logger:      logger,
		},
		Assembler: &stages.Assembler{Store: store},
		Store:     store,
		Logger:    logger,
	}

	worker := &taskWorker{
		ctx:        ctx,
		tasks:      tasks,
		controller: controller,
		poll:       cfg.TaskPollInterval,
		logger:     logger,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *taskWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		task, err := w.tasks.Claim(w.ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				w.logger.Error().Err(err).Msg("worker: failed to claim task")
			}
			select {
			case <-w.ctx.Done():
				return w.ctx.Err()
			case <-time.After(w.poll):
			}
			continue
		}

		w.handleTask(task)
	}
}

func (w *taskWorker) handleTask(task *domain.Task) {
	w.logger.Info().Str("task_id", task.ID).Str("type", string(task.Type)).Msg("worker: picked task")

	err := w.dispatch(task)

	var sleepErr *durable.SleepError
	switch {
	case errors.As(err, &sleepErr):
		// Park the task without holding the worker; the claim query
		// requeues it once the deadline passes.
		if parkErr := w.tasks.Sleep(w.ctx, task.ID, sleepErr.Until); parkErr != nil {
			w.logger.Error().Err(parkErr).Str("task_id", task.ID).Msg("worker: failed to park task")
		}
	case err != nil:
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("worker: task failed")
		if markErr := w.tasks.MarkFailed(w.ctx, task.ID, err.Error()); markErr != nil {
			w.logger.Error().Err(markErr).Str("task_id", task.ID).Msg("worker: mark failed errored")
		}
	default:
		if markErr := w.tasks.MarkSucceeded(w.ctx, task.ID); markErr != nil {
			w.logger.Error().Err(markErr).Str("task_id", task.ID).Msg("worker: mark succeeded errored")
		}
	}
}

func (w *taskWorker) dispatch(task *domain.Task) error {
	switch task.Type {
	case domain.TaskTypeBookGenerate:
		return w.controller.GenerateBook(w.ctx, task.ReferenceID)
	case domain.TaskTypeLibraryAssemble:
		return w.controller.AssembleLibrary(w.ctx, task.ReferenceID)
	case domain.TaskTypePageRegenerate:
		return w.controller.RegeneratePage(w.ctx, task.ReferenceID, task.PageNo)
	case domain.TaskTypeCreditGrant:
		return w.controller.GrantCredits(w.ctx, task.ReferenceID)
	default:
		return fmt.Errorf("unsupported task type %q", task.Type)
	}
}
