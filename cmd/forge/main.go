package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/forge/internal/common"
	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/jobs"
	"github.com/ternarybob/forge/internal/jobs/generator"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote"
	"github.com/ternarybob/forge/internal/remote/paths"
	"github.com/ternarybob/forge/internal/services/dataset"
	"github.com/ternarybob/forge/internal/services/deploy"
	"github.com/ternarybob/forge/internal/services/finetune"
	"github.com/ternarybob/forge/internal/services/llm"
	"github.com/ternarybob/forge/internal/services/scheduler"
	badgerstore "github.com/ternarybob/forge/internal/storage/badger"
)

var (
	// Version is stamped at build time
	Version = "dev"

	configPath  = flag.String("config", "", "Configuration file path")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("forge version %s\n", Version)
		os.Exit(0)
	}

	candidates := common.CandidateConfigPaths()
	if *configPath != "" {
		candidates = append([]string{*configPath}, candidates...)
	}
	config, err := common.LoadConfig(candidates...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	logger.Info().Str("version", Version).Str("environment", config.Service.Environment).Msg("Starting forge")

	storage, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
		os.Exit(1)
	}
	defer storage.Close()

	layout := paths.Layout{
		RemoteRoot:        config.Finetune.RemoteRoot,
		LocalDir:          config.Finetune.LocalDir,
		DatasetVersionDir: config.Finetune.DatasetVersionDir,
	}
	connector := remote.Connector(logger)

	llmClient := llm.NewClient(storage.ProviderModels(), time.Duration(config.LLM.TimeoutSeconds)*time.Second, logger)

	datasetService := dataset.NewService(storage.DatasetVersions(), storage.Datasets(), layout, logger)
	finetuneService := finetune.NewService(storage.FinetuneJobs(), storage.Releases(), datasetService, connector, layout, finetune.Options{
		WatchInterval:      time.Duration(config.Finetune.WatchInterval) * time.Second,
		MaxConnectFailures: config.Finetune.MaxConnectFailures,
	}, logger)
	deployService := deploy.NewService(storage.DeployClusters(), storage.Machines(), storage.Releases(), connector, layout, deploy.Options{
		RayPort:  config.Deploy.RayPort,
		VLLMPort: config.Deploy.VLLMPort,
		Locale:   config.Service.Locale,
	}, logger)

	jobManager := jobs.NewManager(storage.Jobs(), config.Jobs.MaxConcurrent, time.Duration(config.Jobs.PollIntervalSeconds)*time.Second, logger)
	deps := &generator.Deps{
		Jobs:              storage.Jobs(),
		Files:             storage.Files(),
		FilePairs:         storage.FilePairs(),
		GAPairs:           storage.GAPairs(),
		Questions:         storage.Questions(),
		Datasets:          storage.Datasets(),
		Tags:              storage.Tags(),
		Catalogs:          storage.Catalogs(),
		LLM:               llmClient,
		Logger:            logger,
		QuestionGenLength: config.LLM.QuestionGenerationLength,
	}
	jobManager.RegisterHandler(models.JobTypeFilePairGenerator, generator.NewFilePairHandler(deps))
	jobManager.RegisterHandler(models.JobTypeFileDeleteGenerator, generator.NewFileDeleteHandler(deps))
	jobManager.RegisterHandler(models.JobTypeGaPairGenerator, generator.NewGaPairHandler(deps))
	jobManager.RegisterHandler(models.JobTypeTagGenerator, generator.NewTagHandler(deps))
	jobManager.RegisterHandler(models.JobTypeQuestionGenerator, generator.NewQuestionHandler(deps))
	jobManager.RegisterHandler(models.JobTypeDatasetGenerator, generator.NewDatasetHandler(deps))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobManager.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("Job recovery failed")
	}
	if err := finetuneService.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("Finetune watcher recovery failed")
	}

	cronScheduler := scheduler.New(logger)
	if config.Scheduler.Enabled {
		if err := cronScheduler.Register(scheduler.Task{
			Name:     "cluster-sync",
			Schedule: config.Scheduler.SyncSchedule,
			Run:      deployService.SyncAll,
		}); err != nil {
			logger.Error().Err(err).Msg("Failed to register cluster sync task")
		}
		cronScheduler.Start()
	}

	go jobManager.Run(ctx)
	logger.Info().
		Str("locale", i18n.LocaleEN).
		Int("max_concurrent_jobs", config.Jobs.MaxConcurrent).
		Msg("forge is running")

	// block until shutdown is requested
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")
	cancel()
	if config.Scheduler.Enabled {
		cronScheduler.Stop()
	}
	finetuneService.Wait()
	deployService.Wait()
	logger.Info().Msg("Shutdown complete")
}
