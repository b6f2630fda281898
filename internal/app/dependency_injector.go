package app

import (
	"context"

	"log/slog"
	"net/http"
	"os"

	"github.com/you-humble/mediafetch/internal/download"
	"github.com/you-humble/mediafetch/internal/infra/config"
	"github.com/you-humble/mediafetch/internal/infra/engine"
	taskstore "github.com/you-humble/mediafetch/internal/infra/store/task"
	"github.com/you-humble/mediafetch/internal/transport"
	"github.com/you-humble/mediafetch/internal/usecase"
)

const cfgPath = "./configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	taskStore *taskstore.Store
	engine    *engine.YTDLP
	runner    *download.Runner

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) TaskStore() *taskstore.Store {
	if di.taskStore == nil {
		di.taskStore = taskstore.New()
	}
	return di.taskStore
}

func (di *dependencyInjector) Engine(ctx context.Context) *engine.YTDLP {
	if di.engine == nil {
		cfg := di.Config().Engine
		if cfg.AutoInstall {
			engine.Install(ctx)
			di.Logger().Info("yt-dlp binary provisioned")
		}

		di.engine = engine.New(engine.Config{
			ProgressInterval: cfg.ProgressInterval,
			MergeFormat:      cfg.MergeFormat,
		})
		di.Logger().Info(
			"initialized yt-dlp engine",
			slog.Duration("progress_interval", cfg.ProgressInterval),
			slog.String("merge_format", cfg.MergeFormat),
		)
	}
	return di.engine
}

func (di *dependencyInjector) Runner(ctx context.Context) *download.Runner {
	if di.runner == nil {
		cfg := di.Config()

		workDir := cfg.WorkDir
		if workDir == "" {
			workDir = os.TempDir()
		}

		di.runner = download.NewRunner(ctx, di.TaskStore(), di.Engine(ctx), workDir, cfg.MaxConcurrent)
		di.Logger().Info(
			"initialized download runner",
			slog.String("work_dir", workDir),
			slog.Int64("max_concurrent", cfg.MaxConcurrent),
		)
	}
	return di.runner
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		di.usecase = usecase.New(
			di.TaskStore(),
			di.Engine(ctx),
			di.Runner(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}
