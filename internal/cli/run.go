package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stagerun/pkg/api"
	"stagerun/pkg/coordination"
	"stagerun/pkg/executor"
	"stagerun/pkg/logger"
	"stagerun/pkg/resource"
	"stagerun/pkg/workflow"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every app of the workflow",
	Long: `Write the params file, then submit the workflow's apps in order. Apps
marked wait are awaited before the next app is submitted; the rest are
collected at the end.`,
	Args: cobra.NoArgs,
	RunE: runWorkflow,
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	log := logger.Get()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	def, err := loadDefinition(cfg.WorkflowPath, flagForm)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	var provider coordination.ResourceProvider = coordination.NewStaticProvider(def.Resources...)
	if len(def.Resources) == 0 && b.provider != nil {
		provider = b.provider
	}
	resources, err := resolveResources(ctx, def, provider)
	if err != nil {
		return err
	}

	if b.locker != nil && def.Name != "" {
		unlock, err := b.locker.Lock(ctx, def.Name)
		if err != nil {
			return err
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				log.Warn("failed to release workflow lock", zap.Error(err))
			}
		}()
		log.Info("workflow lock held", zap.String("workflow", def.Name))
	}

	pool, err := resource.OpenPool(resources)
	if err != nil {
		return err
	}
	defer pool.Close()

	engine := executor.NewEngine(pool, b.engineOptions()...)

	var srv *api.Server
	if cfg.StatusAddr != "" {
		srv = api.NewServer(api.Config{
			Addr:   cfg.StatusAddr,
			Engine: engine,
			Store:  b.store,
			Logs:   b.logs,
			Logger: log,
			Tracer: b.tracer(),
		})
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	driver := workflow.NewDriver(def, engine,
		workflow.WithLogger(log),
		workflow.WithWorkDir(cfg.WorkDir),
		workflow.WithSubmitHost(cfg.SubmitHost),
	)

	log.Info("running workflow",
		zap.String("workflow", def.Name),
		zap.Strings("resources", pool.Labels()),
		zap.Int("apps", len(def.Apps)),
	)
	report, runErr := driver.Run(ctx)

	// Submitted tasks run to completion. After stop a second signal
	// terminates the process.
	stop()
	drainTasks(engine, log)
	refreshReport(engine, report)

	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}

	if srv != nil {
		lingerStatus(ctx, log, time.Duration(cfg.ShutdownGrace)*time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("status server shutdown failed", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed := report.Failed(); len(failed) > 0 {
		log.Warn("workflow finished with failed background apps", zap.Int("failed", len(failed)))
	}
	return nil
}

// drainTasks blocks until every submitted task is terminal, then logs the
// outcome of each.
func drainTasks(engine *executor.Engine, log *zap.Logger) {
	var inFlight int
	for _, h := range engine.Handles() {
		if !h.Status().Terminal() {
			inFlight++
		}
	}
	if inFlight > 0 {
		log.Info("waiting for in-flight tasks; interrupt again to abort", zap.Int("tasks", inFlight))
	}
	_ = engine.Drain(context.Background())

	for _, h := range engine.Handles() {
		res, err := h.Poll()
		fields := []zap.Field{zap.String("app", h.Name()), zap.String("task_id", h.ID().String())}
		if err != nil {
			log.Warn("task failed", append(fields, zap.Error(err))...)
			continue
		}
		log.Debug("task succeeded", append(fields, zap.Duration("duration", res.Duration))...)
	}
}

// refreshReport fills in apps that were still running when the driver
// returned.
func refreshReport(engine *executor.Engine, report *workflow.Report) {
	if report == nil {
		return
	}
	for i, a := range report.Apps {
		if a.Err != nil || (a.Result != nil && a.Result.Status.Terminal()) {
			continue
		}
		id, err := uuid.Parse(a.TaskID)
		if err != nil {
			continue
		}
		if h, ok := engine.Lookup(id); ok {
			report.Apps[i].Result, report.Apps[i].Err = h.Poll()
		}
	}
}

// lingerStatus keeps the status server reachable for grace after the run.
func lingerStatus(ctx context.Context, log *zap.Logger, grace time.Duration) {
	if grace <= 0 {
		return
	}
	log.Info("status server lingering", zap.Duration("grace", grace))
	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}
}

func printReport(w io.Writer, report *workflow.Report) {
	if report.ParamsFile != "" {
		fmt.Fprintf(w, "Params file: %s\n", report.ParamsFile)
	}
	if len(report.Apps) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tTASK\tSTATUS\tEXIT\tDURATION\tERROR")
	for _, a := range report.Apps {
		status, exit, dur := "-", "-", "-"
		if a.Result != nil {
			status = string(a.Result.Status)
			if a.Result.Status.Terminal() {
				exit = fmt.Sprintf("%d", a.Result.ExitCode)
				dur = a.Result.Duration.Round(time.Millisecond).String()
			}
		}
		errMsg := ""
		if a.Err != nil {
			errMsg = a.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.App, shortID(a.TaskID), status, exit, dur, errMsg)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
