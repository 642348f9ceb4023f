// Package cli implements the stagerun command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "stagerun/configs"
	"stagerun/pkg/logger"
)

var (
	flagWorkflow string
	flagWorkDir  string
	flagForm     string
	flagLogLevel string
)

// cfg is loaded from the environment before every command and then
// overridden by flags.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "stagerun",
	Short: "Stage files to compute resources and run workflow apps",
	Long: `stagerun reads a workflow file, writes its parameter file, stages each
app's inputs to its resource, runs the app command there and stages the
outputs back.

Backends are optional and configured from the environment: DB_HOST for the
execution store, REDIS_ADDR for the event stream, ETCD_ENDPOINTS for shared
resources and run locks, S3_BUCKET or STAGERUN_LOG_DIR for log archives.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagWorkflow, "workflow", "w", "", "workflow file (default $STAGERUN_WORKFLOW or workflow.toml)")
	pf.StringVar(&flagWorkDir, "workdir", "", "directory for the params file (default $STAGERUN_WORKDIR or the current directory)")
	pf.StringVar(&flagForm, "form", "", "YAML file replacing the workflow's form inputs")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (default $STAGERUN_LOG_LEVEL)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	cfg = config.LoadConfig()
	if flagWorkflow != "" {
		cfg.WorkflowPath = flagWorkflow
	}
	if flagWorkDir != "" {
		cfg.WorkDir = flagWorkDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogFile,
		Service:    "stagerun",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Debug("configuration loaded",
		zap.String("workflow", cfg.WorkflowPath),
		zap.String("workdir", cfg.WorkDir),
		zap.Bool("database", cfg.DatabaseDSN() != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Strings("etcd", cfg.EtcdEndpoints),
	)
	return nil
}
