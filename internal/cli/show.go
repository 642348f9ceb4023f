package cli

import (
	"context"

	"github.com/spf13/cobra"

	"stagerun/pkg/coordination"
	"stagerun/pkg/coordination/etcd"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the workflow's resources, form and apps",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(cfg.WorkflowPath, flagForm)
	if err != nil {
		return err
	}

	var provider coordination.ResourceProvider = coordination.NewStaticProvider(def.Resources...)
	if len(def.Resources) == 0 && len(cfg.EtcdEndpoints) > 0 {
		p, err := etcd.NewProvider(cfg.EtcdEndpoints, cfg.EtcdLockTTL)
		if err != nil {
			return err
		}
		defer p.Close()
		provider = p
	}
	if _, err := resolveResources(context.Background(), def, provider); err != nil {
		return err
	}
	return def.Describe(cmd.OutOrStdout(), cfg.WorkDir)
}
