package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stagerun/pkg/logger"
	"stagerun/pkg/params"
)

func init() {
	paramsCmd.Flags().BoolVar(&paramsWrite, "write", false, "also write the params file into the work directory")
	rootCmd.AddCommand(paramsCmd)
}

var paramsWrite bool

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print the params file line for the workflow's form",
	Args:  cobra.NoArgs,
	RunE:  runParams,
}

func runParams(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(cfg.WorkflowPath, flagForm)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), def.ParamsLine())

	if !paramsWrite {
		return nil
	}
	g, _ := def.Form.Group(def.Params.Group)
	path := def.ParamsPath(cfg.WorkDir)
	if err := params.WriteFile(path, g); err != nil {
		return err
	}
	logger.Get().Info("params file written", zap.String("path", path))
	return nil
}
