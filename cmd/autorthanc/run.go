package main

import (
	"github.com/spf13/cobra"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run <study-id>",
	Short: "Run the automation rules against one study",
	Long: `Evaluate the automation rules against a single study and execute the
matching actions, then exit. With --force, existing exports are replaced
instead of skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		eng, cleanup, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		return eng.listener.RunStudy(cmd.Context(), args[0], runForce)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"Replace existing exports instead of skipping them")
}
