package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autorthanc/autorthanc/internal/version"
	"github.com/autorthanc/autorthanc/pkg/config"
	"github.com/autorthanc/autorthanc/pkg/filesystem"
	"github.com/autorthanc/autorthanc/pkg/journal"
	"github.com/autorthanc/autorthanc/pkg/logging"
	"github.com/autorthanc/autorthanc/pkg/rules"
)

var (
	verbosity int
	cfgFile   string

	rootCmd = &cobra.Command{
		Use:   "autorthanc",
		Short: "Rule-driven automation for a DICOM archive",
		Long: `autorthanc watches a DICOM archive and runs declarative automation
rules against stable studies and series: exporting their objects into a
directory tree or forwarding them to a remote modality.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Console-only logging until a command loads the config and
			// knows where the file sink goes.
			if _, err := logging.Setup(verbosity, ""); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to set up logging: %v\n", err)
			}
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. Called once from main.main().
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase verbosity (-v DEBUG, -vv TRACE)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default /etc/autorthanc/config.toml, then ./autorthanc.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration and re-runs logging setup with the
// configured file sink.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if _, err := logging.Setup(verbosity, cfg.Log.File); err != nil {
		return nil, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autorthanc version %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the automation rules in the rules directory",
	Long: `List every rule file in the configured rules directory, including
inactive ones. Files that fail to parse are skipped with a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store := rules.NewStore(cfg.Rules.Dir, filesystem.NewOS(), logging.GetLogger("rules"))
		all, err := store.List()
		if err != nil {
			return err
		}

		if len(all) == 0 {
			fmt.Printf("No rules found in %s\n", cfg.Rules.Dir)
			return nil
		}

		for _, r := range all {
			state := "active"
			if !r.IsActive {
				state = "inactive"
			}
			line := fmt.Sprintf("%s  [%s]  on=%s  action=%s  tags=%d",
				r.ID, state, r.CheckOn, r.Action, len(r.Tags))
			if r.DestinationModality != "" {
				line += fmt.Sprintf("  dest=%s", r.DestinationModality)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent journal entries",
	Long:  `Show the most recent automation actions recorded in the journal, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := journal.Open(cfg.Journal.Path, logging.GetLogger("journal"))
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Recent(cmd.Context(), journalLimit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No journal entries")
			return nil
		}

		for _, e := range entries {
			parts := []string{
				e.FinishedAt.Format("2006-01-02 15:04:05"),
				e.Status,
				e.Level + "/" + e.ResourceID,
				"rule=" + e.RuleID,
				"action=" + e.Action,
			}
			if e.Destination != "" {
				parts = append(parts, "dest="+e.Destination)
			}
			if e.Forced {
				parts = append(parts, "forced")
			}
			if e.Error != "" {
				parts = append(parts, "error="+e.Error)
			}
			fmt.Println(strings.Join(parts, "  "))
		}
		return nil
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Maximum number of entries to show")
}
