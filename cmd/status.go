package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esvtools/esvsync/internal/status"
	"github.com/esvtools/esvsync/internal/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status [definition-file]",
	Short: "Show the stored submission state of registered sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions(args)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	shown := 0
	for _, def := range defs {
		es := def.EntropySource
		if es == nil || es.SessionID == 0 {
			continue
		}
		shown++

		engine := workflow.New(nil, store, workflow.Options{}, nil)
		if err := engine.Status(es); err != nil {
			return fmt.Errorf("%s: %w", def.Path(), err)
		}

		record, err := status.Encode(es, true)
		if err != nil {
			return err
		}
		fmt.Printf("%s (session %d):\n%s\n", def.Path(), es.SessionID, record)
	}
	if shown == 0 {
		return fmt.Errorf("no registered test sessions found")
	}
	return nil
}
