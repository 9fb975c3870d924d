package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esvtools/esvsync/internal/workflow"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [definition-file]",
	Short: "Continue an interrupted evidence submission",
	Long: `Restores the submission state of each registered test session from the
datastore and uploads every evidence stage the status record does not
already mark as submitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions(args)
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	shutdown, err := setupTracing()
	if err != nil {
		return err
	}
	defer shutdown()

	resumed := 0
	for _, def := range defs {
		es := def.EntropySource
		if es == nil || es.SessionID == 0 {
			continue
		}
		resumed++
		engine := workflow.New(client, store, workflow.Options{}, def.PersistIDs)
		if err := engine.Resume(cmd.Context(), es); err != nil {
			return fmt.Errorf("%s: %w", def.Path(), err)
		}
	}
	if resumed == 0 {
		return fmt.Errorf("no registered test sessions to resume")
	}
	return nil
}
