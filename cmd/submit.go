package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esvtools/esvsync/internal/workflow"
)

var submitCmd = &cobra.Command{
	Use:   "submit [definition-file]",
	Short: "Register a test session and upload its evidence",
	Long: `Registers an entropy assessment test session for each entropy source
definition and uploads the raw noise data, restart data, conditioned output
of every non-vetted conditioning component, and the supporting
documentation. Progress is recorded in the datastore after every stage so
an interrupted submission can be continued with 'resume'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
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

	opts := workflow.Options{DumpRegister: dumpRegister}

	for _, def := range defs {
		es := def.EntropySource
		if es == nil {
			continue
		}
		if es.SessionID != 0 && !dumpRegister {
			fmt.Printf("%s: already registered as session %d, use 'resume'\n",
				def.Path(), es.SessionID)
			continue
		}

		engine := workflow.New(client, store, opts, def.PersistIDs)
		if err := engine.Register(cmd.Context(), es); err != nil {
			return fmt.Errorf("%s: %w", def.Path(), err)
		}
	}
	return nil
}
