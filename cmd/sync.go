package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/reconcile"
	"github.com/esvtools/esvsync/internal/registry"
)

var syncCmd = &cobra.Command{
	Use:   "sync [definition-file]",
	Short: "Reconcile local definitions with the registry",
	Long: `Resolves the remote id of every vendor and contact person definition:
already bound definitions are re-validated against the server, unbound ones
are searched in the registry listings, and with --register-new anything
unmatched is registered. Newly learned ids are written back to the
definition files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	defs, err := loadDefinitions(args)
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	shutdown, err := setupTracing()
	if err != nil {
		return err
	}
	defer shutdown()

	opts := reconcile.Options{
		RegisterNew:  cfg.RegisterNew,
		DumpRegister: dumpRegister,
	}

	// One definition failing must not keep the others from syncing.
	failures := 0
	for _, def := range defs {
		if err := syncOne(cmd, client, def, opts); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s: %v\n", def.Path(), err)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d definitions failed to sync", failures, len(defs))
	}
	return nil
}

func syncOne(cmd *cobra.Command, client *registry.Client,
	def *definition.Definition, opts reconcile.Options) error {
	r := reconcile.New(client, opts, def.PersistIDs)

	// Vendor first; the person payload references the vendor id.
	id, err := r.Reconcile(cmd.Context(), reconcile.VendorEntity(def))
	switch {
	case errors.Is(err, registry.ErrPending):
		fmt.Printf("%s: vendor registration pending server approval\n", def.Path())
		return nil
	case err != nil:
		return fmt.Errorf("vendor: %w", err)
	}
	log.Info(log.CatReconcile, "Vendor bound", "path", def.Path(), "id", id)

	if def.Person == nil {
		return nil
	}

	id, err = r.Reconcile(cmd.Context(), reconcile.PersonEntity(def))
	switch {
	case errors.Is(err, registry.ErrPending):
		fmt.Printf("%s: person registration pending server approval\n", def.Path())
		return nil
	case err != nil:
		return fmt.Errorf("person: %w", err)
	}
	log.Info(log.CatReconcile, "Person bound", "path", def.Path(), "id", id)

	return nil
}
