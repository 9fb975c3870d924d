// Package reconcile maps local definitions onto remote registry resource
// ids: probe the single bound resource when an id is already on file, scan
// the collection listing otherwise, and fall back to registration when
// nothing matches.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/registry"
)

// Options controls registration behavior.
type Options struct {
	// RegisterNew enables automatic registration of definitions without a
	// remote counterpart.
	RegisterNew bool
	// DumpRegister bypasses matching entirely and prints the registration
	// payload instead of submitting it.
	DumpRegister bool
}

// PersistFunc writes newly learned remote ids back to the local
// configuration.
type PersistFunc func() error

// Reconciler drives the match-or-register protocol for one definition.
// All operations are synchronous; parallelism across independent entities
// is the caller's concern.
type Reconciler struct {
	client  *registry.Client
	opts    Options
	persist PersistFunc
	tracer  trace.Tracer
	out     io.Writer
}

// New builds a Reconciler. persist is invoked every time an id is newly
// learned or confirmed, including on registration error paths.
func New(client *registry.Client, opts Options, persist PersistFunc) *Reconciler {
	return &Reconciler{
		client:  client,
		opts:    opts,
		persist: persist,
		tracer:  otel.Tracer("esvsync/reconcile"),
		out:     os.Stdout,
	}
}

// SetOutput redirects dump-register output. Used by tests.
func (r *Reconciler) SetOutput(w io.Writer) { r.out = w }

// Reconcile resolves the remote id for one entity and persists it. The
// pending-request check runs first and its result is persisted
// unconditionally, even when nothing is outstanding.
func (r *Reconciler) Reconcile(ctx context.Context, e Entity) (uint64, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile."+e.Kind(),
		trace.WithAttributes(attribute.String("entity.kind", e.Kind())))
	defer span.End()

	if r.opts.DumpRegister {
		return 0, r.register(ctx, e, false)
	}

	outcome, pollErr := r.PollOutstanding(ctx, e)
	if err := r.persist(); err != nil {
		return 0, err
	}
	if pollErr != nil {
		return 0, pollErr
	}
	switch outcome {
	case Ready:
		// Approved id already bound and persisted; skip matching this pass.
		return e.RemoteID(), nil
	case StillPending:
		return 0, fmt.Errorf("%w: %s request %d", registry.ErrPending, e.Kind(), e.RequestID())
	}

	if e.RemoteID() != 0 {
		return r.validateOne(ctx, e)
	}
	return r.validateAll(ctx, e)
}

// validateOne probes the single resource a locally known id points at.
// A mismatching record is configuration drift and aborts the entity; it is
// never silently re-registered.
func (r *Reconciler) validateOne(ctx context.Context, e Entity) (uint64, error) {
	id := e.RemoteID()
	log.Info(log.CatReconcile, "Validating reference", "kind", e.Kind(), "id", id)

	record, err := r.client.Get(ctx, r.client.OpURL(e.Endpoint(), id))
	if errors.Is(err, registry.ErrNotFound) {
		if !r.opts.RegisterNew {
			return 0, fmt.Errorf("%s id %d not found on registry: %w, request a (re)register operation",
				e.Kind(), id, ErrUnmatched)
		}
		// The bound resource is gone; re-register under the same id.
		if err := r.register(ctx, e, true); err != nil {
			return 0, err
		}
		return e.RemoteID(), nil
	}
	if err != nil {
		return 0, err
	}

	res, err := e.Match(record)
	if err != nil {
		return 0, err
	}
	if !res.Matched {
		return 0, fmt.Errorf("%s id %d: %w, definition differs from the registry record, perform a (re)register operation",
			e.Kind(), id, ErrMismatch)
	}

	e.SetRemoteID(res.ID)
	if err := r.persist(); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// validateAll pages through the collection listing applying the entity's
// match predicate. Finding a match during the scan and exhausting the scan
// are distinct outcomes: the first binds and persists, the second registers
// or aborts.
func (r *Reconciler) validateAll(ctx context.Context, e Entity) (uint64, error) {
	log.Info(log.CatReconcile, "Searching for reference, this may take time", "kind", e.Kind())

	var matched uint64
	found, err := r.client.ScanList(ctx, r.client.OpURL(e.Endpoint()),
		func(entry registry.Object) (bool, error) {
			res, err := e.Match(entry)
			if err != nil {
				return false, err
			}
			if res.Matched {
				matched = res.ID
			}
			return res.Matched, nil
		})
	if err != nil {
		return 0, err
	}

	if found {
		e.SetRemoteID(matched)
		if err := r.persist(); err != nil {
			return 0, err
		}
		return matched, nil
	}

	// Scan completed, nothing found on the registry.
	if !r.opts.RegisterNew {
		return 0, fmt.Errorf("no %s definition found on registry: %w, request registering this definition",
			e.Kind(), ErrUnmatched)
	}
	if err := r.register(ctx, e, false); err != nil {
		return 0, err
	}
	return e.RemoteID(), nil
}

// register issues the create (POST) or update (PUT) request for the entity
// and binds the returned id. The persist step runs even on the error path
// so a partially completed registration's id is not lost.
func (r *Reconciler) register(ctx context.Context, e Entity, update bool) (err error) {
	payload, err := e.BuildPayload(r.client)
	if err != nil {
		return err
	}

	if r.opts.DumpRegister {
		return r.dump(payload)
	}

	defer func() {
		if perr := r.persist(); perr != nil && err == nil {
			err = perr
		}
	}()

	var (
		response registry.Object
		path     = r.client.OpURL(e.Endpoint())
	)
	if update {
		response, err = r.client.Put(ctx, r.client.OpURL(e.Endpoint(), e.RemoteID()), payload)
	} else {
		response, err = r.client.Post(ctx, path, payload)
	}
	if err != nil {
		return err
	}

	res, err := parseRequest(response)
	if err != nil {
		return err
	}
	if res.pending {
		e.SetRequestID(res.requestID)
		log.Info(log.CatReconcile,
			"Registration accepted, pending approval, query again once the registry approved the request",
			"kind", e.Kind(), "request", res.requestID)
		return fmt.Errorf("%w: %s request %d", registry.ErrPending, e.Kind(), res.requestID)
	}

	e.SetRemoteID(res.id)
	e.SetRequestID(0)
	log.Info(log.CatReconcile, "Registered", "kind", e.Kind(), "id", res.id)
	return nil
}

func (r *Reconciler) dump(payload registry.Object) error {
	rendered, err := json.MarshalIndent(registry.WrapVersion(payload), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(r.out, "%s\n", rendered)
	return err
}
