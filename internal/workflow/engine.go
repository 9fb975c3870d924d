// Package workflow drives the multi-stage evidence submission for an
// entropy source test session: registration, raw noise and restart data
// upload, conditioned output upload per non-vetted component, and the
// supporting documentation uploads. Progress is written to the datastore
// after every stage so an interrupted run resumes without resubmitting.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/esvtools/esvsync/internal/auth"
	"github.com/esvtools/esvsync/internal/datastore"
	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/registry"
	"github.com/esvtools/esvsync/internal/status"
)

const (
	opEntropyAssessments = "entropyAssessments"
	opSupportingDocs     = "supportingDocumentation"
)

// PersistFunc writes newly learned session ids back to the definition file.
type PersistFunc func() error

// Options controls engine behavior.
type Options struct {
	// DumpRegister prints the registration payload instead of sending it.
	DumpRegister bool
}

// Engine runs the submission workflow for one entropy source definition.
type Engine struct {
	client  *registry.Client
	store   *datastore.Store
	opts    Options
	persist PersistFunc
	tracer  trace.Tracer
	out     io.Writer
}

// New builds an engine. persist may be nil when the caller has no
// definition file to update.
func New(client *registry.Client, store *datastore.Store, opts Options, persist PersistFunc) *Engine {
	if persist == nil {
		persist = func() error { return nil }
	}
	return &Engine{
		client:  client,
		store:   store,
		opts:    opts,
		persist: persist,
		tracer:  otel.Tracer("esvsync/workflow"),
		out:     os.Stdout,
	}
}

// SetOutput redirects dump and progress output, used by tests.
func (e *Engine) SetOutput(w io.Writer) { e.out = w }

// Register creates the test session on the registry and runs every upload
// stage. With DumpRegister the payload is printed and nothing is sent.
func (e *Engine) Register(ctx context.Context, es *definition.EntropySource) error {
	ctx, span := e.tracer.Start(ctx, "workflow.Register")
	defer span.End()

	payload := buildRegistration(es)

	if e.opts.DumpRegister {
		pretty, err := json.MarshalIndent(registry.WrapVersion(payload), "", "    ")
		if err != nil {
			return err
		}
		fmt.Fprintln(e.out, string(pretty))
		return nil
	}

	entry, err := e.client.Post(ctx, e.client.OpURL(opEntropyAssessments), payload)
	if err != nil {
		return err
	}

	// Session id comes from the resource URL in the response.
	ref, err := entry.GetString("url")
	if err != nil {
		return err
	}
	if es.SessionID, err = registry.TrailingNumber(ref); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int64("session.id", int64(es.SessionID)))

	credential, err := entry.GetString("accessToken")
	if err != nil {
		return fmt.Errorf("registration response carries no access token: %w", err)
	}
	es.Token = auth.New(credential)
	e.client.SetToken(es.Token)

	log.Info(log.CatWorkflow, "Test session registered", "session", es.SessionID)

	if err := e.persist(); err != nil {
		return err
	}
	if err := e.writeStatus(es); err != nil {
		return err
	}

	if err := resolveDataFiles(es, entry); err != nil {
		return err
	}

	return e.uploadAll(ctx, es)
}

// Resume restores an interrupted session from the datastore and continues
// the upload stages that have not completed.
func (e *Engine) Resume(ctx context.Context, es *definition.EntropySource) error {
	ctx, span := e.tracer.Start(ctx, "workflow.Resume",
		trace.WithAttributes(attribute.Int64("session.id", int64(es.SessionID))))
	defer span.End()

	if es.SessionID == 0 {
		return fmt.Errorf("%w: entropy source was never registered", definition.ErrInvalidInput)
	}

	data, err := e.store.ReadBlob(es.SessionID, status.Filename)
	if err != nil {
		return err
	}
	token, err := status.Decode(data, es)
	if err != nil {
		return err
	}
	if !token.Usable(0) {
		return fmt.Errorf("%w: session %d credential issued %s; register a new test session",
			auth.ErrExpired, es.SessionID, token.IssuedAt().Format(time.RFC3339))
	}
	e.client.SetToken(es.Token)

	log.Info(log.CatWorkflow, "Resuming test session", "session", es.SessionID)

	return e.uploadAll(ctx, es)
}

// Status returns the decoded workflow state of a stored session without
// touching the network.
func (e *Engine) Status(es *definition.EntropySource) error {
	if es.SessionID == 0 {
		return fmt.Errorf("%w: entropy source was never registered", definition.ErrInvalidInput)
	}
	data, err := e.store.ReadBlob(es.SessionID, status.Filename)
	if err != nil {
		return err
	}
	_, err = status.Decode(data, es)
	return err
}

// uploadAll runs the evidence stages in order, skipping anything the
// status record marks as already submitted.
func (e *Engine) uploadAll(ctx context.Context, es *definition.EntropySource) error {
	if err := e.uploadDataFile(ctx, es, es.RawNoiseFile, es.RawNoiseID,
		&es.RawNoiseSubmitted); err != nil {
		return fmt.Errorf("raw noise upload: %w", err)
	}
	if err := e.uploadDataFile(ctx, es, es.RestartFile, es.RestartID,
		&es.RestartSubmitted); err != nil {
		return fmt.Errorf("restart data upload: %w", err)
	}

	for i, cc := range es.Components {
		if cc.Vetted {
			continue
		}
		if err := e.uploadDataFile(ctx, es, cc.DataFile, cc.RemoteID,
			&cc.Submitted); err != nil {
			return fmt.Errorf("conditioning component %d upload: %w", i+1, err)
		}
	}

	return e.uploadDocuments(ctx, es)
}

// uploadDataFile posts one evidence file to its session data-file resource
// and marks the stage submitted in the status record.
func (e *Engine) uploadDataFile(ctx context.Context, es *definition.EntropySource,
	path string, fileID uint64, submitted *bool) error {
	if *submitted {
		log.Debug(log.CatWorkflow, "Stage already submitted, skipping", "file", path)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(e.out, "Submitting file %s\n", path)

	target := fmt.Sprintf("%s/dataFiles/%d",
		e.client.OpURL(opEntropyAssessments, es.SessionID), fileID)
	entry, err := e.client.Upload(ctx, target, "dataFile", filepath.Base(path), f, nil)
	if err != nil {
		return err
	}
	if err := checkUploadStatus(entry); err != nil {
		return err
	}

	// The acknowledgement may carry a renewed session credential which
	// replaces the current one for the remaining stages.
	if credential, err := entry.GetString("accessToken"); err == nil && es.Token != nil {
		es.Token.Replace(credential)
	}

	*submitted = true
	return e.writeStatus(es)
}

// uploadDocuments posts every regular file in the documents directory that
// the status record does not already list. Each successful upload appends
// a document entry, in upload order, and rewrites the status record.
func (e *Engine) uploadDocuments(ctx context.Context, es *definition.EntropySource) error {
	if es.DocumentsDir == "" {
		return nil
	}

	entries, err := os.ReadDir(es.DocumentsDir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	itar := "false"
	if es.ITAR {
		itar = "true"
	}

	for _, name := range names {
		if documentUploaded(es, name) {
			log.Debug(log.CatWorkflow, "Document already submitted, skipping", "file", name)
			continue
		}

		path := filepath.Join(es.DocumentsDir, name)
		f, err := os.Open(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(e.out, "Submitting file %s\n", path)

		entry, err := e.client.Upload(ctx, e.client.OpURL(opSupportingDocs),
			"sdFile", name, f, map[string]string{
				"itar":       itar,
				"sdComments": name,
			})
		f.Close()
		if err != nil {
			return err
		}
		if err := checkUploadStatus(entry); err != nil {
			return err
		}

		credential, err := entry.GetString("accessToken")
		if err != nil {
			return err
		}
		sdID, err := entry.GetUint("sdId")
		if err != nil {
			return err
		}
		es.AppendDocument(&definition.SupportingDocument{
			RemoteID: sdID,
			Filename: name,
			Token:    auth.New(credential),
		})

		if err := e.writeStatus(es); err != nil {
			return err
		}
	}

	return nil
}

// documentUploaded reports whether the status record already lists a
// supporting document by this filename.
func documentUploaded(es *definition.EntropySource, name string) bool {
	for _, sd := range es.Documents {
		if sd.Filename == name {
			return true
		}
	}
	return false
}

// checkUploadStatus verifies the server accepted an upload. The server
// reports acceptance as a status string starting with "success".
func checkUploadStatus(entry registry.Object) error {
	state, err := entry.GetString("status")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(state, "success") {
		return fmt.Errorf("server rejected upload: status %q", state)
	}
	return nil
}

// writeStatus rewrites the session status record. Called after every
// state-changing stage so a crash never loses submitted evidence.
func (e *Engine) writeStatus(es *definition.EntropySource) error {
	data, err := status.Encode(es, true)
	if err != nil {
		return err
	}
	return e.store.WriteBlob(es.SessionID, status.Filename, data, true)
}
