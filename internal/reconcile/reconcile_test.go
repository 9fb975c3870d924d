package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/registry"
)

func testDefinition() *definition.Definition {
	vendor := &definition.Vendor{
		Name:    "ACME Corporation",
		Website: "https://acme.test",
		Email:   "info@acme.test",
		Address: definition.Address{
			Street:   "123 Main Street",
			Locality: "Anytown",
		},
	}
	return &definition.Definition{
		Vendor: vendor,
		Person: &definition.Person{
			FullName: "Jane Smith",
			Email:    "jane.smith@acme.acme",
			Phone:    "555-555-0001",
			Vendor:   vendor,
		},
	}
}

func vendorRecord(id string) map[string]any {
	return map[string]any{
		"url":  "/esv/v1/vendors/" + id,
		"name": "ACME Corporation",
		"contact": []any{map[string]any{
			"name": "Jane Smith",
			"address": map[string]any{
				"street":   "123 Main Street",
				"locality": "Anytown",
			},
		}},
	}
}

func personRecord(id string) map[string]any {
	return map[string]any{
		"url":       "/esv/v1/persons/" + id,
		"fullName":  "Jane Smith",
		"vendorUrl": "/esv/v1/vendors/2",
		"emails":    []any{"jane.smith@acme.acme"},
		"phoneNumbers": []any{
			map[string]any{"number": "555-555-0001", "type": "voice"},
		},
	}
}

type testEnv struct {
	client   *registry.Client
	persists atomic.Int32
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := registry.New(registry.Config{
		BaseURL:       srv.URL,
		RetryCount:    1,
		RetryWaitTime: time.Millisecond,
		Timeout:       5 * time.Second,
	}, nil)
	t.Cleanup(func() { _ = client.Close() })
	return &testEnv{client: client}
}

func (e *testEnv) reconciler(opts Options) *Reconciler {
	return New(e.client, opts, func() error {
		e.persists.Add(1)
		return nil
	})
}

func respond(t *testing.T, w http.ResponseWriter, payload map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode([]any{
		map[string]any{"esvVersion": "1.0"}, payload,
	}))
}

func TestReconcileUnboundFindsMatchInListing(t *testing.T) {
	// Vendor 1 is a non-match, vendor 2 matches.
	other := vendorRecord("1")
	other["name"] = "Globex"

	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/vendors", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{
			"data": []any{other, vendorRecord("2")},
		})
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	r := env.reconciler(Options{})

	id, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
	require.Equal(t, uint64(2), def.Vendor.RemoteID)
	require.GreaterOrEqual(t, env.persists.Load(), int32(1))
}

func TestReconcileBoundRevalidates(t *testing.T) {
	var posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/persons/15", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, personRecord("15"))
	})
	mux.HandleFunc("/esv/v1/persons", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		http.NotFound(w, r)
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	def.Vendor.RemoteID = 2
	def.Person.RemoteID = 15
	r := env.reconciler(Options{})

	id, err := r.Reconcile(context.Background(), PersonEntity(def))
	require.NoError(t, err)
	require.Equal(t, uint64(15), id)
	require.Zero(t, posts.Load())
}

func TestReconcileBoundMismatchIsOperatorActionable(t *testing.T) {
	record := personRecord("15")
	record["fullName"] = "John Doe"

	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/persons/15", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, record)
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	def.Vendor.RemoteID = 2
	def.Person.RemoteID = 15

	// Even with auto-registration enabled a drifted record is never
	// silently re-registered.
	r := env.reconciler(Options{RegisterNew: true})
	_, err := r.Reconcile(context.Background(), PersonEntity(def))
	require.ErrorIs(t, err, ErrMismatch)
}

func TestReconcileUnmatchedWithoutAutoRegister(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/vendors", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{"data": []any{}})
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	r := env.reconciler(Options{})

	_, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.ErrorIs(t, err, ErrUnmatched)
	require.Zero(t, def.Vendor.RemoteID)
}

func TestReconcileRegistersWhenEnabled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/vendors", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			respond(t, w, map[string]any{"data": []any{}})
		case http.MethodPost:
			var envelope []map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
			require.Len(t, envelope, 2)
			require.Equal(t, "ACME Corporation", envelope[1]["name"])
			respond(t, w, map[string]any{
				"status":      "approved",
				"approvedUrl": "/esv/v1/vendors/7",
			})
		}
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	r := env.reconciler(Options{RegisterNew: true})

	id, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)
	require.Equal(t, uint64(7), def.Vendor.RemoteID)
	require.Zero(t, def.Vendor.RequestID)
}

func TestReconcileRegistrationPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/vendors", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			respond(t, w, map[string]any{"data": []any{}})
		case http.MethodPost:
			respond(t, w, map[string]any{
				"status": "initial",
				"url":    "/esv/v1/requests/99",
			})
		}
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	r := env.reconciler(Options{RegisterNew: true})

	_, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.ErrorIs(t, err, registry.ErrPending)
	require.Equal(t, uint64(99), def.Vendor.RequestID)
	require.Zero(t, def.Vendor.RemoteID)
	// The pending request id must have been persisted.
	require.GreaterOrEqual(t, env.persists.Load(), int32(1))
}

func TestReconcilePollsOutstandingRequestFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/requests/99", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{
			"url":         "/esv/v1/requests/99",
			"status":      "approved",
			"approvedUrl": "/esv/v1/vendors/7",
		})
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	def.Vendor.RequestID = 99
	r := env.reconciler(Options{})

	id, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)
	require.Equal(t, uint64(7), def.Vendor.RemoteID)
	require.Zero(t, def.Vendor.RequestID)
}

func TestReconcileRequestStillProcessing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/requests/99", func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{
			"url":    "/esv/v1/requests/99",
			"status": "processing",
		})
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	def.Vendor.RequestID = 99
	r := env.reconciler(Options{})

	_, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.ErrorIs(t, err, registry.ErrPending)
	require.Equal(t, uint64(99), def.Vendor.RequestID)
}

func TestReconcileIsIdempotentOnceBound(t *testing.T) {
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/vendors/2", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		respond(t, w, vendorRecord("2"))
	})

	env := newTestEnv(t, mux)
	def := testDefinition()
	def.Vendor.RemoteID = 2
	r := env.reconciler(Options{})

	for i := 0; i < 2; i++ {
		id, err := r.Reconcile(context.Background(), VendorEntity(def))
		require.NoError(t, err)
		require.Equal(t, uint64(2), id)
	}
	// The second pass is served from the resource cache.
	require.Equal(t, int32(1), requests.Load())
}

func TestReconcileDumpRegisterBypassesNetwork(t *testing.T) {
	var hits atomic.Int32
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	def := testDefinition()
	r := env.reconciler(Options{DumpRegister: true})
	var out bytes.Buffer
	r.SetOutput(&out)

	_, err := r.Reconcile(context.Background(), VendorEntity(def))
	require.NoError(t, err)
	require.Zero(t, hits.Load())

	var envelope []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &envelope))
	require.Len(t, envelope, 2)
	require.Equal(t, "1.0", envelope[0]["esvVersion"])
	require.Equal(t, "ACME Corporation", envelope[1]["name"])
}

func TestPersonPayloadRequiresBoundVendor(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	def := testDefinition()
	// Vendor unbound: building the person payload must fail before any
	// network registration is attempted.
	r := env.reconciler(Options{DumpRegister: true})

	_, err := r.Reconcile(context.Background(), PersonEntity(def))
	require.ErrorIs(t, err, definition.ErrInvalidInput)
}
