package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:       srv.URL,
		RetryCount:    1,
		RetryWaitTime: time.Millisecond,
		Timeout:       5 * time.Second,
	}, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeEnveloped(t *testing.T, w http.ResponseWriter, payload Object) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(WrapVersion(payload)))
}

func TestGetStripsEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/esv/v1/vendors/2", r.URL.Path)
		writeEnveloped(t, w, Object{"name": "ACME", "url": "/esv/v1/vendors/2"})
	}))

	record, err := c.Get(context.Background(), c.OpURL("vendors", 2))
	require.NoError(t, err)

	name, err := record.GetString("name")
	require.NoError(t, err)
	require.Equal(t, "ACME", name)
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	_, err := c.Get(context.Background(), c.OpURL("vendors", 99))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetCachesResources(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeEnveloped(t, w, Object{"name": "ACME"})
	}))

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), c.OpURL("vendors", 2))
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestPostWrapsPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var envelope []Object
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		require.Len(t, envelope, 2)
		require.Equal(t, "1.0", envelope[0]["esvVersion"])
		require.Equal(t, "ACME", envelope[1]["name"])

		writeEnveloped(t, w, Object{"status": "approved", "approvedUrl": "/esv/v1/vendors/7"})
	}))

	resp, err := c.Post(context.Background(), c.OpURL("vendors"), Object{"name": "ACME"})
	require.NoError(t, err)

	status, err := resp.GetString("status")
	require.NoError(t, err)
	require.Equal(t, "approved", status)
}

func TestScanListFollowsNextLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esv/v1/vendors", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "100", r.URL.Query().Get("limit"))
		writeEnveloped(t, w, Object{
			"data":  []any{map[string]any{"name": "Other"}},
			"links": map[string]any{"next": "/esv/v1/vendors/page2"},
		})
	})
	mux.HandleFunc("/esv/v1/vendors/page2", func(w http.ResponseWriter, r *http.Request) {
		writeEnveloped(t, w, Object{
			"data":  []any{map[string]any{"name": "Wanted"}},
			"links": map[string]any{"next": nil},
		})
	})
	c := newTestClient(t, mux)

	found, err := c.ScanList(context.Background(), c.OpURL("vendors"),
		func(entry Object) (bool, error) {
			name, err := entry.GetString("name")
			if err != nil {
				return false, err
			}
			return name == "Wanted", nil
		})
	require.NoError(t, err)
	require.True(t, found)
}

func TestScanListExhausted(t *testing.T) {
	var pages atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		// No links object at all: single page collection.
		writeEnveloped(t, w, Object{"data": []any{map[string]any{"name": "Other"}}})
	}))

	found, err := c.ScanList(context.Background(), c.OpURL("persons"),
		func(entry Object) (bool, error) { return false, nil })
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, int32(1), pages.Load())
}

func TestScanListPropagatesMatchError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnveloped(t, w, Object{"data": []any{map[string]any{}}})
	}))

	_, err := c.ScanList(context.Background(), c.OpURL("vendors"),
		func(entry Object) (bool, error) {
			return false, fmt.Errorf("%w: boom", ErrMalformed)
		})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUploadMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.Equal(t, "true", r.FormValue("itar"))
		require.Equal(t, "design.pdf", r.FormValue("sdComments"))

		file, header, err := r.FormFile("sdFile")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "design.pdf", header.Filename)

		writeEnveloped(t, w, Object{
			"status":      "success",
			"accessToken": "sd-token",
			"sdId":        float64(31),
		})
	}))

	resp, err := c.Upload(context.Background(), c.OpURL("supportingDocumentation"),
		"sdFile", "design.pdf", strings.NewReader("%PDF-1.4"),
		map[string]string{"itar": "true", "sdComments": "design.pdf"})
	require.NoError(t, err)

	id, err := resp.GetUint("sdId")
	require.NoError(t, err)
	require.Equal(t, uint64(31), id)
}

func TestSetTokenInstallsBearer(t *testing.T) {
	var got string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		writeEnveloped(t, w, Object{})
	}))

	c.SetToken(staticToken("secret"))
	_, err := c.Get(context.Background(), c.OpURL("vendors", 1))
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", got)
}

type staticToken string

func (s staticToken) Value() string { return string(s) }
