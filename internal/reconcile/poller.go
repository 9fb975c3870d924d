package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/registry"
)

// PollOutcome is the result of checking an outstanding registration.
type PollOutcome int

const (
	// NotOutstanding: no registration request is on file for the entity.
	NotOutstanding PollOutcome = iota
	// StillPending: the registry accepted the registration but has not
	// approved it yet; the final id is not available.
	StillPending
	// Ready: the registration was approved and the final id was bound.
	Ready
)

// requestResult holds the parsed state of a registration request resource:
// {url, status, approvedUrl}.
type requestResult struct {
	pending   bool
	requestID uint64
	id        uint64
}

// parseRequest interprets a request resource or a registration response.
// Status "approved" yields the final id from approvedUrl; "initial" and
// "processing" yield the request id from url; anything else is an
// unsuccessful operation.
func parseRequest(payload registry.Object) (requestResult, error) {
	status, err := payload.GetString("status")
	if err != nil {
		return requestResult{}, err
	}

	switch {
	case strings.HasPrefix(status, "approved"):
		uri, err := payload.GetString("approvedUrl")
		if err != nil {
			return requestResult{}, err
		}
		id, err := registry.TrailingNumber(uri)
		if err != nil {
			return requestResult{}, err
		}
		return requestResult{id: id}, nil

	case strings.HasPrefix(status, "initial"), strings.HasPrefix(status, "processing"):
		uri, err := payload.GetString("url")
		if err != nil {
			return requestResult{}, err
		}
		reqID, err := registry.TrailingNumber(uri)
		if err != nil {
			return requestResult{}, err
		}
		return requestResult{pending: true, requestID: reqID}, nil

	default:
		return requestResult{}, fmt.Errorf("%w: registration request status %q",
			registry.ErrMalformed, status)
	}
}

// PollOutstanding checks whether an earlier registration attempt for the
// entity has completed server-side. On Ready the final id is bound to the
// entity and the pending request id is cleared; the caller persists. The
// caller runs this before every reconciliation pass, and persists its
// outcome unconditionally, so the configuration always reflects the latest
// known id before any later network error aborts the pass.
func (r *Reconciler) PollOutstanding(ctx context.Context, e Entity) (PollOutcome, error) {
	if r.opts.DumpRegister {
		return NotOutstanding, nil
	}
	reqID := e.RequestID()
	if reqID == 0 {
		return NotOutstanding, nil
	}

	log.Info(log.CatReconcile, "Fetching registration request", "kind", e.Kind(), "request", reqID)

	payload, err := r.client.Get(ctx, r.client.OpURL("requests", reqID))
	if err != nil {
		return NotOutstanding, err
	}

	res, err := parseRequest(payload)
	if err != nil {
		return NotOutstanding, err
	}
	if res.pending {
		log.Info(log.CatReconcile,
			"Registration still pending, query again once the registry approved the request",
			"kind", e.Kind(), "request", res.requestID)
		e.SetRequestID(res.requestID)
		return StillPending, nil
	}

	e.SetRemoteID(res.id)
	e.SetRequestID(0)
	log.Info(log.CatReconcile, "Registration approved", "kind", e.Kind(), "id", res.id)
	return Ready, nil
}
