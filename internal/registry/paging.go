package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/esvtools/esvsync/internal/log"
)

// MatchFunc inspects one listing entry. Returning true short-circuits the
// scan; an error aborts it. A NotMatched decision is (false, nil), never an
// error, so the scan can keep paging.
type MatchFunc func(entry Object) (bool, error)

// ScanList pages through a listing endpoint applying fn to every entry.
// It returns (true, nil) the moment fn reports a match and (false, nil)
// when the collection is exhausted without one; callers must treat the two
// outcomes differently. Pagination follows the server-driven links.next
// cursor with a fixed requested page size.
func (c *Client) ScanList(ctx context.Context, path string, fn MatchFunc) (bool, error) {
	url := fmt.Sprintf("%s?limit=%d", path, c.pageSize)

	for page := 0; ; page++ {
		body, err := c.do(ctx, "GET", url, nil)
		if err != nil {
			return false, err
		}
		payload, err := StripVersion(body)
		if err != nil {
			return false, err
		}

		entries, err := payload.GetObjectArray("data")
		if err != nil {
			return false, err
		}
		log.Debug(log.CatNet, "Scanning listing page", "path", path,
			"page", page, "entries", len(entries))

		for _, entry := range entries {
			found, err := fn(entry)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}

		next, err := nextLink(payload)
		if err != nil {
			return false, err
		}
		if next == "" {
			return false, nil
		}
		url = next
	}
}

// nextLink extracts the pagination cursor. Absent links or a missing next
// entry terminate the scan; a cursor with the wrong type is malformed.
func nextLink(payload Object) (string, error) {
	links, err := payload.GetObject("links")
	if err != nil {
		if errors.Is(err, ErrKeyAbsent) {
			return "", nil
		}
		return "", err
	}
	if raw, ok := links["next"]; !ok || raw == nil {
		return "", nil
	}
	next, err := links.GetString("next")
	if err != nil {
		return "", err
	}
	return next, nil
}
