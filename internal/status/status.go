// Package status serializes the resumable submission state of one entropy
// source test session to and from the JSON record kept in the datastore.
// The record is rewritten after every state-changing stage so a crash
// between stages never loses already-submitted evidence.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/esvtools/esvsync/internal/auth"
	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/registry"
)

// Filename is the datastore blob name of the status record.
const Filename = "submission_status.json"

// Encode builds the status record for the entropy source and its ordered
// supporting-document list. Conditioning component entries are keyed
// conditioningComponent<N> with N counting only non-vetted components, in
// list order, starting at 1. writeExtended controls whether credential
// issuance timestamps and document filenames are included; the short form
// is a probe only and cannot be decoded again.
func Encode(es *definition.EntropySource, writeExtended bool) ([]byte, error) {
	record := map[string]any{
		"rawNoiseBitsId":           es.RawNoiseID,
		"rawNoiseBitsSubmitted":    es.RawNoiseSubmitted,
		"restartTestBitsId":        es.RestartID,
		"restartTestBitsSubmitted": es.RestartSubmitted,
	}

	if es.Token != nil {
		record["eaAccessToken"] = es.Token.Value()
		if writeExtended {
			record["eaAccessTokenGenerated"] = es.Token.IssuedAt().Unix()
		}
	}

	seq := 0
	for _, cc := range es.Components {
		// Vetted components are excluded from resumable tracking.
		if cc.Vetted {
			continue
		}
		seq++
		record[fmt.Sprintf("conditioningComponent%d", seq)] = map[string]any{
			"conditionedBitsId":        cc.RemoteID,
			"conditionedBitsSubmitted": cc.Submitted,
		}
	}

	if len(es.Documents) > 0 {
		docs := make([]any, 0, len(es.Documents))
		for _, sd := range es.Documents {
			entry := map[string]any{
				"sdId":        sd.RemoteID,
				"accessToken": sd.Token.Value(),
			}
			if writeExtended {
				entry["accessTokenGenerated"] = sd.Token.IssuedAt().Unix()
				entry["filename"] = sd.Filename
			}
			docs = append(docs, entry)
		}
		record["supportingDocumentation"] = docs
	}

	return json.MarshalIndent(record, "", "  ")
}

// decodedComponent stages one component entry before it is applied.
type decodedComponent struct {
	id        uint64
	submitted bool
}

// Decode parses a status record back onto the entropy source. Status
// entries are matched to non-vetted components by traversal order, not by
// id, because ids may not exist yet; a missing entry for a non-vetted
// component is malformed resumable state. Supporting documents are
// appended in array order, each with a freshly constructed credential
// context. Nothing is mutated unless the whole record decodes; the session
// token is returned so callers can duplicate it into their session-auth
// context.
func Decode(data []byte, es *definition.EntropySource) (*auth.Token, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: status record: %v", registry.ErrMalformed, err)
	}
	record := registry.Object(raw)

	log.Debug(log.CatStatus, "Parsing submission status")

	rawNoiseID, err := record.GetUint("rawNoiseBitsId")
	if err != nil {
		return nil, err
	}
	rawNoiseSubmitted, err := record.GetBool("rawNoiseBitsSubmitted")
	if err != nil {
		return nil, err
	}
	restartID, err := record.GetUint("restartTestBitsId")
	if err != nil {
		return nil, err
	}
	restartSubmitted, err := record.GetBool("restartTestBitsSubmitted")
	if err != nil {
		return nil, err
	}

	credential, err := record.GetString("eaAccessToken")
	if err != nil {
		return nil, err
	}
	issued, err := record.GetUint("eaAccessTokenGenerated")
	if err != nil {
		return nil, err
	}
	sessionToken := auth.Restore(credential, time.Unix(int64(issued), 0))

	// Stage component entries; entry N corresponds to the Nth non-vetted
	// component in list order.
	var components []decodedComponent
	seq := 0
	for _, cc := range es.Components {
		if cc.Vetted {
			continue
		}
		seq++
		entry, err := record.GetObject(fmt.Sprintf("conditioningComponent%d", seq))
		if err != nil {
			return nil, err
		}
		id, err := entry.GetUint("conditionedBitsId")
		if err != nil {
			return nil, err
		}
		submitted, err := entry.GetBool("conditionedBitsSubmitted")
		if err != nil {
			return nil, err
		}
		components = append(components, decodedComponent{id: id, submitted: submitted})
	}

	// An absent document list means no documents were uploaded yet.
	var docs []*definition.SupportingDocument
	entries, err := record.GetObjectArray("supportingDocumentation")
	if err != nil && !errors.Is(err, registry.ErrKeyAbsent) {
		return nil, err
	}
	for _, entry := range entries {
		sdCredential, err := entry.GetString("accessToken")
		if err != nil {
			return nil, err
		}
		sdIssued, err := entry.GetUint("accessTokenGenerated")
		if err != nil {
			return nil, err
		}
		sdID, err := entry.GetUint("sdId")
		if err != nil {
			return nil, err
		}
		filename, err := entry.GetString("filename")
		if err != nil {
			return nil, err
		}
		docs = append(docs, &definition.SupportingDocument{
			RemoteID: sdID,
			Filename: filename,
			Token:    auth.Restore(sdCredential, time.Unix(int64(sdIssued), 0)),
		})
	}

	// Whole record decoded; apply.
	es.RawNoiseID = rawNoiseID
	es.RawNoiseSubmitted = rawNoiseSubmitted
	es.RestartID = restartID
	es.RestartSubmitted = restartSubmitted
	es.Token = sessionToken.Duplicate()

	idx := 0
	for _, cc := range es.Components {
		if cc.Vetted {
			continue
		}
		cc.RemoteID = components[idx].id
		cc.Submitted = components[idx].submitted
		idx++
	}

	// Append in array order; submission order must be preserved.
	for _, sd := range docs {
		es.AppendDocument(sd)
	}

	return sessionToken, nil
}
