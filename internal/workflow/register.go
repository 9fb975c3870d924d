package workflow

import (
	"fmt"

	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/registry"
)

// buildRegistration assembles the entropy assessment creation payload.
// Conditioning components carry a 1-based sequencePosition over the whole
// list, vetted ones included; vetted components reference their existing
// validation certificate instead of evidence digests.
func buildRegistration(es *definition.EntropySource) registry.Object {
	payload := registry.Object{
		"primaryNoiseSource":     es.Description,
		"iidClaim":               es.IID,
		"bitsPerSample":          es.BitsPerSample,
		"alphabetSize":           es.AlphabetSize,
		"hminEstimate":           es.HMinEstimate,
		"physical":               es.Physical,
		"itar":                   es.ITAR,
		"rawNoiseSHA256":         es.RawNoiseSHA256,
		"numberOfRestarts":       es.NumberOfRestarts,
		"samplesPerRestart":      es.SamplesPerRestart,
		"restartBitsSHA256":      es.RestartBitsSHA256,
		"additionalNoiseSources": es.AdditionalNoiseSources,
	}

	if len(es.Components) == 0 {
		return payload
	}

	components := make([]any, 0, len(es.Components))
	for i, cc := range es.Components {
		entry := registry.Object{
			"sequencePosition": uint64(i + 1),
			"description":      cc.Description,
			"vetted":           cc.Vetted,
			"minNin":           cc.MinNIn,
			"minHin":           cc.MinHIn,
			"nw":               cc.NW,
			"nOut":             cc.NOut,
		}
		if cc.Vetted {
			entry["validationNumber"] = cc.ValidationNumber
		} else {
			entry["bijectiveClaim"] = cc.Bijective
			entry["conditionedBitsSHA256"] = cc.ConditionedBitsSHA256
		}
		components = append(components, entry)
	}
	payload["conditioningComponent"] = components

	return payload
}

// findDataFile locates the dataFileUrls entry carrying key. When seq is
// non-zero the entry must also carry a matching sequencePosition; entries
// without one are skipped.
func findDataFile(urls []registry.Object, key string, seq uint64) (registry.Object, error) {
	for _, entry := range urls {
		if _, ok := entry[key]; !ok {
			continue
		}
		if seq != 0 {
			pos, err := entry.GetUint("sequencePosition")
			if err != nil {
				continue
			}
			if pos != seq {
				continue
			}
		}
		return entry, nil
	}
	return nil, fmt.Errorf("%w: dataFileUrls entry %q (sequence %d) missing",
		registry.ErrMalformed, key, seq)
}

// resolveDataFiles extracts the registry-assigned data-file resource ids
// from the registration response and binds them to the entropy source.
// Conditioned-bits entries are matched by the registration sequence
// position, so the counter here walks every component, vetted included.
func resolveDataFiles(es *definition.EntropySource, entry registry.Object) error {
	urls, err := entry.GetObjectArray("dataFileUrls")
	if err != nil {
		return err
	}

	found, err := findDataFile(urls, "rawNoiseBits", 0)
	if err != nil {
		return err
	}
	ref, err := found.GetString("rawNoiseBits")
	if err != nil {
		return err
	}
	if es.RawNoiseID, err = registry.TrailingNumber(ref); err != nil {
		return err
	}

	found, err = findDataFile(urls, "restartTestBits", 0)
	if err != nil {
		return err
	}
	if ref, err = found.GetString("restartTestBits"); err != nil {
		return err
	}
	if es.RestartID, err = registry.TrailingNumber(ref); err != nil {
		return err
	}

	for i, cc := range es.Components {
		if cc.Vetted {
			continue
		}
		found, err = findDataFile(urls, "conditionedBits", uint64(i+1))
		if err != nil {
			return err
		}
		if ref, err = found.GetString("conditionedBits"); err != nil {
			return err
		}
		if cc.RemoteID, err = registry.TrailingNumber(ref); err != nil {
			return err
		}
	}

	return nil
}
