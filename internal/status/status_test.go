package status

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/esvtools/esvsync/internal/auth"
	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/registry"
)

// sourceWithComponents builds an entropy source whose component list has
// the given vetted flags, in order.
func sourceWithComponents(vetted ...bool) *definition.EntropySource {
	es := &definition.EntropySource{}
	for i, v := range vetted {
		es.Components = append(es.Components, &definition.ConditioningComponent{
			Description: fmt.Sprintf("component %d", i+1),
			Vetted:      v,
		})
	}
	return es
}

func TestEncodeDenseNumberingSkipsVetted(t *testing.T) {
	es := sourceWithComponents(false, true, false)
	es.Components[0].RemoteID = 101
	es.Components[0].Submitted = true
	es.Components[2].RemoteID = 102
	es.Token = auth.Restore("jwt", time.Unix(1700000000, 0))

	data, err := Encode(es, true)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))

	// Non-vetted components number densely; the vetted one in the middle
	// claims no slot.
	require.Contains(t, record, "conditioningComponent1")
	require.Contains(t, record, "conditioningComponent2")
	require.NotContains(t, record, "conditioningComponent3")

	cc2 := record["conditioningComponent2"].(map[string]any)
	require.Equal(t, float64(102), cc2["conditionedBitsId"])
	require.Equal(t, false, cc2["conditionedBitsSubmitted"])
}

func TestDecodeRestoresState(t *testing.T) {
	src := sourceWithComponents(false, true, false)
	src.Token = auth.Restore("session-jwt", time.Unix(1700000000, 0))
	src.RawNoiseID = 11
	src.RawNoiseSubmitted = true
	src.RestartID = 12
	src.Components[0].RemoteID = 101
	src.Components[0].Submitted = true
	src.Components[2].RemoteID = 102
	src.AppendDocument(&definition.SupportingDocument{
		RemoteID: 31,
		Filename: "design.pdf",
		Token:    auth.Restore("sd-jwt", time.Unix(1700000100, 0)),
	})
	src.AppendDocument(&definition.SupportingDocument{
		RemoteID: 32,
		Filename: "entropy-analysis.pdf",
		Token:    auth.Restore("sd-jwt-2", time.Unix(1700000200, 0)),
	})

	data, err := Encode(src, true)
	require.NoError(t, err)

	dst := sourceWithComponents(false, true, false)
	token, err := Decode(data, dst)
	require.NoError(t, err)

	require.Equal(t, "session-jwt", token.Value())
	require.Equal(t, "session-jwt", dst.Token.Value())
	require.Equal(t, time.Unix(1700000000, 0).Unix(), dst.Token.IssuedAt().Unix())

	require.Equal(t, uint64(11), dst.RawNoiseID)
	require.True(t, dst.RawNoiseSubmitted)
	require.Equal(t, uint64(12), dst.RestartID)
	require.False(t, dst.RestartSubmitted)

	require.Equal(t, uint64(101), dst.Components[0].RemoteID)
	require.True(t, dst.Components[0].Submitted)
	require.Equal(t, uint64(0), dst.Components[1].RemoteID)
	require.Equal(t, uint64(102), dst.Components[2].RemoteID)

	// Document order is submission order and must survive the round trip.
	require.Len(t, dst.Documents, 2)
	require.Equal(t, uint64(31), dst.Documents[0].RemoteID)
	require.Equal(t, "design.pdf", dst.Documents[0].Filename)
	require.Equal(t, "sd-jwt", dst.Documents[0].Token.Value())
	require.Equal(t, uint64(32), dst.Documents[1].RemoteID)
}

func TestDecodeMissingComponentEntry(t *testing.T) {
	src := sourceWithComponents()
	src.Token = auth.Restore("jwt", time.Unix(1700000000, 0))
	src.RawNoiseID = 11

	data, err := Encode(src, true)
	require.NoError(t, err)

	// The local source has one non-vetted component the record knows
	// nothing about: malformed resumable state.
	dst := sourceWithComponents(false)
	_, err = Decode(data, dst)
	require.ErrorIs(t, err, registry.ErrMalformed)

	// Nothing may have been applied.
	require.Equal(t, uint64(0), dst.RawNoiseID)
	require.Nil(t, dst.Token)
	require.Empty(t, dst.Documents)
}

func TestDecodeToleratesAbsentDocuments(t *testing.T) {
	src := sourceWithComponents()
	src.Token = auth.Restore("jwt", time.Unix(1700000000, 0))

	data, err := Encode(src, true)
	require.NoError(t, err)
	require.NotContains(t, string(data), "supportingDocumentation")

	dst := sourceWithComponents()
	_, err = Decode(data, dst)
	require.NoError(t, err)
	require.Empty(t, dst.Documents)
}

func TestDecodeMissingMandatoryField(t *testing.T) {
	for _, field := range []string{
		"rawNoiseBitsId", "rawNoiseBitsSubmitted",
		"restartTestBitsId", "restartTestBitsSubmitted",
		"eaAccessToken", "eaAccessTokenGenerated",
	} {
		t.Run(field, func(t *testing.T) {
			src := sourceWithComponents()
			src.Token = auth.Restore("jwt", time.Unix(1700000000, 0))
			data, err := Encode(src, true)
			require.NoError(t, err)

			var record map[string]any
			require.NoError(t, json.Unmarshal(data, &record))
			delete(record, field)
			data, err = json.Marshal(record)
			require.NoError(t, err)

			_, err = Decode(data, sourceWithComponents())
			require.ErrorIs(t, err, registry.ErrMalformed)
		})
	}
}

func TestEncodeShortFormOmitsExtendedFields(t *testing.T) {
	es := sourceWithComponents()
	es.Token = auth.Restore("jwt", time.Unix(1700000000, 0))
	es.AppendDocument(&definition.SupportingDocument{
		RemoteID: 31,
		Filename: "design.pdf",
		Token:    auth.Restore("sd-jwt", time.Unix(1700000100, 0)),
	})

	data, err := Encode(es, false)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	require.NotContains(t, record, "eaAccessTokenGenerated")

	docs := record["supportingDocumentation"].([]any)
	entry := docs[0].(map[string]any)
	require.Contains(t, entry, "sdId")
	require.Contains(t, entry, "accessToken")
	require.NotContains(t, entry, "accessTokenGenerated")
	require.NotContains(t, entry, "filename")
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vetted := rapid.SliceOfN(rapid.Bool(), 0, 5).Draw(t, "vetted")
		src := sourceWithComponents(vetted...)

		src.Token = auth.Restore(
			rapid.StringMatching(`[a-zA-Z0-9._-]{1,40}`).Draw(t, "token"),
			time.Unix(rapid.Int64Range(0, 1<<32).Draw(t, "issued"), 0))
		src.RawNoiseID = rapid.Uint64Range(0, 1<<40).Draw(t, "rawId")
		src.RawNoiseSubmitted = rapid.Bool().Draw(t, "rawSub")
		src.RestartID = rapid.Uint64Range(0, 1<<40).Draw(t, "restartId")
		src.RestartSubmitted = rapid.Bool().Draw(t, "restartSub")

		for i, cc := range src.Components {
			if cc.Vetted {
				continue
			}
			cc.RemoteID = rapid.Uint64Range(0, 1<<40).Draw(t, fmt.Sprintf("cc%dId", i))
			cc.Submitted = rapid.Bool().Draw(t, fmt.Sprintf("cc%dSub", i))
		}

		docCount := rapid.IntRange(0, 4).Draw(t, "docCount")
		for i := 0; i < docCount; i++ {
			src.AppendDocument(&definition.SupportingDocument{
				RemoteID: rapid.Uint64Range(1, 1<<40).Draw(t, fmt.Sprintf("sd%dId", i)),
				Filename: fmt.Sprintf("doc-%d.pdf", i),
				Token: auth.Restore(
					rapid.StringMatching(`[a-zA-Z0-9._-]{1,40}`).Draw(t, fmt.Sprintf("sd%dTok", i)),
					time.Unix(rapid.Int64Range(0, 1<<32).Draw(t, fmt.Sprintf("sd%dIss", i)), 0)),
			})
		}

		first, err := Encode(src, true)
		require.NoError(t, err)

		dst := sourceWithComponents(vetted...)
		if _, err := Decode(first, dst); err != nil {
			t.Fatalf("decode: %v", err)
		}

		second, err := Encode(dst, true)
		require.NoError(t, err)
		require.JSONEq(t, string(first), string(second))
	})
}
