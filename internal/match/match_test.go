package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/registry"
)

func testPerson() *definition.Person {
	return &definition.Person{
		FullName: "Jane Smith",
		Email:    "jane.smith@acme.acme",
		Phone:    "555-555-0001",
		Vendor:   &definition.Vendor{RemoteID: 2},
	}
}

func personRecord() registry.Object {
	return registry.Object{
		"url":       "/esv/v1/persons/15",
		"fullName":  "Jane Smith",
		"vendorUrl": "/esv/v1/vendors/2",
		"emails":    []any{"jane.smith@acme.acme"},
		"phoneNumbers": []any{
			map[string]any{"number": "555-555-0001", "type": "voice"},
		},
	}
}

func TestPersonMatches(t *testing.T) {
	res, err := Person(testPerson(), personRecord())
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, uint64(15), res.ID)
}

func TestPersonPrefixSemantics(t *testing.T) {
	// The remote record may carry longer values than the local definition;
	// a local value that prefixes the remote one still matches.
	record := personRecord()
	record["fullName"] = "Jane Smith (Head of Certification)"
	record["emails"] = []any{"jane.smith@acme.acme.example"}

	res, err := Person(testPerson(), record)
	require.NoError(t, err)
	require.True(t, res.Matched)

	// The reverse does not hold: a remote value shorter than the local one
	// is not a match.
	record = personRecord()
	record["fullName"] = "Jane"
	res, err = Person(testPerson(), record)
	require.NoError(t, err)
	require.False(t, res.Matched)
}

func TestPersonValueMismatchIsNotAnError(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(registry.Object)
	}{
		{"different name", func(r registry.Object) { r["fullName"] = "John Doe" }},
		{"different vendor", func(r registry.Object) { r["vendorUrl"] = "/esv/v1/vendors/3" }},
		{"email not listed", func(r registry.Object) { r["emails"] = []any{"other@acme.acme"} }},
		{"phone not listed", func(r registry.Object) {
			r["phoneNumbers"] = []any{map[string]any{"number": "555-555-9999", "type": "voice"}}
		}},
		{"phone wrong type", func(r registry.Object) {
			r["phoneNumbers"] = []any{map[string]any{"number": "555-555-0001", "type": "fax"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := personRecord()
			tt.mutate(record)
			res, err := Person(testPerson(), record)
			require.NoError(t, err)
			require.False(t, res.Matched)
		})
	}
}

func TestPersonMissingFieldIsMalformed(t *testing.T) {
	for _, field := range []string{"url", "fullName", "vendorUrl", "emails", "phoneNumbers"} {
		t.Run(field, func(t *testing.T) {
			record := personRecord()
			delete(record, field)
			_, err := Person(testPerson(), record)
			require.ErrorIs(t, err, registry.ErrMalformed)
		})
	}
}

func testVendor() *definition.Vendor {
	return &definition.Vendor{
		Name: "ACME Corporation",
		Address: definition.Address{
			Street:   "123 Main Street",
			Locality: "Anytown",
		},
	}
}

func vendorRecord() registry.Object {
	return registry.Object{
		"url":  "/esv/v1/vendors/2",
		"name": "ACME Corporation",
		"contact": []any{
			map[string]any{
				"name": "Jane Smith",
				"address": map[string]any{
					"street":   "123 Main Street",
					"locality": "Anytown",
				},
			},
		},
	}
}

func TestVendorMatches(t *testing.T) {
	res, err := Vendor(testVendor(), "Jane Smith", vendorRecord())
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, uint64(2), res.ID)
}

func TestVendorScansContactList(t *testing.T) {
	record := vendorRecord()
	record["contact"] = []any{
		map[string]any{
			"name": "John Doe",
			"address": map[string]any{
				"street":   "999 Elsewhere",
				"locality": "Othertown",
			},
		},
		map[string]any{
			"name": "Jane Smith",
			"address": map[string]any{
				"street":   "123 Main Street, Suite 4",
				"locality": "Anytown",
			},
		},
	}

	res, err := Vendor(testVendor(), "Jane Smith", record)
	require.NoError(t, err)
	require.True(t, res.Matched)
}

func TestVendorNoMatch(t *testing.T) {
	record := vendorRecord()
	record["name"] = "Globex"
	res, err := Vendor(testVendor(), "Jane Smith", record)
	require.NoError(t, err)
	require.False(t, res.Matched)
}

func TestVendorMissingAddressIsMalformed(t *testing.T) {
	record := vendorRecord()
	record["contact"] = []any{map[string]any{"name": "Jane Smith"}}
	_, err := Vendor(testVendor(), "Jane Smith", record)
	require.ErrorIs(t, err, registry.ErrMalformed)
}
