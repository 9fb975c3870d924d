// Package match implements the per-entity comparison predicates that decide
// whether a remote registry record corresponds to a local definition.
//
// All free-text comparisons are prefix comparisons bounded by the length of
// the local value: the remote value must start with the local one. The
// registry stores truncated or normalized copies of free-text fields, so
// substituting full equality here produces false negatives against real
// registry data.
package match

import (
	"strings"

	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/registry"
)

// Result is the tagged outcome of a match. A value mismatch is NotMatched,
// never an error; a remote record missing a required field is reported as a
// registry.ErrMalformed error instead.
type Result struct {
	Matched bool
	// ID is the remote resource id extracted from the record's url when
	// Matched is true.
	ID uint64
}

// prefixEqual reports whether remote starts with local. Deliberately not
// full equality; see the package comment.
func prefixEqual(local, remote string) bool {
	return strings.HasPrefix(remote, local)
}

// Person checks a remote person record against the local contact: the full
// name must prefix-match, the vendorUrl must point at the locally bound
// vendor id, the email list must hold a prefix-match of the local email,
// and the phone list must hold a prefix-match of the local number with type
// "voice".
func Person(p *definition.Person, record registry.Object) (Result, error) {
	personURL, err := record.GetString("url")
	if err != nil {
		return Result{}, err
	}
	personID, err := registry.TrailingNumber(personURL)
	if err != nil {
		return Result{}, err
	}

	name, err := record.GetString("fullName")
	if err != nil {
		return Result{}, err
	}

	vendorURL, err := record.GetString("vendorUrl")
	if err != nil {
		return Result{}, err
	}
	vendorID, err := registry.TrailingNumber(vendorURL)
	if err != nil {
		return Result{}, err
	}

	if !prefixEqual(p.FullName, name) || vendorID != p.Vendor.RemoteID {
		log.Debug(log.CatMatch, "Contact name mismatch", "id", personID,
			"expected", p.FullName, "found", name, "vendorID", p.Vendor.RemoteID)
		return Result{}, nil
	}

	emails, err := record.GetArray("emails")
	if err != nil {
		return Result{}, err
	}
	found := false
	for _, raw := range emails {
		if email, ok := raw.(string); ok && prefixEqual(p.Email, email) {
			found = true
			break
		}
	}
	if !found {
		log.Debug(log.CatMatch, "Person email address not found", "id", personID)
		return Result{}, nil
	}

	phones, err := record.GetObjectArray("phoneNumbers")
	if err != nil {
		return Result{}, err
	}
	found = false
	for _, phone := range phones {
		number, err := phone.GetString("number")
		if err != nil {
			return Result{}, err
		}
		kind, err := phone.GetString("type")
		if err != nil {
			return Result{}, err
		}
		if prefixEqual(p.Phone, number) && prefixEqual("voice", kind) {
			found = true
			break
		}
	}
	if !found {
		log.Debug(log.CatMatch, "Person phone number not found", "id", personID)
		return Result{}, nil
	}

	return Result{Matched: true, ID: personID}, nil
}

// Vendor checks a remote vendor record against the local vendor: the
// organization name must prefix-match and the contact list must hold an
// entry whose name, street and locality all prefix-match the local ones.
func Vendor(v *definition.Vendor, contactName string, record registry.Object) (Result, error) {
	vendorURL, err := record.GetString("url")
	if err != nil {
		return Result{}, err
	}
	vendorID, err := registry.TrailingNumber(vendorURL)
	if err != nil {
		return Result{}, err
	}

	name, err := record.GetString("name")
	if err != nil {
		return Result{}, err
	}
	if !prefixEqual(v.Name, name) {
		log.Debug(log.CatMatch, "Vendor name mismatch", "id", vendorID,
			"expected", v.Name, "found", name)
		return Result{}, nil
	}

	contacts, err := record.GetObjectArray("contact")
	if err != nil {
		return Result{}, err
	}
	for _, contact := range contacts {
		cname, err := contact.GetString("name")
		if err != nil {
			return Result{}, err
		}
		addr, err := contact.GetObject("address")
		if err != nil {
			return Result{}, err
		}
		street, err := addr.GetString("street")
		if err != nil {
			return Result{}, err
		}
		locality, err := addr.GetString("locality")
		if err != nil {
			return Result{}, err
		}

		if prefixEqual(v.Address.Street, street) &&
			prefixEqual(v.Address.Locality, locality) &&
			prefixEqual(contactName, cname) {
			return Result{Matched: true, ID: vendorID}, nil
		}
	}

	log.Debug(log.CatMatch, "Vendor contact not found", "id", vendorID)
	return Result{}, nil
}
