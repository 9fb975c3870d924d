package reconcile

import (
	"fmt"

	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/match"
	"github.com/esvtools/esvsync/internal/registry"
)

// Entity adapts one reconcilable definition kind to the state machine:
// id accessors backed by the definition file, the registration payload
// builder, and the match predicate.
type Entity interface {
	Kind() string
	Endpoint() string
	RemoteID() uint64
	SetRemoteID(id uint64)
	RequestID() uint64
	SetRequestID(id uint64)
	BuildPayload(c *registry.Client) (registry.Object, error)
	Match(record registry.Object) (match.Result, error)
}

type vendorEntity struct {
	def *definition.Definition
}

// VendorEntity adapts the vendor section of a definition.
func VendorEntity(def *definition.Definition) Entity {
	return &vendorEntity{def: def}
}

func (v *vendorEntity) Kind() string          { return "vendor" }
func (v *vendorEntity) Endpoint() string      { return "vendors" }
func (v *vendorEntity) RemoteID() uint64      { return v.def.Vendor.RemoteID }
func (v *vendorEntity) SetRemoteID(id uint64) { v.def.Vendor.RemoteID = id }
func (v *vendorEntity) RequestID() uint64     { return v.def.Vendor.RequestID }
func (v *vendorEntity) SetRequestID(id uint64) {
	v.def.Vendor.RequestID = id
}

func (v *vendorEntity) contactName() string {
	if v.def.Person != nil {
		return v.def.Person.FullName
	}
	return ""
}

func (v *vendorEntity) BuildPayload(_ *registry.Client) (registry.Object, error) {
	vendor := v.def.Vendor

	contact := registry.Object{
		"name":   v.contactName(),
		"emails": []any{vendor.Email},
		"address": registry.Object{
			"street":     vendor.Address.Street,
			"locality":   vendor.Address.Locality,
			"region":     vendor.Address.Region,
			"country":    vendor.Address.Country,
			"postalCode": vendor.Address.PostalCode,
		},
	}
	if v.def.Person != nil {
		contact["emails"] = []any{v.def.Person.Email}
	}

	return registry.Object{
		"name":    vendor.Name,
		"website": vendor.Website,
		"contact": []any{contact},
	}, nil
}

func (v *vendorEntity) Match(record registry.Object) (match.Result, error) {
	return match.Vendor(v.def.Vendor, v.contactName(), record)
}

type personEntity struct {
	def *definition.Definition
}

// PersonEntity adapts the person section of a definition. The owning
// vendor must already be bound to a remote id.
func PersonEntity(def *definition.Definition) Entity {
	return &personEntity{def: def}
}

func (p *personEntity) Kind() string          { return "person" }
func (p *personEntity) Endpoint() string      { return "persons" }
func (p *personEntity) RemoteID() uint64      { return p.def.Person.RemoteID }
func (p *personEntity) SetRemoteID(id uint64) { p.def.Person.RemoteID = id }
func (p *personEntity) RequestID() uint64     { return p.def.Person.RequestID }
func (p *personEntity) SetRequestID(id uint64) {
	p.def.Person.RequestID = id
}

func (p *personEntity) BuildPayload(c *registry.Client) (registry.Object, error) {
	person := p.def.Person
	if person.Vendor == nil || person.Vendor.RemoteID == 0 {
		return nil, fmt.Errorf("%w: no vendor id to link the contact person to",
			definition.ErrInvalidInput)
	}

	return registry.Object{
		"fullName":  person.FullName,
		"vendorUrl": c.OpURL("vendors", person.Vendor.RemoteID),
		"emails":    []any{person.Email},
		"phoneNumbers": []any{
			registry.Object{
				"number": person.Phone,
				"type":   "voice",
			},
		},
	}, nil
}

func (p *personEntity) Match(record registry.Object) (match.Result, error) {
	return match.Person(p.def.Person, record)
}
