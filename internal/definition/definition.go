// Package definition holds the locally configured registry definitions:
// the vendor identity, its contact person, and the entropy source with its
// conditioning components and supporting documentation. Definitions are
// loaded from YAML files and carry the remote ids the registry has assigned
// so far; a remote id of 0 means "not yet bound to a remote resource".
package definition

import (
	"errors"
	"fmt"

	"github.com/esvtools/esvsync/internal/auth"
)

// ErrInvalidInput indicates a required field is missing from a local
// definition. Fatal for the affected entity.
var ErrInvalidInput = errors.New("invalid definition")

// Address is the vendor postal address submitted with a registration.
type Address struct {
	Street     string `yaml:"street"`
	Locality   string `yaml:"locality"`
	Region     string `yaml:"region"`
	Country    string `yaml:"country"`
	PostalCode string `yaml:"postal_code"`
}

// Vendor is the organization owning the entropy source.
type Vendor struct {
	Name    string  `yaml:"name"`
	Website string  `yaml:"website"`
	Email   string  `yaml:"email"`
	Address Address `yaml:"address"`

	// RemoteID is the registry-assigned vendor id, 0 when unbound.
	RemoteID uint64 `yaml:"remote_id"`
	// RequestID tracks a registration still pending server-side approval.
	RequestID uint64 `yaml:"request_id"`
}

// Person is the vendor contact. It references its owning Vendor; the
// reference is wired during load, not stored in YAML.
type Person struct {
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`

	RemoteID  uint64 `yaml:"remote_id"`
	RequestID uint64 `yaml:"request_id"`

	Vendor *Vendor `yaml:"-"`
}

// ConditioningComponent describes one post-processing step of the entropy
// source. Vetted components reference an existing validation certificate
// and need no evidence upload.
type ConditioningComponent struct {
	Description      string  `yaml:"description"`
	Vetted           bool    `yaml:"vetted"`
	Bijective        bool    `yaml:"bijective"`
	ValidationNumber string  `yaml:"validation_number"`
	MinNIn           uint64  `yaml:"min_n_in"`
	MinHIn           float64 `yaml:"min_h_in"`
	NW               uint64  `yaml:"nw"`
	NOut             uint64  `yaml:"n_out"`

	// ConditionedBitsSHA256 is the hex digest of the conditioned output
	// evidence file. Required for non-vetted components.
	ConditionedBitsSHA256 string `yaml:"conditioned_bits_sha256"`
	// DataFile is the local path of the conditioned output evidence.
	DataFile string `yaml:"data_file"`

	// RemoteID is the registry data-file resource id for the conditioned
	// output upload. Runtime workflow state, not persisted in YAML; the
	// resumable copy lives in the workflow status record.
	RemoteID  uint64 `yaml:"-"`
	Submitted bool   `yaml:"-"`
}

// SupportingDocument is one uploaded documentation file. The list order on
// the owning EntropySource is submission order and must be preserved.
type SupportingDocument struct {
	RemoteID uint64
	Filename string
	Token    *auth.Token
}

// EntropySource is the definition of one noise source submission, owning
// the ordered conditioning-component and supporting-document lists.
type EntropySource struct {
	Description            string  `yaml:"description"`
	IID                    bool    `yaml:"iid"`
	BitsPerSample          uint64  `yaml:"bits_per_sample"`
	AlphabetSize           uint64  `yaml:"alphabet_size"`
	HMinEstimate           float64 `yaml:"hmin_estimate"`
	Physical               bool    `yaml:"physical"`
	ITAR                   bool    `yaml:"itar"`
	AdditionalNoiseSources bool    `yaml:"additional_noise_sources"`
	NumberOfRestarts       uint64  `yaml:"number_of_restarts"`
	SamplesPerRestart      uint64  `yaml:"samples_per_restart"`

	RawNoiseSHA256    string `yaml:"raw_noise_sha256"`
	RestartBitsSHA256 string `yaml:"restart_bits_sha256"`

	RawNoiseFile string `yaml:"raw_noise_file"`
	RestartFile  string `yaml:"restart_file"`
	// DocumentsDir holds the supporting documentation files to upload.
	DocumentsDir string `yaml:"documents_dir"`

	// SessionID is the registry-assigned entropy assessment (test session)
	// id, 0 before registration.
	SessionID uint64 `yaml:"session_id"`

	Components []*ConditioningComponent `yaml:"conditioning_components"`

	// Workflow state, restored from the status record on resume.
	Token             *auth.Token           `yaml:"-"`
	RawNoiseID        uint64                `yaml:"-"`
	RawNoiseSubmitted bool                  `yaml:"-"`
	RestartID         uint64                `yaml:"-"`
	RestartSubmitted  bool                  `yaml:"-"`
	Documents         []*SupportingDocument `yaml:"-"`
}

// Definition bundles the entities configured in one definition file.
type Definition struct {
	Vendor        *Vendor        `yaml:"vendor"`
	Person        *Person        `yaml:"person"`
	EntropySource *EntropySource `yaml:"entropy_source"`

	path string
}

// Path returns the YAML file this definition was loaded from.
func (d *Definition) Path() string { return d.path }

// Validate checks the required fields of every configured entity.
func (d *Definition) Validate() error {
	if d.Vendor == nil {
		return fmt.Errorf("%w: vendor section missing", ErrInvalidInput)
	}
	if d.Vendor.Name == "" {
		return fmt.Errorf("%w: vendor name missing", ErrInvalidInput)
	}
	if d.Person != nil {
		if d.Person.FullName == "" {
			return fmt.Errorf("%w: person full_name missing", ErrInvalidInput)
		}
		if d.Person.Email == "" {
			return fmt.Errorf("%w: person email missing", ErrInvalidInput)
		}
		if d.Person.Phone == "" {
			return fmt.Errorf("%w: person phone missing", ErrInvalidInput)
		}
	}
	if es := d.EntropySource; es != nil {
		if es.Description == "" {
			return fmt.Errorf("%w: entropy source description missing", ErrInvalidInput)
		}
		if es.BitsPerSample == 0 {
			return fmt.Errorf("%w: entropy source bits_per_sample missing", ErrInvalidInput)
		}
		if es.AlphabetSize == 0 {
			return fmt.Errorf("%w: entropy source alphabet_size missing", ErrInvalidInput)
		}
		if es.HMinEstimate <= 0 {
			return fmt.Errorf("%w: entropy source hmin_estimate missing", ErrInvalidInput)
		}
		for i, cc := range es.Components {
			if cc.Description == "" {
				return fmt.Errorf("%w: conditioning component %d description missing",
					ErrInvalidInput, i+1)
			}
			if cc.Vetted && cc.ValidationNumber == "" {
				return fmt.Errorf("%w: vetted conditioning component %d needs a validation_number",
					ErrInvalidInput, i+1)
			}
			if !cc.Vetted && cc.ConditionedBitsSHA256 == "" {
				return fmt.Errorf("%w: conditioning component %d conditioned_bits_sha256 missing",
					ErrInvalidInput, i+1)
			}
		}
	}
	return nil
}

// NonVetted returns the non-vetted components in list order. Positional
// alignment with the workflow status record depends on this order.
func (es *EntropySource) NonVetted() []*ConditioningComponent {
	out := make([]*ConditioningComponent, 0, len(es.Components))
	for _, cc := range es.Components {
		if !cc.Vetted {
			out = append(out, cc)
		}
	}
	return out
}

// AppendDocument appends at the tail, preserving submission order.
func (es *EntropySource) AppendDocument(sd *SupportingDocument) {
	es.Documents = append(es.Documents, sd)
}
