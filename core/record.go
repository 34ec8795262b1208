package core

import "context"

// Record is a flat snapshot of a business record's fields at the time a
// trigger fired. Values are whatever the record store produced when decoding
// its storage representation, typically string, float64, bool, or nil.
type Record map[string]any

// RecordRef identifies a record in the external record store.
type RecordRef struct {
	// EntityType is the record's entity type, e.g. "deal" or "ticket".
	EntityType string `json:"entity_type"`

	// ID is the record's ID within its entity type.
	ID string `json:"id"`
}

// FieldType is the declared type of a record field in the field catalog.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeDate    FieldType = "date"
	FieldTypeBool    FieldType = "bool"
	FieldTypeSelect  FieldType = "select"
	FieldTypeUser    FieldType = "user"
	FieldTypeUnknown FieldType = ""
)

// FieldDef describes one field of an entity type.
type FieldDef struct {
	Name string `json:"name"`

	Type FieldType `json:"type"`

	// Options is the enumerated option set for select fields.
	Options []string `json:"options,omitempty"`
}

// FieldCatalog is the per-entity-type field schema supplied by the record
// store. Lookups are by field name.
type FieldCatalog map[string]FieldDef

// Get returns the definition for the named field. Unknown fields report
// FieldTypeUnknown.
func (fc FieldCatalog) Get(name string) FieldDef {
	if fc == nil {
		return FieldDef{Name: name, Type: FieldTypeUnknown}
	}

	fd, ok := fc[name]
	if !ok {
		return FieldDef{Name: name, Type: FieldTypeUnknown}
	}

	return fd
}

// RecordStore is the external record storage collaborator. The engine reads
// snapshots and catalogs from it and requests field writes through it, it
// never touches record storage directly.
type RecordStore interface {
	// GetRecord returns the current snapshot of the given record.
	GetRecord(ctx context.Context, ref RecordRef) (Record, error)

	// GetFieldCatalog returns the field schema for the given entity type.
	GetFieldCatalog(ctx context.Context, entityType string) (FieldCatalog, error)

	// UpdateField requests a single-field write on the given record.
	UpdateField(ctx context.Context, ref RecordRef, field string, value any) error
}
