package schema

import "strings"

// Model is the declarative-side analog of Table.
type Model struct {
	Name       string   `json:"name"`
	Fields     []Field  `json:"fields"`
	PrimaryKey []string `json:"primary_key,omitempty"`
	Indexes    []Index  `json:"indexes,omitempty"`
	Map        string   `json:"map,omitempty"`
	Ignored    bool     `json:"ignored,omitempty"`
	Doc        string   `json:"doc,omitempty"`
}

// Field is a declared model field. Relation fields are virtual and never map
// to a physical column.
type Field struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	List      bool        `json:"list,omitempty"`
	Optional  bool        `json:"optional,omitempty"`
	ID        bool        `json:"id,omitempty"`
	Unique    bool        `json:"unique,omitempty"`
	Default   *Default    `json:"default,omitempty"`
	Relation  *Relation   `json:"relation,omitempty"`
	Native    *NativeType `json:"native,omitempty"`
	Map       string      `json:"map,omitempty"`
	UpdatedAt bool        `json:"updated_at,omitempty"`
	Ignored   bool        `json:"ignored,omitempty"`
	Doc       string      `json:"doc,omitempty"`
}

// Relation carries the relation metadata of a relation field. Fields and
// References are empty on the back-relation side.
type Relation struct {
	Name       string   `json:"name,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	References []string `json:"references,omitempty"`
	OnDelete   string   `json:"on_delete,omitempty"`
	OnUpdate   string   `json:"on_update,omitempty"`
}

// NativeType is a "@db.X(args)" type override.
type NativeType struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// TableName resolves the storage table: explicit @@map, else the lower-cased
// model name.
func (m Model) TableName() string {
	if m.Map != "" {
		return m.Map
	}
	return strings.ToLower(m.Name)
}

func (m Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ColumnName resolves the storage column: explicit @map, else the field name.
func (f Field) ColumnName() string {
	if f.Map != "" {
		return f.Map
	}
	return f.Name
}

// IsRelation reports whether the field is a relation (virtual) field.
func (f Field) IsRelation() bool { return f.Relation != nil }

// Required mirrors NOT NULL on the physical column.
func (f Field) Required() bool { return !f.Optional && !f.List }
