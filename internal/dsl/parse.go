// Package dsl parses the declarative schema document into the canonical
// schema model and prints models back to document text.
package dsl

import (
	"strings"

	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

// Document is a parsed schema file. Datasource and generator blocks are kept
// as raw settings; only models and enums are modeled.
type Document struct {
	Schema schema.Schema
	Blocks []SettingsBlock
}

type SettingsBlock struct {
	Kind     string
	Name     string
	Doc      string
	Settings []Setting
}

// Setting is one "key = value" line; Value is source text.
type Setting struct {
	Key   string
	Value string
}

// Provider returns the datasource provider as a dialect name, or "" when the
// document declares none.
func (d *Document) Provider() string {
	for _, b := range d.Blocks {
		if b.Kind != "datasource" {
			continue
		}
		for _, s := range b.Settings {
			if s.Key != "provider" {
				continue
			}
			switch strings.Trim(s.Value, `"`) {
			case "postgresql", "postgres":
				return typemap.Postgres
			case "mysql":
				return typemap.MySQL
			default:
				return strings.Trim(s.Value, `"`)
			}
		}
	}
	return ""
}

// Parse parses a schema document and returns its models, enums and the
// physical tables they describe.
func Parse(filename, src string) (schema.Schema, error) {
	doc, err := ParseDocument(filename, src)
	if err != nil {
		return schema.Schema{}, err
	}
	return doc.Schema, nil
}

func ParseDocument(filename, src string) (*Document, error) {
	ast, err := parser.ParseString(filename, src)
	if err != nil {
		return nil, fromSyntaxError(filename, err)
	}
	b := &builder{
		models: map[string]*entryAST{},
		enums:  map[string]*entryAST{},
	}
	doc, perr := b.build(ast)
	if perr != nil {
		return nil, perr
	}
	return doc, nil
}

type builder struct {
	models map[string]*entryAST
	enums  map[string]*entryAST
}

func (b *builder) build(ast *fileAST) (*Document, *ParseError) {
	settingsNames := map[string]bool{}
	for _, e := range ast.Entries {
		blk := e.Block
		switch blk.Kind {
		case "model", "enum":
			if _, ok := b.models[blk.Name]; ok {
				return nil, errAt(blk.Pos, blk.Kind+" "+blk.Name, "duplicate type name %q", blk.Name)
			}
			if _, ok := b.enums[blk.Name]; ok {
				return nil, errAt(blk.Pos, blk.Kind+" "+blk.Name, "duplicate type name %q", blk.Name)
			}
			if typemap.IsScalar(blk.Name) {
				return nil, errAt(blk.Pos, blk.Kind+" "+blk.Name, "%q is a reserved scalar type", blk.Name)
			}
			if blk.Kind == "model" {
				b.models[blk.Name] = e
			} else {
				b.enums[blk.Name] = e
			}
		case "datasource", "generator":
			key := blk.Kind + " " + blk.Name
			if settingsNames[key] {
				return nil, errAt(blk.Pos, key, "duplicate block")
			}
			settingsNames[key] = true
		default:
			return nil, errAt(blk.Pos, blk.Kind+" "+blk.Name, "unknown block kind %q", blk.Kind)
		}
	}

	doc := &Document{}
	for _, e := range ast.Entries {
		switch e.Block.Kind {
		case "enum":
			en, err := b.enum(e)
			if err != nil {
				return nil, err
			}
			doc.Schema.Enums = append(doc.Schema.Enums, en)
		case "model":
			m, err := b.model(e)
			if err != nil {
				return nil, err
			}
			doc.Schema.Models = append(doc.Schema.Models, m)
		default:
			sb, err := settingsBlock(e)
			if err != nil {
				return nil, err
			}
			doc.Blocks = append(doc.Blocks, sb)
		}
	}
	for _, m := range doc.Schema.Models {
		if err := b.validateModel(doc.Schema, m); err != nil {
			return nil, err
		}
	}
	doc.Schema.Tables = Materialize(doc.Schema)
	return doc, nil
}

func settingsBlock(e *entryAST) (SettingsBlock, *ParseError) {
	blk := e.Block
	construct := blk.Kind + " " + blk.Name
	out := SettingsBlock{Kind: blk.Kind, Name: blk.Name, Doc: docText(e.Docs)}
	seen := map[string]bool{}
	for _, m := range blk.Members {
		if m.Setting == nil {
			return out, errAt(m.Pos, construct, "only key = value settings are allowed")
		}
		if seen[m.Setting.Key] {
			return out, errAt(m.Pos, construct, "duplicate setting %q", m.Setting.Key)
		}
		seen[m.Setting.Key] = true
		out.Settings = append(out.Settings, Setting{Key: m.Setting.Key, Value: m.Setting.Value.source()})
	}
	if blk.Kind == "datasource" && !seen["provider"] {
		return out, errAt(blk.Pos, construct, "missing provider setting")
	}
	return out, nil
}

func (b *builder) enum(e *entryAST) (schema.Enum, *ParseError) {
	blk := e.Block
	construct := "enum " + blk.Name
	en := schema.Enum{Name: blk.Name, Doc: docText(e.Docs)}
	seen := map[string]bool{}
	for _, m := range blk.Members {
		switch {
		case m.BlockAttr != nil:
			if m.BlockAttr.Name != "map" {
				return en, errAt(m.BlockAttr.Pos, construct, "unsupported block attribute @@%s", m.BlockAttr.Name)
			}
			s, err := singleString(m.BlockAttr, construct)
			if err != nil {
				return en, err
			}
			en.Map = s
		case m.Setting != nil:
			return en, errAt(m.Pos, construct, "unexpected setting %q", m.Setting.Key)
		default:
			f := m.Field
			if f.Type != nil || len(f.Attrs) > 0 {
				return en, errAt(m.Pos, construct, "enum value %q cannot have a type or attributes", f.Name)
			}
			if seen[f.Name] {
				return en, errAt(m.Pos, construct, "duplicate enum value %q", f.Name)
			}
			seen[f.Name] = true
			en.Values = append(en.Values, f.Name)
		}
	}
	if len(en.Values) == 0 {
		return en, errAt(blk.Pos, construct, "enum has no values")
	}
	return en, nil
}

func (b *builder) model(e *entryAST) (schema.Model, *ParseError) {
	blk := e.Block
	construct := "model " + blk.Name
	m := schema.Model{Name: blk.Name, Doc: docText(e.Docs)}
	seen := map[string]bool{}
	for _, mem := range blk.Members {
		switch {
		case mem.BlockAttr != nil:
			if err := b.modelAttr(&m, mem.BlockAttr, construct); err != nil {
				return m, err
			}
		case mem.Setting != nil:
			return m, errAt(mem.Pos, construct, "unexpected setting %q", mem.Setting.Key)
		default:
			f, err := b.field(blk.Name, mem)
			if err != nil {
				return m, err
			}
			if seen[f.Name] {
				return m, errAt(mem.Pos, "field "+blk.Name+"."+f.Name, "duplicate field name")
			}
			seen[f.Name] = true
			m.Fields = append(m.Fields, f)
		}
	}
	return m, nil
}

func (b *builder) modelAttr(m *schema.Model, a *attrAST, construct string) *ParseError {
	switch a.Name {
	case "id":
		fields, _, err := fieldListArgs(a, construct)
		if err != nil {
			return err
		}
		if len(m.PrimaryKey) > 0 {
			return errAt(a.Pos, construct, "duplicate @@id")
		}
		m.PrimaryKey = fields
	case "unique", "index":
		fields, name, err := fieldListArgs(a, construct)
		if err != nil {
			return err
		}
		m.Indexes = append(m.Indexes, schema.Index{Name: name, Columns: fields, Unique: a.Name == "unique"})
	case "map":
		s, err := singleString(a, construct)
		if err != nil {
			return err
		}
		m.Map = s
	case "ignore":
		if len(a.Args) > 0 {
			return errAt(a.Pos, construct, "@@ignore takes no arguments")
		}
		m.Ignored = true
	default:
		return errAt(a.Pos, construct, "unsupported block attribute @@%s", a.Name)
	}
	return nil
}

func (b *builder) field(model string, mem *memberAST) (schema.Field, *ParseError) {
	f := mem.Field
	construct := "field " + model + "." + f.Name
	if f.Type == nil {
		return schema.Field{}, errAt(mem.Pos, construct, "missing type")
	}
	out := schema.Field{
		Name:     f.Name,
		Type:     f.Type.Name,
		List:     f.Type.List,
		Optional: f.Type.Optional,
	}
	if out.List && out.Optional {
		return out, errAt(mem.Pos, construct, "list fields cannot be optional")
	}
	_, isModel := b.models[out.Type]
	_, isEnum := b.enums[out.Type]
	if !isModel && !isEnum && !typemap.IsScalar(out.Type) {
		return out, errAt(mem.Pos, construct, "unknown type %q", out.Type)
	}
	if isModel {
		out.Relation = &schema.Relation{}
	}
	for _, a := range f.Attrs {
		switch a.Name {
		case "id", "unique", "updatedAt", "ignore":
			if len(a.Args) > 0 {
				return out, errAt(a.Pos, construct, "@%s takes no arguments", a.Name)
			}
			switch a.Name {
			case "id":
				out.ID = true
			case "unique":
				out.Unique = true
			case "updatedAt":
				out.UpdatedAt = true
			case "ignore":
				out.Ignored = true
			}
		case "default":
			if len(a.Args) != 1 || a.Args[0].Name != "" {
				return out, errAt(a.Pos, construct, "@default takes exactly one value")
			}
			d := parseDefault(a.Args[0].Value)
			out.Default = &d
		case "relation":
			if !isModel {
				return out, errAt(a.Pos, construct, "@relation on a field that is not a model")
			}
			rel, err := relation(a, construct)
			if err != nil {
				return out, err
			}
			out.Relation = rel
		case "map":
			s, err := singleString(a, construct)
			if err != nil {
				return out, err
			}
			out.Map = s
		default:
			if !strings.HasPrefix(a.Name, "db.") {
				return out, errAt(a.Pos, construct, "unknown attribute @%s", a.Name)
			}
			if !typemap.IsScalar(out.Type) {
				return out, errAt(a.Pos, construct, "@%s on a non-scalar field", a.Name)
			}
			nt := &schema.NativeType{Name: strings.TrimPrefix(a.Name, "db.")}
			for _, arg := range a.Args {
				if arg.Name != "" {
					return out, errAt(a.Pos, construct, "@%s takes positional arguments", a.Name)
				}
				nt.Args = append(nt.Args, arg.Value.source())
			}
			out.Native = nt
		}
	}
	lines := mem.Docs
	if mem.Trailing != "" {
		lines = append(append([]string(nil), lines...), mem.Trailing)
	}
	out.Doc = docText(lines)
	return out, nil
}

func parseDefault(v *valueAST) schema.Default {
	switch {
	case v.Call != nil && len(v.Call.Args) == 0:
		switch v.Call.Name {
		case "now":
			return schema.Default{Kind: schema.DefaultNow}
		case "uuid":
			return schema.Default{Kind: schema.DefaultUUID}
		case "cuid":
			return schema.Default{Kind: schema.DefaultCUID}
		case "autoincrement":
			return schema.Default{Kind: schema.DefaultAutoincrement}
		}
	case v.String != nil:
		return schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralString, Value: *v.String}
	case v.Number != nil:
		return schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralNumber, Value: *v.Number}
	case v.Ident != nil && (*v.Ident == "true" || *v.Ident == "false"):
		return schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralBoolean, Value: *v.Ident}
	}
	return schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralOpaque, Value: v.source()}
}

func relation(a *attrAST, construct string) (*schema.Relation, *ParseError) {
	rel := &schema.Relation{}
	for i, arg := range a.Args {
		name := arg.Name
		if name == "" && i == 0 {
			name = "name"
		}
		switch name {
		case "name":
			s, ok := arg.Value.str()
			if !ok {
				return nil, errAt(a.Pos, construct, "relation name must be a string")
			}
			rel.Name = s
		case "fields", "references":
			list, ok := arg.Value.identList()
			if !ok {
				return nil, errAt(a.Pos, construct, "%s expects a list of field names", name)
			}
			if name == "fields" {
				rel.Fields = list
			} else {
				rel.References = list
			}
		case "onDelete", "onUpdate":
			if arg.Value.Ident == nil || referentialAction(*arg.Value.Ident) == "" {
				return nil, errAt(a.Pos, construct, "invalid %s action %s", name, arg.Value.source())
			}
			if name == "onDelete" {
				rel.OnDelete = *arg.Value.Ident
			} else {
				rel.OnUpdate = *arg.Value.Ident
			}
		default:
			return nil, errAt(a.Pos, construct, "unknown @relation argument %q", arg.Name)
		}
	}
	if len(rel.Fields) != len(rel.References) {
		return nil, errAt(a.Pos, construct, "fields and references must have the same length")
	}
	return rel, nil
}

// referentialAction maps a declared action to its SQL form.
func referentialAction(action string) string {
	switch action {
	case "Cascade":
		return "CASCADE"
	case "Restrict":
		return "RESTRICT"
	case "NoAction":
		return "NO ACTION"
	case "SetNull":
		return "SET NULL"
	case "SetDefault":
		return "SET DEFAULT"
	}
	return ""
}

// fieldListArgs reads "([a, b], name: "x")" style arguments.
func fieldListArgs(a *attrAST, construct string) ([]string, string, *ParseError) {
	var (
		fields []string
		name   string
	)
	for i, arg := range a.Args {
		switch {
		case (arg.Name == "" && i == 0) || arg.Name == "fields":
			list, ok := arg.Value.identList()
			if !ok || len(list) == 0 {
				return nil, "", errAt(a.Pos, construct, "@@%s expects a non-empty list of field names", a.Name)
			}
			fields = list
		case arg.Name == "name" || arg.Name == "map":
			s, ok := arg.Value.str()
			if !ok {
				return nil, "", errAt(a.Pos, construct, "@@%s %s must be a string", a.Name, arg.Name)
			}
			name = s
		default:
			return nil, "", errAt(a.Pos, construct, "unknown @@%s argument %s", a.Name, arg.Value.source())
		}
	}
	if len(fields) == 0 {
		return nil, "", errAt(a.Pos, construct, "@@%s expects a list of field names", a.Name)
	}
	return fields, name, nil
}

func singleString(a *attrAST, construct string) (string, *ParseError) {
	if len(a.Args) != 1 || a.Args[0].Name != "" {
		return "", errAt(a.Pos, construct, "@%s takes exactly one string", a.Name)
	}
	s, ok := a.Args[0].Value.str()
	if !ok || s == "" {
		return "", errAt(a.Pos, construct, "@%s takes exactly one string", a.Name)
	}
	return s, nil
}

func (b *builder) validateModel(s schema.Schema, m schema.Model) *ParseError {
	pos := b.models[m.Name].Block.Pos
	construct := "model " + m.Name
	scalar := func(name string) bool {
		f, ok := m.Field(name)
		return ok && !f.IsRelation()
	}
	ids := 0
	for _, f := range m.Fields {
		if f.ID {
			ids++
		}
		if f.Relation == nil {
			continue
		}
		for _, name := range f.Relation.Fields {
			if !scalar(name) {
				return errAt(pos, "field "+m.Name+"."+f.Name, "relation field %q is not a scalar field of %s", name, m.Name)
			}
		}
		target, _ := s.Model(f.Type)
		for _, name := range f.Relation.References {
			tf, ok := target.Field(name)
			if !ok || tf.IsRelation() {
				return errAt(pos, "field "+m.Name+"."+f.Name, "referenced field %q is not a scalar field of %s", name, target.Name)
			}
		}
	}
	if ids > 1 {
		return errAt(pos, construct, "more than one @id field; use @@id")
	}
	if ids == 1 && len(m.PrimaryKey) > 0 {
		return errAt(pos, construct, "both @id and @@id declared")
	}
	for _, name := range m.PrimaryKey {
		if !scalar(name) {
			return errAt(pos, construct, "@@id names unknown field %q", name)
		}
	}
	for _, idx := range m.Indexes {
		for _, name := range idx.Columns {
			if !scalar(name) {
				return errAt(pos, construct, "index names unknown field %q", name)
			}
		}
	}
	return nil
}
