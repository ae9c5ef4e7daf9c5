package dsl

import (
	"strconv"
	"strings"

	"schemasync/internal/schema"
)

// Format prints the enums and models of s as schema document text. Parsing
// the output yields the same models and enums.
func Format(s schema.Schema) string {
	return FormatDocument(&Document{Schema: s})
}

// FormatDocument prints settings blocks first, then enums, then models.
func FormatDocument(doc *Document) string {
	var blocks []string
	for _, b := range doc.Blocks {
		blocks = append(blocks, formatSettings(b))
	}
	for _, e := range doc.Schema.Enums {
		blocks = append(blocks, formatEnum(e))
	}
	for _, m := range doc.Schema.Models {
		blocks = append(blocks, formatModel(m))
	}
	return strings.Join(blocks, "\n")
}

func writeDoc(sb *strings.Builder, indent, doc string) {
	if doc == "" {
		return
	}
	for _, line := range strings.Split(doc, "\n") {
		sb.WriteString(indent)
		sb.WriteString(strings.TrimRight("/// "+line, " "))
		sb.WriteByte('\n')
	}
}

func formatSettings(b SettingsBlock) string {
	var sb strings.Builder
	writeDoc(&sb, "", b.Doc)
	sb.WriteString(b.Kind + " " + b.Name + " {\n")
	width := 0
	for _, s := range b.Settings {
		width = max(width, len(s.Key))
	}
	for _, s := range b.Settings {
		sb.WriteString("  " + pad(s.Key, width) + " = " + s.Value + "\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

func formatEnum(e schema.Enum) string {
	var sb strings.Builder
	writeDoc(&sb, "", e.Doc)
	sb.WriteString("enum " + e.Name + " {\n")
	for _, v := range e.Values {
		sb.WriteString("  " + v + "\n")
	}
	if e.Map != "" {
		sb.WriteString("\n  @@map(" + strconv.Quote(e.Map) + ")\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

func formatModel(m schema.Model) string {
	var sb strings.Builder
	writeDoc(&sb, "", m.Doc)
	sb.WriteString("model " + m.Name + " {\n")

	nameWidth, typeWidth := 0, 0
	types := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		types[i] = fieldType(f)
		nameWidth = max(nameWidth, len(f.Name))
		typeWidth = max(typeWidth, len(types[i]))
	}
	for i, f := range m.Fields {
		writeDoc(&sb, "  ", f.Doc)
		line := "  " + pad(f.Name, nameWidth) + " " + pad(types[i], typeWidth)
		if attrs := fieldAttrs(f); len(attrs) > 0 {
			line += " " + strings.Join(attrs, " ")
		}
		sb.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	var blockAttrs []string
	if len(m.PrimaryKey) > 0 {
		blockAttrs = append(blockAttrs, "@@id("+identList(m.PrimaryKey)+")")
	}
	for _, idx := range m.Indexes {
		kind := "index"
		if idx.Unique {
			kind = "unique"
		}
		args := identList(idx.Columns)
		if idx.Name != "" {
			args += ", map: " + strconv.Quote(idx.Name)
		}
		blockAttrs = append(blockAttrs, "@@"+kind+"("+args+")")
	}
	if m.Map != "" {
		blockAttrs = append(blockAttrs, "@@map("+strconv.Quote(m.Map)+")")
	}
	if m.Ignored {
		blockAttrs = append(blockAttrs, "@@ignore")
	}
	if len(blockAttrs) > 0 {
		if len(m.Fields) > 0 {
			sb.WriteByte('\n')
		}
		for _, a := range blockAttrs {
			sb.WriteString("  " + a + "\n")
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func fieldType(f schema.Field) string {
	t := f.Type
	if f.List {
		t += "[]"
	}
	if f.Optional {
		t += "?"
	}
	return t
}

func fieldAttrs(f schema.Field) []string {
	var attrs []string
	if f.ID {
		attrs = append(attrs, "@id")
	}
	if f.Unique {
		attrs = append(attrs, "@unique")
	}
	if f.Default != nil {
		attrs = append(attrs, "@default("+FormatDefault(*f.Default)+")")
	}
	if f.UpdatedAt {
		attrs = append(attrs, "@updatedAt")
	}
	if r := f.Relation; r != nil {
		var args []string
		if r.Name != "" {
			args = append(args, strconv.Quote(r.Name))
		}
		if len(r.Fields) > 0 {
			args = append(args, "fields: "+identList(r.Fields))
		}
		if len(r.References) > 0 {
			args = append(args, "references: "+identList(r.References))
		}
		if r.OnDelete != "" {
			args = append(args, "onDelete: "+r.OnDelete)
		}
		if r.OnUpdate != "" {
			args = append(args, "onUpdate: "+r.OnUpdate)
		}
		if len(args) > 0 {
			attrs = append(attrs, "@relation("+strings.Join(args, ", ")+")")
		}
	}
	if f.Map != "" {
		attrs = append(attrs, "@map("+strconv.Quote(f.Map)+")")
	}
	if f.Native != nil {
		a := "@db." + f.Native.Name
		if len(f.Native.Args) > 0 {
			a += "(" + strings.Join(f.Native.Args, ", ") + ")"
		}
		attrs = append(attrs, a)
	}
	if f.Ignored {
		attrs = append(attrs, "@ignore")
	}
	return attrs
}

// FormatDefault renders a default the way it is written in a schema document.
func FormatDefault(d schema.Default) string {
	switch d.Kind {
	case schema.DefaultNow:
		return "now()"
	case schema.DefaultUUID:
		return "uuid()"
	case schema.DefaultCUID:
		return "cuid()"
	case schema.DefaultAutoincrement:
		return "autoincrement()"
	}
	if d.Literal == schema.LiteralString {
		return strconv.Quote(d.Value)
	}
	return d.Value
}

func identList(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
