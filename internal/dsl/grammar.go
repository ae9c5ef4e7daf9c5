package dsl

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var schemaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "DocComment", Pattern: `///[^\n]*`},
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\\n])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "BlockAttr", Pattern: `@@`},
	{Name: "Attr", Pattern: `@`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[{}()\[\],:=.?]`},
	{Name: "EOL", Pattern: `\n`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
})

var parser = participle.MustBuild[fileAST](
	participle.Lexer(schemaLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
	participle.UseLookahead(4),
)

type fileAST struct {
	Entries []*entryAST `EOL* ( @@ EOL* )*`
}

type entryAST struct {
	Pos   lexer.Position
	Docs  []string  `( @DocComment EOL+ )*`
	Block *blockAST `@@`
}

type blockAST struct {
	Pos     lexer.Position
	Kind    string       `@Ident`
	Name    string       `@Ident "{" EOL*`
	Members []*memberAST `( @@ EOL+ )* "}"`
}

type memberAST struct {
	Pos       lexer.Position
	Docs      []string    `( @DocComment EOL+ )*`
	BlockAttr *attrAST    `( BlockAttr @@`
	Setting   *settingAST `| @@`
	Field     *fieldAST   `| @@ )`
	Trailing  string      `@DocComment?`
}

type settingAST struct {
	Key   string    `@Ident "="`
	Value *valueAST `@@`
}

type fieldAST struct {
	Name  string     `@Ident`
	Type  *typeAST   `@@?`
	Attrs []*attrAST `( Attr @@ )*`
}

type typeAST struct {
	Name     string `@Ident`
	List     bool   `@( "[" "]" )?`
	Optional bool   `@"?"?`
}

type attrAST struct {
	Pos  lexer.Position
	Name string    `@Ident ( @"." @Ident )*`
	Args []*argAST `( "(" ( @@ ( "," @@ )* )? ")" )?`
}

type argAST struct {
	Name  string    `( @Ident ":" )?`
	Value *valueAST `@@`
}

type valueAST struct {
	Pos    lexer.Position
	String *string   `  @String`
	Number *string   `| @Number`
	List   *listAST  `| @@`
	Call   *callAST  `| @@`
	Ident  *string   `| @Ident`
}

type listAST struct {
	Open  string      `@"["`
	Items []*valueAST `( @@ ( "," @@ )* )? "]"`
}

type callAST struct {
	Name string    `@Ident "("`
	Args []*argAST `( @@ ( "," @@ )* )? ")"`
}

// source renders the value back to schema text. It is used for opaque
// defaults and native type arguments, so the output must re-parse to the
// same value.
func (v *valueAST) source() string {
	switch {
	case v == nil:
		return ""
	case v.String != nil:
		return strconv.Quote(*v.String)
	case v.Number != nil:
		return *v.Number
	case v.List != nil:
		items := make([]string, len(v.List.Items))
		for i, it := range v.List.Items {
			items[i] = it.source()
		}
		return "[" + strings.Join(items, ", ") + "]"
	case v.Call != nil:
		return v.Call.Name + "(" + argsSource(v.Call.Args) + ")"
	case v.Ident != nil:
		return *v.Ident
	}
	return ""
}

func argsSource(args []*argAST) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a.Name != "" {
			parts[i] = a.Name + ": " + a.Value.source()
		} else {
			parts[i] = a.Value.source()
		}
	}
	return strings.Join(parts, ", ")
}

// identList returns the identifiers of a list value like [a, b].
func (v *valueAST) identList() ([]string, bool) {
	if v == nil || v.List == nil {
		return nil, false
	}
	var out []string
	for _, it := range v.List.Items {
		if it.Ident == nil {
			return nil, false
		}
		out = append(out, *it.Ident)
	}
	return out, true
}

func (v *valueAST) str() (string, bool) {
	if v == nil || v.String == nil {
		return "", false
	}
	return *v.String, true
}

func docText(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimSpace(strings.TrimPrefix(l, "///")))
	}
	return strings.Join(out, "\n")
}
