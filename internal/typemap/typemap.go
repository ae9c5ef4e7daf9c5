// Package typemap canonicalizes declared and catalog-reported type names so
// both sides of a comparison live in one type space. The synonym tables below
// are the only place dialect knowledge is kept.
package typemap

import (
	"strings"

	"schemasync/internal/schema"
)

const (
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Canonical type names. They double as postgres DDL type names.
const (
	Text            = "text"
	Char            = "char"
	Citext          = "citext"
	Integer         = "integer"
	BigInt          = "bigint"
	SmallInt        = "smallint"
	Boolean         = "boolean"
	Timestamp       = "timestamp"
	Timestamptz     = "timestamptz"
	Date            = "date"
	Time            = "time"
	Timetz          = "timetz"
	Numeric         = "numeric"
	DoublePrecision = "double precision"
	Real            = "real"
	JSONB           = "jsonb"
	JSON            = "json"
	Bytea           = "bytea"
	UUID            = "uuid"
	Inet            = "inet"
)

var declared = map[string]string{
	"String":   Text,
	"Int":      Integer,
	"BigInt":   BigInt,
	"Boolean":  Boolean,
	"DateTime": Timestamp,
	"Decimal":  Numeric,
	"Float":    DoublePrecision,
	"Json":     JSONB,
	"Bytes":    Bytea,
}

// nativeAttr maps "@db.X" overrides.
var nativeAttr = map[string]string{
	"Text":            Text,
	"VarChar":         Text,
	"Char":            Char,
	"Citext":          Citext,
	"Uuid":            UUID,
	"Inet":            Inet,
	"SmallInt":        SmallInt,
	"Integer":         Integer,
	"BigInt":          BigInt,
	"Boolean":         Boolean,
	"Timestamp":       Timestamp,
	"Timestamptz":     Timestamptz,
	"Date":            Date,
	"Time":            Time,
	"Timetz":          Timetz,
	"Decimal":         Numeric,
	"Money":           Numeric,
	"DoublePrecision": DoublePrecision,
	"Real":            Real,
	"Json":            JSON,
	"JsonB":           JSONB,
	"ByteA":           Bytea,
}

var synonyms = map[string]map[string]string{
	Postgres: {
		"text":                        Text,
		"varchar":                     Text,
		"character varying":           Text,
		"char":                        Char,
		"character":                   Char,
		"bpchar":                      Char,
		"citext":                      Citext,
		"integer":                     Integer,
		"int":                         Integer,
		"int4":                        Integer,
		"serial":                      Integer,
		"serial4":                     Integer,
		"bigint":                      BigInt,
		"int8":                        BigInt,
		"bigserial":                   BigInt,
		"serial8":                     BigInt,
		"smallint":                    SmallInt,
		"int2":                        SmallInt,
		"smallserial":                 SmallInt,
		"boolean":                     Boolean,
		"bool":                        Boolean,
		"timestamp":                   Timestamp,
		"timestamp without time zone": Timestamp,
		"timestamptz":                 Timestamptz,
		"timestamp with time zone":    Timestamptz,
		"date":                        Date,
		"time":                        Time,
		"time without time zone":      Time,
		"timetz":                      Timetz,
		"time with time zone":         Timetz,
		"numeric":                     Numeric,
		"decimal":                     Numeric,
		"money":                       Numeric,
		"double precision":            DoublePrecision,
		"float8":                      DoublePrecision,
		"real":                        Real,
		"float4":                      Real,
		"jsonb":                       JSONB,
		"json":                        JSON,
		"bytea":                       Bytea,
		"uuid":                        UUID,
		"inet":                        Inet,
	},
	MySQL: {
		"varchar":    Text,
		"text":       Text,
		"tinytext":   Text,
		"mediumtext": Text,
		"longtext":   Text,
		"char":       Char,
		"int":        Integer,
		"integer":    Integer,
		"mediumint":  Integer,
		"bigint":     BigInt,
		"smallint":   SmallInt,
		"tinyint":    SmallInt,
		"bool":       Boolean,
		"boolean":    Boolean,
		"tinyint(1)": Boolean,
		"datetime":   Timestamp,
		"timestamp":  Timestamp,
		"date":       Date,
		"time":       Time,
		"decimal":    Numeric,
		"numeric":    Numeric,
		"double":     DoublePrecision,
		"float":      Real,
		"json":       JSONB,
		"blob":       Bytea,
		"tinyblob":   Bytea,
		"mediumblob": Bytea,
		"longblob":   Bytea,
		"binary":     Bytea,
		"varbinary":  Bytea,
	},
}

// Declared maps a declared abstract type (with an optional native override)
// to its canonical name. ok is false for names that are not scalar types,
// i.e. models and enums.
func Declared(name string, native *schema.NativeType) (string, bool) {
	base, ok := declared[name]
	if !ok {
		return "", false
	}
	if native != nil {
		if t, ok := nativeAttr[native.Name]; ok {
			return t, true
		}
	}
	return base, true
}

// IsScalar reports whether name is a declared scalar type.
func IsScalar(name string) bool {
	_, ok := declared[name]
	return ok
}

// Native maps a catalog-reported type name of the given dialect to its
// canonical name. Unknown names canonicalize to themselves, lower-cased, which
// is how enum and other user-defined types pass through.
func Native(dialect, name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if strings.HasSuffix(n, "[]") {
		return Native(dialect, strings.TrimSuffix(n, "[]")) + "[]"
	}
	if dialect == Postgres && strings.HasPrefix(n, "_") {
		return Native(dialect, n[1:]) + "[]"
	}
	table := synonyms[dialect]
	if t, ok := table[n]; ok {
		return t
	}
	// Length and precision modifiers do not affect the canonical type.
	if i := strings.IndexByte(n, '('); i > 0 {
		if t, ok := table[strings.TrimSpace(n[:i])]; ok {
			return t
		}
	}
	return n
}

// Match reports whether two canonical types are equivalent.
func Match(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// List returns the canonical array form of a canonical element type.
func List(elem string) string { return elem + "[]" }
