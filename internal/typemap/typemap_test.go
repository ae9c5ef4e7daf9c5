package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"schemasync/internal/schema"
)

func TestDeclared(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		native *schema.NativeType
		want   string
		ok     bool
	}{
		{name: "string", typ: "String", want: Text, ok: true},
		{name: "int", typ: "Int", want: Integer, ok: true},
		{name: "datetime", typ: "DateTime", want: Timestamp, ok: true},
		{name: "json", typ: "Json", want: JSONB, ok: true},
		{name: "varchar override", typ: "String", native: &schema.NativeType{Name: "VarChar", Args: []string{"255"}}, want: Text, ok: true},
		{name: "uuid override", typ: "String", native: &schema.NativeType{Name: "Uuid"}, want: UUID, ok: true},
		{name: "timestamptz override", typ: "DateTime", native: &schema.NativeType{Name: "Timestamptz"}, want: Timestamptz, ok: true},
		{name: "unknown override keeps base", typ: "Int", native: &schema.NativeType{Name: "Whatever"}, want: Integer, ok: true},
		{name: "model name", typ: "User", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Declared(tt.typ, tt.native)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNativeSynonyms(t *testing.T) {
	for _, n := range []string{"text", "varchar", "character varying", "VARCHAR(255)"} {
		assert.Equal(t, Text, Native(Postgres, n), n)
	}
	for _, n := range []string{"integer", "int", "int4", "serial"} {
		assert.Equal(t, Integer, Native(Postgres, n), n)
	}
	assert.Equal(t, Timestamp, Native(Postgres, "timestamp without time zone"))
	assert.Equal(t, Timestamptz, Native(Postgres, "timestamp with time zone"))
	assert.Equal(t, "text[]", Native(Postgres, "_text"))
	assert.Equal(t, "integer[]", Native(Postgres, "int4[]"))
	assert.Equal(t, "status", Native(Postgres, "Status"))
}

func TestNativeMySQL(t *testing.T) {
	assert.Equal(t, Boolean, Native(MySQL, "tinyint(1)"))
	assert.Equal(t, SmallInt, Native(MySQL, "tinyint(4)"))
	assert.Equal(t, Text, Native(MySQL, "varchar(191)"))
	assert.Equal(t, Timestamp, Native(MySQL, "datetime(3)"))
	assert.Equal(t, JSONB, Native(MySQL, "json"))
	assert.Equal(t, Bytea, Native(MySQL, "longblob"))
}

func TestDeclaredMatchesNative(t *testing.T) {
	decl, _ := Declared("String", nil)
	assert.True(t, Match(decl, Native(Postgres, "character varying")))

	decl, _ = Declared("Int", nil)
	assert.False(t, Match(decl, Native(Postgres, "bigint")))
}
