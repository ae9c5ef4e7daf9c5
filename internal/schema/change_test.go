package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Schema {
	return Schema{
		Tables: []Table{{
			Name:       "user",
			Columns:    []Column{{Name: "id", Type: "text"}, {Name: "age", Type: "text", Nullable: true}},
			PrimaryKey: []string{"id"},
		}},
		Enums: []Enum{{Name: "status", Map: "status", Values: []string{"ACTIVE"}}},
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	in := sample()
	out, err := Apply(in, AddColumn{Table: "user", Column: Column{Name: "name", Type: "text", Nullable: true}})
	require.NoError(t, err)
	assert.Len(t, in.Tables[0].Columns, 2)
	assert.Len(t, out.Tables[0].Columns, 3)

	out, err = Apply(in, AddEnumValue{Enum: "status", Value: "ARCHIVED"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ACTIVE"}, in.Enums[0].Values)
	assert.Equal(t, []string{"ACTIVE", "ARCHIVED"}, out.Enums[0].Values)
}

func TestApplyAlterColumnChangesOnlyDifferences(t *testing.T) {
	in := sample()
	age := in.Tables[0].Columns[1]

	typed := age
	typed.Type = "integer"
	out, err := Apply(in, AlterColumn{Table: "user", Before: age, After: typed})
	require.NoError(t, err)

	required := age
	required.Nullable = false
	out, err = Apply(out, AlterColumn{Table: "user", Before: age, After: required})
	require.NoError(t, err)

	got, _ := out.Tables[0].Column("age")
	assert.Equal(t, Column{Name: "age", Type: "integer", Nullable: false}, got)
}

func TestApplyErrors(t *testing.T) {
	in := sample()
	_, err := Apply(in, CreateTable{Table: Table{Name: "user"}})
	assert.True(t, errors.Is(err, ErrTableExists))

	out, err := Apply(in, CreateTable{Table: Table{Name: "user"}, IfNotExists: true})
	require.NoError(t, err)
	assert.Len(t, out.Tables, 1)

	_, err = Apply(in, AddColumn{Table: "missing", Column: Column{Name: "x"}})
	assert.True(t, errors.Is(err, ErrTableNotFound))

	_, err = Apply(in, AddColumn{Table: "user", Column: Column{Name: "id"}})
	assert.True(t, errors.Is(err, ErrColumnExists))

	_, err = Apply(in, CreateEnum{Enum: Enum{Name: "Status"}})
	assert.True(t, errors.Is(err, ErrEnumExists))

	_, err = Apply(in, AddEnumValue{Enum: "nope", Value: "X"})
	assert.True(t, errors.Is(err, ErrEnumNotFound))
}

func TestApplyIndexesAndKeys(t *testing.T) {
	out, err := Apply(sample(), CreateIndex{Table: "user", Index: Index{Name: "user_age_key", Columns: []string{"age"}, Unique: true}})
	require.NoError(t, err)
	assert.True(t, out.Tables[0].HasIndex([]string{"age"}, true))
	assert.False(t, out.Tables[0].HasIndex([]string{"age"}, false))

	fk := ForeignKey{Name: "user_org_fkey", Columns: []string{"org"}, RefTable: "org", RefColumns: []string{"id"}}
	out, err = Apply(out, AddForeignKey{Table: "user", ForeignKey: fk})
	require.NoError(t, err)
	assert.True(t, out.Tables[0].HasForeignKey(ForeignKey{Columns: []string{"org"}, RefTable: "org", RefColumns: []string{"id"}}))

	out, err = Apply(out, DropForeignKey{Table: "user", ForeignKey: fk})
	require.NoError(t, err)
	assert.Empty(t, out.Tables[0].ForeignKeys)
}

func TestStorageNames(t *testing.T) {
	assert.Equal(t, "status", Enum{Name: "Status"}.StorageName())
	assert.Equal(t, "account_status", Enum{Name: "Status", Map: "account_status"}.StorageName())
	assert.Equal(t, "users", Model{Name: "User", Map: "users"}.TableName())
	assert.Equal(t, "created_at", Field{Name: "createdAt", Map: "created_at"}.ColumnName())
	assert.False(t, Field{List: true}.Required())
	assert.True(t, Field{}.Required())
}
