package ddl

import "schemasync/internal/schema"

// Inverse returns the change undoing c. ok is false when no safe inverse
// exists: postgres cannot remove an enum label, and a baseline table
// recorded with IF NOT EXISTS was never created by the migration.
func Inverse(c schema.Change) (schema.Change, bool) {
	switch c := c.(type) {
	case schema.CreateTable:
		if c.IfNotExists {
			return nil, false
		}
		return schema.DropTable{Table: c.Table}, true
	case schema.DropTable:
		return schema.CreateTable{Table: c.Table}, true
	case schema.AddColumn:
		return schema.DropColumn{Table: c.Table, Column: c.Column}, true
	case schema.DropColumn:
		return schema.AddColumn{Table: c.Table, Column: c.Column}, true
	case schema.AlterColumn:
		return schema.AlterColumn{Table: c.Table, Before: c.After, After: c.Before}, true
	case schema.CreateEnum:
		return schema.DropEnum{Enum: c.Enum}, true
	case schema.DropEnum:
		return schema.CreateEnum{Enum: c.Enum}, true
	case schema.CreateIndex:
		return schema.DropIndex{Table: c.Table, Index: c.Index}, true
	case schema.DropIndex:
		return schema.CreateIndex{Table: c.Table, Index: c.Index}, true
	case schema.AddForeignKey:
		return schema.DropForeignKey{Table: c.Table, ForeignKey: c.ForeignKey}, true
	case schema.DropForeignKey:
		return schema.AddForeignKey{Table: c.Table, ForeignKey: c.ForeignKey}, true
	}
	return nil, false
}

// InverseReason explains why Inverse(c) reports no inverse.
func InverseReason(c schema.Change) string {
	switch c := c.(type) {
	case schema.AddEnumValue:
		return "enum label " + c.Enum + "." + c.Value + " cannot be removed"
	case schema.CreateTable:
		if c.IfNotExists {
			return "table " + c.Table.Name + " predates the migration history"
		}
	}
	return ""
}
