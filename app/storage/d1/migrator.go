// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package d1

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Migrator is the sqlite migrator with D1's table and index DDL.
type Migrator struct {
	sqlite.Migrator
}

// CreateTable creates one table per model. A single primary key column is
// declared inline, with AUTOINCREMENT only when the column is an
// auto-incrementing INTEGER; a composite key gets one table-level
// PRIMARY KEY clause.
func (m Migrator) CreateTable(values ...interface{}) error {
	for _, value := range m.ReorderModels(values, false) {
		tx := m.DB.Session(&gorm.Session{})
		if err := m.RunWithValue(value, func(stmt *gorm.Statement) error {
			if stmt.Schema == nil {
				return fmt.Errorf("d1: cannot create table without a model: %w", gorm.ErrModelValueRequired)
			}

			var ddl strings.Builder
			var parts []string
			vars := []interface{}{m.CurrentTable(stmt)}
			pks := primaryKeys(stmt.Schema)
			ddl.WriteString("CREATE TABLE IF NOT EXISTS ? (")

			for _, dbName := range stmt.Schema.DBNames {
				field := stmt.Schema.FieldsByDBName[dbName]
				if field.IgnoreMigration {
					continue
				}
				parts = append(parts, "? "+m.columnDefinition(field, len(pks) == 1 && pks[0] == field))
				vars = append(vars, clause.Column{Name: dbName})
			}

			if len(pks) > 1 {
				cols := make([]interface{}, 0, len(pks))
				for _, pk := range pks {
					cols = append(cols, clause.Column{Name: pk.DBName})
				}
				parts = append(parts, "PRIMARY KEY ?")
				vars = append(vars, cols)
			}

			if !m.DB.DisableForeignKeyConstraintWhenMigrating {
				for _, rel := range stmt.Schema.Relationships.Relations {
					if rel.Field.IgnoreMigration {
						continue
					}
					constraint := rel.ParseConstraint()
					if constraint == nil || constraint.Schema != stmt.Schema {
						continue
					}
					sql, fkVars := foreignKey(constraint)
					parts = append(parts, sql)
					vars = append(vars, fkVars...)
				}
			}

			for _, chk := range stmt.Schema.ParseCheckConstraints() {
				parts = append(parts, "CONSTRAINT ? CHECK (?)")
				vars = append(vars, clause.Column{Name: chk.Name}, clause.Expr{SQL: chk.Constraint})
			}

			ddl.WriteString(strings.Join(parts, ","))
			ddl.WriteString(")")
			if err := tx.Exec(ddl.String(), vars...).Error; err != nil {
				return err
			}

			for _, idx := range stmt.Schema.ParseIndexes() {
				if err := m.CreateIndex(value, idx.Name); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// columnDefinition renders the type and column constraints of one field.
func (m Migrator) columnDefinition(field *schema.Field, inlinePK bool) string {
	typ := m.Dialector.DataTypeOf(field)
	def := typ
	if inlinePK {
		def += " PRIMARY KEY"
		if field.AutoIncrement && strings.EqualFold(typ, "INTEGER") {
			def += " AUTOINCREMENT"
		}
	}
	if field.NotNull {
		def += " NOT NULL"
	}
	if field.Unique {
		def += " UNIQUE"
	}
	if field.HasDefaultValue && (field.DefaultValueInterface != nil || field.DefaultValue != "") {
		if field.DefaultValueInterface != nil {
			stmt := &gorm.Statement{DB: m.DB}
			m.Dialector.BindVarTo(stmt, stmt, field.DefaultValueInterface)
			def += " DEFAULT " + m.Dialector.Explain(stmt.SQL.String(), field.DefaultValueInterface)
		} else if field.DefaultValue != "(-)" {
			def += " DEFAULT " + field.DefaultValue
		}
	}
	return def
}

func primaryKeys(s *schema.Schema) []*schema.Field {
	var pks []*schema.Field
	for _, field := range s.PrimaryFields {
		if !field.IgnoreMigration {
			pks = append(pks, field)
		}
	}
	return pks
}

func foreignKey(constraint *schema.Constraint) (string, []interface{}) {
	sql := "CONSTRAINT ? FOREIGN KEY ? REFERENCES ??"
	if constraint.OnDelete != "" {
		sql += " ON DELETE " + constraint.OnDelete
	}
	if constraint.OnUpdate != "" {
		sql += " ON UPDATE " + constraint.OnUpdate
	}

	fks := make([]interface{}, 0, len(constraint.ForeignKeys))
	for _, f := range constraint.ForeignKeys {
		fks = append(fks, clause.Column{Name: f.DBName})
	}
	refs := make([]interface{}, 0, len(constraint.References))
	for _, f := range constraint.References {
		refs = append(refs, clause.Column{Name: f.DBName})
	}
	return sql, []interface{}{
		clause.Table{Name: constraint.Name},
		fks,
		clause.Table{Name: constraint.ReferenceSchema.Table},
		refs,
	}
}

// DropTable drops tables in reverse dependency order. D1 does not allow
// toggling foreign_keys, so unlike the sqlite migrator it issues no PRAGMA.
func (m Migrator) DropTable(values ...interface{}) error {
	values = m.ReorderModels(values, false)
	tx := m.DB.Session(&gorm.Session{})
	for i := len(values) - 1; i >= 0; i-- {
		if err := m.RunWithValue(values[i], func(stmt *gorm.Statement) error {
			return tx.Exec("DROP TABLE IF EXISTS ?", m.CurrentTable(stmt)).Error
		}); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndex creates a named index declared on the model.
func (m Migrator) CreateIndex(value interface{}, name string) error {
	return m.RunWithValue(value, func(stmt *gorm.Statement) error {
		if stmt.Schema == nil {
			return gorm.ErrModelValueRequired
		}
		idx := stmt.Schema.LookIndex(name)
		if idx == nil {
			return fmt.Errorf("d1: failed to create index with name %s", name)
		}

		sql := "CREATE "
		if idx.Class != "" {
			sql += idx.Class + " "
		}
		sql += "INDEX IF NOT EXISTS ? ON ??"
		if idx.Where != "" {
			sql += " WHERE " + idx.Where
		}
		return m.DB.Exec(sql, clause.Column{Name: idx.Name}, m.CurrentTable(stmt), m.BuildIndexOptions(idx.Fields, stmt)).Error
	})
}
