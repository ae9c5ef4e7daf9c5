package drift

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"schemasync/internal/ddl"
	"schemasync/internal/dsl"
	"schemasync/internal/events"
	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

type Options struct {
	// History lists the tables created by tracked migrations. A nil History
	// disables manual-change detection; an empty one flags every table.
	History []string
	// SystemTables are never reported as manual changes.
	SystemTables []string
	// Ignore drops drifts whose object matches any pattern. It is applied
	// after detection and sorting.
	Ignore []*regexp.Regexp
}

// CompileIgnore compiles ignore patterns, naming the first invalid one.
func CompileIgnore(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

type Detector struct {
	sink  events.Sink
	newID func() string
	now   func() time.Time
}

func NewDetector(sink events.Sink) *Detector {
	if sink == nil {
		sink = events.Nop
	}
	return &Detector{sink: sink, newID: uuid.NewString, now: time.Now}
}

// Detect runs one detection pass of declared against actual. Both snapshots
// are only read.
func (d *Detector) Detect(ctx context.Context, declared, actual schema.Schema, opts Options) (*Report, error) {
	span := events.Start(d.sink, events.CategoryDrift, "drift_detector", "detect")
	drifts, err := d.detect(declared, actual, opts)
	if err != nil {
		span.End(ctx, err, "drift detection failed", nil)
		return nil, err
	}
	SortBySeverity(drifts)
	drifts = filter(drifts, opts.Ignore)

	report := &Report{
		GeneratedAt:     d.now().UTC(),
		Drifts:          drifts,
		Summary:         Summarize(drifts),
		Recommendations: Recommend(drifts),
	}
	details := map[string]any{
		"total":     report.Summary.Total,
		"fixable":   report.Summary.Fixable,
		"unfixable": report.Summary.Unfixable,
	}
	for sev, n := range report.Summary.BySeverity {
		details[string(sev)] = n
	}
	span.End(ctx, nil, fmt.Sprintf("detected %d drift(s)", report.Summary.Total), details)
	return report, nil
}

func filter(drifts []Drift, ignore []*regexp.Regexp) []Drift {
	if len(ignore) == 0 {
		return drifts
	}
	out := make([]Drift, 0, len(drifts))
next:
	for _, d := range drifts {
		for _, re := range ignore {
			if re.MatchString(d.Object) {
				continue next
			}
		}
		out = append(out, d)
	}
	return out
}

type pass struct {
	d      *Detector
	drifts []Drift
	err    error
}

func (p *pass) add(dr Drift) {
	if p.err != nil {
		return
	}
	dr.ID = p.d.newID()
	if len(dr.Fix) > 0 {
		stmts, err := ddl.RenderAll(dr.Fix)
		if err != nil {
			p.err = fmt.Errorf("render fix for %s: %w", dr.Object, err)
			return
		}
		dr.Fixable = true
		dr.FixSQL = strings.Join(stmts, "\n")
		dr.DeclarativeFix = ""
	}
	p.drifts = append(p.drifts, dr)
}

func (d *Detector) detect(declared, actual schema.Schema, opts Options) ([]Drift, error) {
	p := &pass{d: d}
	p.enums(declared, actual)

	tables := map[string]schema.Table{}
	for _, t := range dsl.Materialize(declared) {
		tables[t.Name] = t
	}
	for _, m := range declared.Models {
		if m.Ignored {
			continue
		}
		want := tables[m.TableName()]
		live, ok := actual.Table(want.Name)
		if !ok {
			p.missingTable(m, want)
			continue
		}
		p.columns(m, want, live)
		p.primaryKey(m, want, live)
		p.indexes(want, live)
		p.foreignKeys(want, live)
	}
	if opts.History != nil {
		p.manual(actual, opts)
	}
	return p.drifts, p.err
}

func (p *pass) enums(declared, actual schema.Schema) {
	for _, e := range declared.Enums {
		name := e.StorageName()
		live, ok := actual.Enum(name)
		if !ok {
			p.add(Drift{
				Type:        MissingEnum,
				Severity:    Medium,
				Object:      name,
				Expected:    e.Values,
				Fix:         []schema.Change{schema.CreateEnum{Enum: e}},
				Description: fmt.Sprintf("enum %s is declared but type %s does not exist", e.Name, name),
			})
			continue
		}
		added := missing(e.Values, live.Values)
		if len(added) > 0 {
			fix := make([]schema.Change, len(added))
			for i, v := range added {
				fix[i] = schema.AddEnumValue{Enum: name, Value: v}
			}
			p.add(Drift{
				Type:        EnumMismatch,
				Severity:    Medium,
				Object:      name,
				Expected:    e.Values,
				Actual:      live.Values,
				Fix:         fix,
				Description: fmt.Sprintf("enum %s is missing label(s) %s", name, strings.Join(added, ", ")),
			})
		}
		if extra := missing(live.Values, e.Values); len(extra) > 0 {
			p.add(Drift{
				Type:           EnumMismatch,
				Severity:       Medium,
				Object:         name,
				Expected:       e.Values,
				Actual:         live.Values,
				DeclarativeFix: fmt.Sprintf("add label(s) %s to enum %s", strings.Join(extra, ", "), e.Name),
				Description:    fmt.Sprintf("enum %s has label(s) %s that the schema does not declare", name, strings.Join(extra, ", ")),
			})
		}
	}
}

func (p *pass) missingTable(m schema.Model, want schema.Table) {
	create := want
	create.ForeignKeys = nil
	create.Indexes = nil
	fix := []schema.Change{schema.CreateTable{Table: create}}
	for _, idx := range want.Indexes {
		fix = append(fix, schema.CreateIndex{Table: want.Name, Index: idx})
	}
	p.add(Drift{
		Type:        MissingTable,
		Severity:    Critical,
		Object:      want.Name,
		Expected:    want,
		Fix:         fix,
		Description: fmt.Sprintf("model %s has no table %s", m.Name, want.Name),
	})
	// Foreign keys go last so referenced tables exist when they are applied.
	p.foreignKeys(want, schema.Table{Name: want.Name})
}

func (p *pass) columns(m schema.Model, want, live schema.Table) {
	for _, col := range want.Columns {
		object := want.Name + "." + col.Name
		got, ok := live.Column(col.Name)
		if !ok {
			desc := fmt.Sprintf("column %s is declared by %s but missing", object, m.Name)
			if !col.Nullable && col.Default == nil {
				desc += "; it is required and has no default, so the fix fails while the table has rows"
			}
			p.add(Drift{
				Type:        MissingColumn,
				Severity:    High,
				Object:      object,
				Expected:    col,
				Fix:         []schema.Change{schema.AddColumn{Table: want.Name, Column: col}},
				Description: desc,
			})
			continue
		}
		if !typemap.Match(col.Type, got.Type) {
			after := got
			after.Type = col.Type
			p.add(Drift{
				Type:        TypeMismatch,
				Severity:    High,
				Object:      object,
				Expected:    col.Type,
				Actual:      got.Type,
				Fix:         []schema.Change{schema.AlterColumn{Table: want.Name, Before: got, After: after}},
				Description: fmt.Sprintf("column %s is %s but declared %s", object, got.Type, col.Type),
			})
		}
		if col.Nullable != got.Nullable {
			after := got
			after.Nullable = col.Nullable
			p.add(Drift{
				Type:        NullabilityMismatch,
				Severity:    Medium,
				Object:      object,
				Expected:    nullability(col.Nullable),
				Actual:      nullability(got.Nullable),
				Fix:         []schema.Change{schema.AlterColumn{Table: want.Name, Before: got, After: after}},
				Description: fmt.Sprintf("column %s is %s but declared %s", object, nullability(got.Nullable), nullability(col.Nullable)),
			})
		}
	}

	declaredColumns := map[string]bool{}
	for _, f := range m.Fields {
		if !f.IsRelation() {
			declaredColumns[f.ColumnName()] = true
		}
	}
	for _, got := range live.Columns {
		if declaredColumns[got.Name] {
			continue
		}
		object := live.Name + "." + got.Name
		p.add(Drift{
			Type:           ExtraColumn,
			Severity:       Low,
			Object:         object,
			Actual:         got,
			DeclarativeFix: fmt.Sprintf("add field %s (%s) to model %s, or drop the column with a hand-written migration", got.Name, got.Type, m.Name),
			Description:    fmt.Sprintf("column %s exists but no field of %s declares it", object, m.Name),
		})
	}
}

func (p *pass) primaryKey(m schema.Model, want, live schema.Table) {
	// A side without a key says nothing about which key is right.
	if len(want.PrimaryKey) == 0 || len(live.PrimaryKey) == 0 || schema.EqualStrings(want.PrimaryKey, live.PrimaryKey) {
		return
	}
	p.add(Drift{
		Type:           PrimaryKeyMismatch,
		Severity:       High,
		Object:         want.Name,
		Expected:       want.PrimaryKey,
		Actual:         live.PrimaryKey,
		DeclarativeFix: fmt.Sprintf("align @id/@@id of model %s with primary key (%s), or rebuild the key with a hand-written migration", m.Name, strings.Join(live.PrimaryKey, ", ")),
		Description:    fmt.Sprintf("table %s primary key is (%s) but declared (%s)", want.Name, strings.Join(live.PrimaryKey, ", "), strings.Join(want.PrimaryKey, ", ")),
	})
}

func (p *pass) indexes(want, live schema.Table) {
	for _, idx := range want.Indexes {
		if live.HasIndex(idx.Columns, idx.Unique) {
			continue
		}
		kind := "index"
		if idx.Unique {
			kind = "unique index"
		}
		p.add(Drift{
			Type:        MissingIndex,
			Severity:    Medium,
			Object:      want.Name + "." + idx.Name,
			Expected:    idx,
			Fix:         []schema.Change{schema.CreateIndex{Table: want.Name, Index: idx}},
			Description: fmt.Sprintf("%s on %s (%s) is missing", kind, want.Name, strings.Join(idx.Columns, ", ")),
		})
	}
}

func (p *pass) foreignKeys(want, live schema.Table) {
	for _, fk := range want.ForeignKeys {
		if live.HasForeignKey(fk) {
			continue
		}
		p.add(Drift{
			Type:        MissingForeignKey,
			Severity:    Medium,
			Object:      want.Name + "." + fk.Name,
			Expected:    fk,
			Fix:         []schema.Change{schema.AddForeignKey{Table: want.Name, ForeignKey: fk}},
			Description: fmt.Sprintf("foreign key %s.(%s) -> %s is missing", want.Name, strings.Join(fk.Columns, ", "), fk.RefTable),
		})
	}
}

func (p *pass) manual(actual schema.Schema, opts Options) {
	known := map[string]bool{}
	for _, t := range opts.History {
		known[t] = true
	}
	for _, t := range opts.SystemTables {
		known[t] = true
	}
	for _, t := range actual.Tables {
		if known[t.Name] {
			continue
		}
		p.add(Drift{
			Type:        ManualChange,
			Severity:    High,
			Object:      t.Name,
			Actual:      t,
			Fix:         []schema.Change{schema.CreateTable{Table: t, IfNotExists: true}},
			Description: fmt.Sprintf("table %s was not created by any tracked migration", t.Name),
		})
	}
}

// missing returns the values of want absent from have, in want's order.
func missing(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	var out []string
	for _, v := range want {
		if !set[v] {
			out = append(out, v)
		}
	}
	return out
}

func nullability(nullable bool) string {
	if nullable {
		return "nullable"
	}
	return "not null"
}
