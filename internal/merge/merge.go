// Package merge reconciles stored documents against the current schema.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"classdesk/api/internal/schema"
)

// Report describes what Reconcile did beyond a plain field copy.
type Report struct {
	// Introduced lists default module ids prepended to a stored module list.
	Introduced []string
	// Quarantined maps fields that failed validation to the reason; those
	// fields keep their default value.
	Quarantined map[string]string
	// Unknown lists stored top-level fields the schema does not declare.
	Unknown []string
	// Migrated maps every accepted stored field to the migration version
	// that brought it forward.
	Migrated map[string]int
}

// Clean reports whether every stored field was accepted as is.
func (r Report) Clean() bool {
	return len(r.Quarantined) == 0 && len(r.Unknown) == 0
}

// Migration brings one stored field forward to the current schema version.
type Migration struct {
	Field   string
	Version int
	Apply   func(doc *schema.Document, raw json.RawMessage, report *Report) error
}

var migrations = []Migration{
	{Field: schema.FieldClasses, Version: 1, Apply: replace(func(d *schema.Document, v []schema.Record) { d.Classes = v })},
	{Field: schema.FieldSchedules, Version: 1, Apply: replace(func(d *schema.Document, v []schema.Record) { d.Schedules = v })},
	{Field: schema.FieldForms, Version: 1, Apply: replace(func(d *schema.Document, v []schema.Record) { d.Forms = v })},
	{Field: schema.FieldSeatingPlans, Version: 1, Apply: replace(func(d *schema.Document, v []schema.Record) { d.SeatingPlans = v })},
	{Field: schema.FieldElections, Version: 1, Apply: replace(func(d *schema.Document, v []schema.Record) { d.Elections = v })},
	{Field: schema.FieldRiskMaps, Version: 1, Apply: replace(func(d *schema.Document, v []schema.Record) { d.RiskMaps = v })},
	{Field: schema.FieldActiveClassID, Version: 1, Apply: replace(func(d *schema.Document, v *string) { d.ActiveClassID = v })},
	{Field: schema.FieldSettings, Version: 1, Apply: replace(func(d *schema.Document, v schema.Record) { d.Settings = v })},
	{Field: schema.FieldDashboardModules, Version: 2, Apply: unionModules},
}

func lookupMigration(field string) (Migration, bool) {
	for _, m := range migrations {
		if m.Field == field {
			return m, true
		}
	}
	return Migration{}, false
}

// Reconcile fills a possibly outdated stored document with the current
// defaults. It never fails: fields that do not conform are quarantined and
// keep their default. Reconcile(Reconcile(x)) equals Reconcile(x).
func Reconcile(stored schema.Partial) (schema.Document, Report) {
	doc := schema.Defaults()
	report := Report{}

	for name := range stored {
		if _, ok := schema.Lookup(name); !ok {
			report.Unknown = append(report.Unknown, name)
		}
	}
	sort.Strings(report.Unknown)

	for _, m := range migrations {
		raw, ok := stored[m.Field]
		if !ok {
			continue
		}
		if err := applyField(&doc, m, raw, &report); err != nil {
			if report.Quarantined == nil {
				report.Quarantined = map[string]string{}
			}
			report.Quarantined[m.Field] = err.Error()
			continue
		}
		if report.Migrated == nil {
			report.Migrated = map[string]int{}
		}
		report.Migrated[m.Field] = m.Version
	}
	schema.Normalize(&doc)
	return doc, report
}

// ReplaceField validates raw against the field's schema and replaces the field
// on doc wholesale. The module list is not unioned with defaults here.
func ReplaceField(doc *schema.Document, field string, raw json.RawMessage) error {
	m, ok := lookupMigration(field)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrUnknownField, field)
	}
	if err := schema.Validate(field, raw); err != nil {
		return err
	}
	apply := m.Apply
	if field == schema.FieldDashboardModules {
		apply = replace(func(d *schema.Document, v []schema.Module) { d.DashboardModules = v })
	}
	if err := apply(doc, raw, &Report{}); err != nil {
		return err
	}
	schema.Normalize(doc)
	return nil
}

func applyField(doc *schema.Document, m Migration, raw json.RawMessage, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migrate %s: %v", m.Field, r)
		}
	}()
	if err := schema.Validate(m.Field, raw); err != nil {
		return err
	}
	// Decode into a scratch copy so a failed field cannot leave doc half written.
	next := *doc
	if err := m.Apply(&next, raw, report); err != nil {
		return err
	}
	*doc = next
	return nil
}

func replace[T any](set func(*schema.Document, T)) func(*schema.Document, json.RawMessage, *Report) error {
	return func(doc *schema.Document, raw json.RawMessage, _ *Report) error {
		var value T
		if err := decode(raw, &value); err != nil {
			return err
		}
		set(doc, value)
		return nil
	}
}

// unionModules keeps the stored list and prepends any default module the
// stored list does not know about yet.
func unionModules(doc *schema.Document, raw json.RawMessage, report *Report) error {
	var stored []schema.Module
	if err := decode(raw, &stored); err != nil {
		return err
	}
	known := make(map[string]struct{}, len(stored))
	for _, m := range stored {
		known[m.ID] = struct{}{}
	}
	var introduced []schema.Module
	for _, m := range schema.DefaultModules() {
		if _, ok := known[m.ID]; ok {
			continue
		}
		introduced = append(introduced, m)
		report.Introduced = append(report.Introduced, m.ID)
	}
	modules := make([]schema.Module, 0, len(introduced)+len(stored))
	modules = append(modules, introduced...)
	modules = append(modules, stored...)
	doc.DashboardModules = modules
	return nil
}

// decode keeps numbers as json.Number so integers beyond 2^53 survive a load.
func decode(raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
