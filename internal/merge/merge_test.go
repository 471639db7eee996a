package merge

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"classdesk/api/internal/schema"
)

func partial(t *testing.T, raw string) schema.Partial {
	t.Helper()
	p, err := schema.ParsePartial([]byte(raw))
	if err != nil {
		t.Fatalf("ParsePartial(%s) error = %v", raw, err)
	}
	return p
}

func roundTrip(t *testing.T, doc schema.Document) schema.Partial {
	t.Helper()
	p, err := doc.Partial()
	if err != nil {
		t.Fatalf("Partial() error = %v", err)
	}
	return p
}

func moduleIDs(modules []schema.Module) []string {
	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestReconcileEmptyYieldsDefaults(t *testing.T) {
	doc, report := Reconcile(schema.Partial{})
	if !schema.Equal(doc, schema.Defaults()) {
		t.Fatalf("Reconcile({}) = %+v, want defaults", doc)
	}
	if !report.Clean() || len(report.Introduced) != 0 {
		t.Fatalf("Reconcile({}) report = %+v", report)
	}
}

func TestReconcileFillsMissingFields(t *testing.T) {
	subsets := []string{
		`{"classes":[{"id":"c1"}]}`,
		`{"settings":{"theme":"dark"},"activeClassId":"c1"}`,
		`{"forms":[],"riskMaps":[{"id":"r"}],"elections":[{"id":"e"}]}`,
		`{"dashboardModules":[]}`,
	}
	for _, raw := range subsets {
		doc, _ := Reconcile(partial(t, raw))
		got := roundTrip(t, doc)
		for _, f := range schema.Fields() {
			if _, ok := got[f.Name]; !ok {
				t.Fatalf("Reconcile(%s) missing field %q", raw, f.Name)
			}
		}
	}
}

func TestReconcileReplacesShallow(t *testing.T) {
	doc, _ := Reconcile(partial(t, `{"classes":[{"id":"c1","students":[{"name":"Ada"}]}],"activeClassId":"c1"}`))
	if len(doc.Classes) != 1 || doc.Classes[0]["id"] != "c1" {
		t.Fatalf("classes = %+v", doc.Classes)
	}
	if doc.ActiveClassID == nil || *doc.ActiveClassID != "c1" {
		t.Fatalf("activeClassId = %v", doc.ActiveClassID)
	}
	if !reflect.DeepEqual(moduleIDs(doc.DashboardModules), moduleIDs(schema.DefaultModules())) {
		t.Fatalf("absent module list should equal defaults, got %v", moduleIDs(doc.DashboardModules))
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"classes":[{"id":"c1","n":1.5}],"settings":{"a":{"b":[1,2]}}}`,
		`{"dashboardModules":[{"id":"custom","title":"Mine","visible":false},{"id":"roster","visible":false}]}`,
		`{"dashboardModules":[{"id":"x"}],"bogus":1,"forms":"not a list"}`,
	}
	for _, raw := range inputs {
		once, _ := Reconcile(partial(t, raw))
		twice, report := Reconcile(roundTrip(t, once))
		if !schema.Equal(once, twice) {
			t.Fatalf("Reconcile not idempotent for %s:\n once  = %+v\n twice = %+v", raw, once, twice)
		}
		if len(report.Introduced) != 0 || !report.Clean() {
			t.Fatalf("second pass report = %+v", report)
		}
	}
}

func TestReconcileModuleUnion(t *testing.T) {
	stored := []schema.Module{
		{ID: "seating", Title: "Seats", Visible: false},
		{ID: "roster", Title: "Roster", Visible: true},
		{ID: "custom", Title: "Custom", Visible: true},
	}
	data, err := json.Marshal(map[string]any{"dashboardModules": stored})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	doc, report := Reconcile(partial(t, string(data)))

	var introduced []string
	for _, m := range schema.DefaultModules() {
		if m.ID != "seating" && m.ID != "roster" {
			introduced = append(introduced, m.ID)
		}
	}
	if !reflect.DeepEqual(report.Introduced, introduced) {
		t.Fatalf("Introduced = %v, want %v", report.Introduced, introduced)
	}
	want := append(append([]string{}, introduced...), "seating", "roster", "custom")
	if got := moduleIDs(doc.DashboardModules); !reflect.DeepEqual(got, want) {
		t.Fatalf("module ids = %v, want %v", got, want)
	}
	tail := doc.DashboardModules[len(introduced):]
	if !reflect.DeepEqual(tail, stored) {
		t.Fatalf("stored modules changed: %+v", tail)
	}
	counts := map[string]int{}
	for _, id := range moduleIDs(doc.DashboardModules) {
		counts[id]++
	}
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("module %q appears %d times", id, n)
		}
	}
}

func TestReconcileQuarantinesInvalidFields(t *testing.T) {
	doc, report := Reconcile(partial(t, `{"classes":{"id":"c1"},"activeClassId":7,"forms":[{"id":"f1"}],"dashboardModules":[{"title":"no id"}],"legacyNotes":"x"}`))
	for _, field := range []string{schema.FieldClasses, schema.FieldActiveClassID, schema.FieldDashboardModules} {
		if _, ok := report.Quarantined[field]; !ok {
			t.Fatalf("expected %s to be quarantined, report = %+v", field, report)
		}
	}
	if !reflect.DeepEqual(report.Unknown, []string{"legacyNotes"}) {
		t.Fatalf("Unknown = %v", report.Unknown)
	}
	if len(doc.Classes) != 0 || doc.ActiveClassID != nil {
		t.Fatalf("quarantined fields should keep defaults: %+v", doc)
	}
	if len(doc.Forms) != 1 {
		t.Fatalf("valid field lost next to invalid ones: %+v", doc.Forms)
	}
	if !reflect.DeepEqual(moduleIDs(doc.DashboardModules), moduleIDs(schema.DefaultModules())) {
		t.Fatalf("quarantined module list should fall back to defaults")
	}
}

func TestReplaceField(t *testing.T) {
	doc := schema.Defaults()
	if err := ReplaceField(&doc, schema.FieldSettings, json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatalf("ReplaceField() error = %v", err)
	}
	if doc.Settings["theme"] != "dark" {
		t.Fatalf("settings = %+v", doc.Settings)
	}
	if err := ReplaceField(&doc, schema.FieldDashboardModules, json.RawMessage(`[{"id":"roster","visible":false}]`)); err != nil {
		t.Fatalf("ReplaceField() error = %v", err)
	}
	if len(doc.DashboardModules) != 1 || doc.DashboardModules[0].Visible {
		t.Fatalf("modules = %+v", doc.DashboardModules)
	}
	if err := ReplaceField(&doc, "nope", json.RawMessage(`[]`)); !errors.Is(err, schema.ErrUnknownField) {
		t.Fatalf("ReplaceField(unknown) error = %v", err)
	}
	if err := ReplaceField(&doc, schema.FieldClasses, json.RawMessage(`"x"`)); err == nil {
		t.Fatalf("ReplaceField(invalid) expected error")
	}
}

func TestMigrationsCoverRegistry(t *testing.T) {
	for _, f := range schema.Fields() {
		m, ok := lookupMigration(f.Name)
		if !ok {
			t.Fatalf("no migration for field %q", f.Name)
		}
		if m.Version != f.Version {
			t.Fatalf("migration %s version = %d, registry = %d", f.Name, m.Version, f.Version)
		}
	}
	if len(migrations) != len(schema.Fields()) {
		t.Fatalf("migrations = %d entries, registry has %d", len(migrations), len(schema.Fields()))
	}
}

func TestReconcileRecordsMigrationVersions(t *testing.T) {
	stored := schema.Partial{
		schema.FieldClasses:          json.RawMessage(`[]`),
		schema.FieldDashboardModules: json.RawMessage(`[{"id":"roster","visible":true}]`),
		schema.FieldSettings:         json.RawMessage(`"not an object"`),
	}
	_, report := Reconcile(stored)
	want := map[string]int{schema.FieldClasses: 1, schema.FieldDashboardModules: 2}
	if !reflect.DeepEqual(report.Migrated, want) {
		t.Fatalf("Migrated = %v, want %v", report.Migrated, want)
	}
	if _, ok := report.Quarantined[schema.FieldSettings]; !ok {
		t.Fatalf("expected settings quarantined, got %+v", report.Quarantined)
	}
}
