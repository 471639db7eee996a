// Package schema owns the canonical shape of the shared document and its
// default instance.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FieldClasses          = "classes"
	FieldSchedules        = "schedules"
	FieldForms            = "forms"
	FieldSeatingPlans     = "seatingPlans"
	FieldElections        = "elections"
	FieldRiskMaps         = "riskMaps"
	FieldActiveClassID    = "activeClassId"
	FieldSettings         = "settings"
	FieldDashboardModules = "dashboardModules"
)

var ErrNotObject = errors.New("document is not a JSON object")

// Record is an opaque sub-collection entry. The engine never interprets it.
type Record map[string]any

// Module describes one tile on the dashboard. Order is implied by list position.
type Module struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TargetRoute string `json:"targetRoute"`
	IconName    string `json:"iconName"`
	Visible     bool   `json:"visible"`
}

// Document is the single root aggregate shared by every feature module.
type Document struct {
	Classes          []Record `json:"classes"`
	Schedules        []Record `json:"schedules"`
	Forms            []Record `json:"forms"`
	SeatingPlans     []Record `json:"seatingPlans"`
	Elections        []Record `json:"elections"`
	RiskMaps         []Record `json:"riskMaps"`
	ActiveClassID    *string  `json:"activeClassId"`
	Settings         Record   `json:"settings"`
	DashboardModules []Module `json:"dashboardModules"`
}

// Partial is a stored document as loaded from an adapter: any subset of the
// top-level fields, each still in its serialized form.
type Partial map[string]json.RawMessage

// ParsePartial decodes a serialized blob. Anything but a JSON object is rejected.
func ParsePartial(data []byte) (Partial, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var partial Partial
	if err := json.Unmarshal(trimmed, &partial); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if partial == nil {
		partial = Partial{}
	}
	return partial, nil
}

// Defaults returns a fresh, fully populated document.
func Defaults() Document {
	return Document{
		Classes:          []Record{},
		Schedules:        []Record{},
		Forms:            []Record{},
		SeatingPlans:     []Record{},
		Elections:        []Record{},
		RiskMaps:         []Record{},
		ActiveClassID:    nil,
		Settings:         Record{},
		DashboardModules: DefaultModules(),
	}
}

// DefaultModules returns the canonical ordered dashboard module list.
func DefaultModules() []Module {
	return []Module{
		{ID: "roster", Title: "Class Roster", Description: "Manage classes and students", TargetRoute: "/classes", IconName: "users", Visible: true},
		{ID: "schedule", Title: "Timetable", Description: "Weekly lessons and rooms", TargetRoute: "/schedule", IconName: "calendar", Visible: true},
		{ID: "seating", Title: "Seating Planner", Description: "Arrange desks and seats", TargetRoute: "/seating", IconName: "layout-grid", Visible: true},
		{ID: "forms", Title: "Forms", Description: "Consent slips and records", TargetRoute: "/forms", IconName: "clipboard", Visible: true},
		{ID: "elections", Title: "Class Elections", Description: "Run class representative votes", TargetRoute: "/elections", IconName: "vote", Visible: true},
		{ID: "risk-map", Title: "Risk Map", Description: "Field trip risk assessment", TargetRoute: "/risk-map", IconName: "map", Visible: true},
		{ID: "documents", Title: "Documents", Description: "Generate letters and lists", TargetRoute: "/documents", IconName: "file-text", Visible: true},
		{ID: "whiteboard", Title: "Whiteboard", Description: "Freehand drawing board", TargetRoute: "/whiteboard", IconName: "pen-tool", Visible: false},
	}
}

// Normalize replaces nil collections with empty ones so every field serializes
// to its declared shape.
func Normalize(doc *Document) {
	for _, list := range []*[]Record{&doc.Classes, &doc.Schedules, &doc.Forms, &doc.SeatingPlans, &doc.Elections, &doc.RiskMaps} {
		if *list == nil {
			*list = []Record{}
		}
	}
	if doc.Settings == nil {
		doc.Settings = Record{}
	}
	if doc.DashboardModules == nil {
		doc.DashboardModules = []Module{}
	}
}

// Partial converts the document into its stored form.
func (d Document) Partial() (Partial, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return ParsePartial(data)
}

// Digest returns a content hash of the document. encoding/json sorts map keys,
// so equal documents always produce equal digests.
func Digest(doc Document) string {
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two documents serialize identically.
func Equal(a, b Document) bool {
	return Digest(a) == Digest(b)
}

// Module returns the module with the given id.
func (d Document) Module(id string) (Module, bool) {
	for _, m := range d.DashboardModules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}
