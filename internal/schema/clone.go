package schema

import "encoding/json"

// Clone returns a deep copy. Consumers receive clones so a received document
// can never be mutated in place.
func (d Document) Clone() Document {
	out := Document{
		Classes:      cloneRecords(d.Classes),
		Schedules:    cloneRecords(d.Schedules),
		Forms:        cloneRecords(d.Forms),
		SeatingPlans: cloneRecords(d.SeatingPlans),
		Elections:    cloneRecords(d.Elections),
		RiskMaps:     cloneRecords(d.RiskMaps),
		Settings:     cloneRecord(d.Settings),
	}
	if d.ActiveClassID != nil {
		id := *d.ActiveClassID
		out.ActiveClassID = &id
	}
	if d.DashboardModules != nil {
		out.DashboardModules = make([]Module, len(d.DashboardModules))
		copy(out.DashboardModules, d.DashboardModules)
	}
	return out
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = cloneRecord(r)
	}
	return out
}

func cloneRecord(in Record) Record {
	if in == nil {
		return nil
	}
	out := make(Record, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneAny(item)
		}
		return out
	case Record:
		return cloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneAny(item)
		}
		return out
	case []Record:
		return cloneRecords(t)
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case json.Number:
		return t
	default:
		return v
	}
}
