package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

// definitionRow is the column layout shared by the SQL backends. List and map
// fields are stored as JSON documents.
type definitionRow struct {
	ID            string
	CheckType     string
	Params        []byte
	IntervalMS    int64
	DownThreshold int
	Contacts      []byte
	ContactGroups []byte
	Enabled       bool
	Description   string
}

func encodeDefinition(def types.MonitorDefinition) (definitionRow, error) {
	params, err := marshalJSON(def.Params, "{}")
	if err != nil {
		return definitionRow{}, fmt.Errorf("encode params: %w", err)
	}
	contacts, err := marshalJSON(def.Contacts, "[]")
	if err != nil {
		return definitionRow{}, fmt.Errorf("encode contacts: %w", err)
	}
	groups, err := marshalJSON(def.ContactGroups, "[]")
	if err != nil {
		return definitionRow{}, fmt.Errorf("encode contact groups: %w", err)
	}
	return definitionRow{
		ID:            def.ID,
		CheckType:     def.CheckType,
		Params:        params,
		IntervalMS:    def.Interval.Milliseconds(),
		DownThreshold: def.DownThreshold,
		Contacts:      contacts,
		ContactGroups: groups,
		Enabled:       def.Enabled,
		Description:   def.Description,
	}, nil
}

func (r definitionRow) decode() (types.MonitorDefinition, error) {
	def := types.MonitorDefinition{
		ID:            r.ID,
		CheckType:     r.CheckType,
		Interval:      msDuration(r.IntervalMS),
		DownThreshold: r.DownThreshold,
		Enabled:       r.Enabled,
		Description:   r.Description,
	}
	if err := unmarshalJSON(r.Params, &def.Params); err != nil {
		return types.MonitorDefinition{}, fmt.Errorf("decode params for %s: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.Contacts, &def.Contacts); err != nil {
		return types.MonitorDefinition{}, fmt.Errorf("decode contacts for %s: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.ContactGroups, &def.ContactGroups); err != nil {
		return types.MonitorDefinition{}, fmt.Errorf("decode contact groups for %s: %w", r.ID, err)
	}
	return def, nil
}

func marshalJSON(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
