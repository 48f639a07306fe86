package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Claims maps a property id (e.g. "P18") to the statements recorded for it.
type Claims map[string][]Claim

// Claim is a single Wikibase statement.
type Claim struct {
	ID         string            `json:"id"`
	MainSnak   Snak              `json:"mainsnak"`
	Qualifiers map[string][]Snak `json:"qualifiers,omitempty"`
}

// Snak is the value part of a statement or qualifier.
type Snak struct {
	SnakType  string     `json:"snaktype"`
	Property  string     `json:"property"`
	DataValue *DataValue `json:"datavalue,omitempty"`
}

type DataValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// String returns the value of a string-typed snak.
func (s Snak) String() (string, bool) {
	if s.DataValue == nil || s.DataValue.Type != "string" {
		return "", false
	}
	var v string
	if err := json.Unmarshal(s.DataValue.Value, &v); err != nil {
		return "", false
	}
	return v, true
}

// EntityID returns the item id ("Q42") of an entity-typed snak.
func (s Snak) EntityID() (string, bool) {
	if s.DataValue == nil || s.DataValue.Type != "wikibase-entityid" {
		return "", false
	}
	var v struct {
		ID        string `json:"id"`
		NumericID int64  `json:"numeric-id"`
	}
	if err := json.Unmarshal(s.DataValue.Value, &v); err != nil {
		return "", false
	}
	if v.ID != "" {
		return v.ID, true
	}
	if v.NumericID > 0 {
		return fmt.Sprintf("Q%d", v.NumericID), true
	}
	return "", false
}

// Date returns the day of a time-typed snak. For values less precise than a
// day this is the first day of the period.
func (s Snak) Date() (Date, bool) {
	first, _, ok := s.DateRange()
	return first, ok
}

// DateRange returns the first and last day covered by a time-typed snak.
// Both are the same day unless the value has month precision or coarser.
func (s Snak) DateRange() (first, last Date, ok bool) {
	if s.DataValue == nil || s.DataValue.Type != "time" {
		return Date{}, Date{}, false
	}
	var v struct {
		Time      string `json:"time"`
		Precision int    `json:"precision"`
	}
	if err := json.Unmarshal(s.DataValue.Value, &v); err != nil {
		return Date{}, Date{}, false
	}
	first, ok = ParseWikibaseTime(v.Time)
	if !ok {
		return Date{}, Date{}, false
	}
	return first, EndOfPeriod(first, v.Precision), true
}

// HasString reports whether prop carries a string value equal to want.
// File names compare equal regardless of space/underscore spelling.
func (c Claims) HasString(prop, want string) bool {
	for _, claim := range c[prop] {
		if v, ok := claim.MainSnak.String(); ok && sameTitle(v, want) {
			return true
		}
	}
	return false
}

// HasEntity reports whether prop points at the item id.
func (c Claims) HasEntity(prop, id string) bool {
	for _, claim := range c[prop] {
		if v, ok := claim.MainSnak.EntityID(); ok && v == id {
			return true
		}
	}
	return false
}

// FirstDate returns the first parseable date recorded for prop.
func (c Claims) FirstDate(prop string) (Date, bool) {
	for _, claim := range c[prop] {
		if d, ok := claim.MainSnak.Date(); ok {
			return d, true
		}
	}
	return Date{}, false
}

// LastPossibleDate is FirstDate's counterpart for upper bounds: it returns the
// last day the first parseable value for prop may stand for.
func (c Claims) LastPossibleDate(prop string) (Date, bool) {
	for _, claim := range c[prop] {
		if _, last, ok := claim.MainSnak.DateRange(); ok {
			return last, true
		}
	}
	return Date{}, false
}

// Find returns the first claim for prop whose string value matches want.
func (c Claims) Find(prop, want string) (Claim, bool) {
	for _, claim := range c[prop] {
		if v, ok := claim.MainSnak.String(); ok && sameTitle(v, want) {
			return claim, true
		}
	}
	return Claim{}, false
}

// Add appends a claim locally so later steps see writes made during a run.
func (c Claims) Add(prop string, claim Claim) {
	c[prop] = append(c[prop], claim)
}

// StringClaim builds a locally tracked string-valued claim.
func StringClaim(id, prop, value string) Claim {
	raw, _ := json.Marshal(value)
	return Claim{
		ID: id,
		MainSnak: Snak{
			SnakType:  "value",
			Property:  prop,
			DataValue: &DataValue{Type: "string", Value: raw},
		},
	}
}

// EntityClaim builds a locally tracked item-valued claim.
func EntityClaim(id, prop, item string) Claim {
	raw, _ := json.Marshal(map[string]string{"entity-type": "item", "id": item})
	return Claim{
		ID: id,
		MainSnak: Snak{
			SnakType:  "value",
			Property:  prop,
			DataValue: &DataValue{Type: "wikibase-entityid", Value: raw},
		},
	}
}

// TimeSnak builds a day-precision time snak.
func TimeSnak(prop string, d Date) Snak {
	raw, _ := json.Marshal(map[string]any{"time": d.WikibaseTime(), "precision": 11})
	return Snak{
		SnakType:  "value",
		Property:  prop,
		DataValue: &DataValue{Type: "time", Value: raw},
	}
}

func sameTitle(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	}
	return norm(a) == norm(b)
}
