// Package sorting holds the user-configurable ordering rules used when
// presenting story folders. Modes and their rules are plain values; the
// Facility persists the selected mode and each mode's rules to a key-value
// store under caller-supplied keys.
package sorting

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Story folder fields understood by the registry's ordered queries.
const (
	FieldName      = "name"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldAutoSync  = "auto_sync"
)

// Rule is one ordering criterion. It is persisted as a JSON object with
// these exact keys.
type Rule struct {
	Field           string `json:"field"`
	Label           string `json:"label"`
	Ascending       bool   `json:"ascending"`
	CaseInsensitive bool   `json:"caseInsensitive"`
}

// Mode is a named, ordered list of rules over a fixed set of allowed fields.
type Mode struct {
	Name   string
	Fields []string
	Rules  []Rule
}

// Order is the query-layer form of a Rule.
type Order struct {
	Field           string
	Descending      bool
	CaseInsensitive bool
}

// KeyValueStore persists facility state. The registry's preferences table
// satisfies it.
type KeyValueStore interface {
	GetPreference(key string) (string, bool, error)
	SetPreference(key, value string) error
}

// Keys names the storage keys used by a Facility. Mode i's rules are stored
// under RulesPrefix + "." + i.
type Keys struct {
	Selected    string
	RulesPrefix string
}

// DefaultStoryKeys are the storage keys for story folder ordering.
var DefaultStoryKeys = Keys{Selected: "sort.stories.selected", RulesPrefix: "sort.stories.mode"}

var storyFields = []string{FieldName, FieldCreatedAt, FieldUpdatedAt, FieldAutoSync}

// DefaultStoryModes returns the built-in story folder ordering modes.
func DefaultStoryModes() []Mode {
	return []Mode{
		{
			Name:   "Name",
			Fields: storyFields,
			Rules:  []Rule{{Field: FieldName, Label: "Name", Ascending: true, CaseInsensitive: true}},
		},
		{
			Name:   "Newest",
			Fields: storyFields,
			Rules:  []Rule{{Field: FieldCreatedAt, Label: "Created", Ascending: false}},
		},
		{
			Name:   "Recently changed",
			Fields: storyFields,
			Rules: []Rule{
				{Field: FieldUpdatedAt, Label: "Updated", Ascending: false},
				{Field: FieldName, Label: "Name", Ascending: true, CaseInsensitive: true},
			},
		},
	}
}

// Facility holds the sort modes and the current selection.
// It is safe for concurrent use.
type Facility struct {
	mu       sync.Mutex
	store    KeyValueStore
	keys     Keys
	modes    []Mode
	selected int
}

// NewFacility creates a Facility from default modes and loads any persisted
// selection and rule lists. Persisted rules that no longer validate against
// their mode are ignored in favour of the defaults.
func NewFacility(store KeyValueStore, keys Keys, defaults []Mode) (*Facility, error) {
	if len(defaults) == 0 {
		return nil, fmt.Errorf("at least one sort mode is required")
	}

	f := &Facility{
		store: store,
		keys:  keys,
		modes: make([]Mode, len(defaults)),
	}
	for i, m := range defaults {
		f.modes[i] = Mode{
			Name:   m.Name,
			Fields: append([]string(nil), m.Fields...),
			Rules:  append([]Rule(nil), m.Rules...),
		}
	}

	raw, ok, err := store.GetPreference(keys.Selected)
	if err != nil {
		return nil, fmt.Errorf("loading selected sort mode: %w", err)
	}
	if ok {
		if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 && idx < len(f.modes) {
			f.selected = idx
		}
	}

	for i := range f.modes {
		raw, ok, err := store.GetPreference(f.rulesKey(i))
		if err != nil {
			return nil, fmt.Errorf("loading rules for sort mode %d: %w", i, err)
		}
		if !ok {
			continue
		}
		var rules []Rule
		if err := json.Unmarshal([]byte(raw), &rules); err != nil {
			continue
		}
		if validateRules(f.modes[i], rules) != nil {
			continue
		}
		f.modes[i].Rules = rules
	}

	return f, nil
}

func (f *Facility) rulesKey(index int) string {
	return f.keys.RulesPrefix + "." + strconv.Itoa(index)
}

func (f *Facility) checkIndex(index int) error {
	if index < 0 || index >= len(f.modes) {
		return fmt.Errorf("sort mode index %d out of range [0,%d)", index, len(f.modes))
	}
	return nil
}

// Modes returns a copy of every mode.
func (f *Facility) Modes() []Mode {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Mode, len(f.modes))
	for i, m := range f.modes {
		out[i] = copyMode(m)
	}
	return out
}

// Mode returns a copy of the mode at index.
func (f *Facility) Mode(index int) (Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkIndex(index); err != nil {
		return Mode{}, err
	}
	return copyMode(f.modes[index]), nil
}

// SelectedIndex returns the index of the selected mode.
func (f *Facility) SelectedIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

// SelectMode selects and persists the mode at index.
func (f *Facility) SelectMode(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkIndex(index); err != nil {
		return err
	}
	if err := f.store.SetPreference(f.keys.Selected, strconv.Itoa(index)); err != nil {
		return fmt.Errorf("persisting selected sort mode: %w", err)
	}
	f.selected = index
	return nil
}

// SetRules replaces and persists the rule list of the mode at index.
func (f *Facility) SetRules(index int, rules []Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkIndex(index); err != nil {
		return err
	}
	if err := validateRules(f.modes[index], rules); err != nil {
		return err
	}
	return f.persistRules(index, append([]Rule(nil), rules...))
}

// UpdateRule sets the direction of field's rule in the mode at index.
// If the mode has no rule for field yet, one is appended.
func (f *Facility) UpdateRule(index int, field string, ascending bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkIndex(index); err != nil {
		return err
	}

	rules := append([]Rule(nil), f.modes[index].Rules...)
	found := false
	for i := range rules {
		if rules[i].Field == field {
			rules[i].Ascending = ascending
			found = true
			break
		}
	}
	if !found {
		rules = append(rules, Rule{Field: field, Label: field, Ascending: ascending})
	}

	if err := validateRules(f.modes[index], rules); err != nil {
		return err
	}
	return f.persistRules(index, rules)
}

func (f *Facility) persistRules(index int, rules []Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding sort rules: %w", err)
	}
	if err := f.store.SetPreference(f.rulesKey(index), string(data)); err != nil {
		return fmt.Errorf("persisting sort rules: %w", err)
	}
	f.modes[index].Rules = rules
	return nil
}

// Ordering returns the selected mode's rules as query orderings.
func (f *Facility) Ordering() []Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return OrderingFor(f.modes[f.selected])
}

// OrderingFor converts a mode's rules into query orderings.
func OrderingFor(m Mode) []Order {
	out := make([]Order, len(m.Rules))
	for i, r := range m.Rules {
		out[i] = Order{
			Field:           r.Field,
			Descending:      !r.Ascending,
			CaseInsensitive: r.CaseInsensitive,
		}
	}
	return out
}

// validateRules checks that every rule names an allowed field of m.
func validateRules(m Mode, rules []Rule) error {
	allowed := make([]interface{}, len(m.Fields))
	for i, field := range m.Fields {
		allowed[i] = field
	}

	for i := range rules {
		r := &rules[i]
		err := validation.ValidateStruct(r,
			validation.Field(&r.Field, validation.Required, validation.In(allowed...)),
		)
		if err != nil {
			return fmt.Errorf("sort rule %d of mode %q: %w", i, m.Name, err)
		}
	}
	return nil
}

func copyMode(m Mode) Mode {
	return Mode{
		Name:   m.Name,
		Fields: append([]string(nil), m.Fields...),
		Rules:  append([]Rule(nil), m.Rules...),
	}
}
