package sorting

import (
	"errors"
	"testing"
)

// mapStore is an in-memory KeyValueStore.
type mapStore struct {
	values map[string]string
	err    error
}

func newMapStore() *mapStore {
	return &mapStore{values: make(map[string]string)}
}

func (m *mapStore) GetPreference(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapStore) SetPreference(key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestNewFacility(t *testing.T) {
	t.Run("uses defaults when nothing is persisted", func(t *testing.T) {
		f, err := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		if err != nil {
			t.Fatalf("NewFacility() error = %v", err)
		}
		if f.SelectedIndex() != 0 {
			t.Errorf("SelectedIndex() = %d, want 0", f.SelectedIndex())
		}
		if len(f.Modes()) != 3 {
			t.Errorf("len(Modes()) = %d, want 3", len(f.Modes()))
		}
	})

	t.Run("requires at least one mode", func(t *testing.T) {
		if _, err := NewFacility(newMapStore(), DefaultStoryKeys, nil); err == nil {
			t.Error("NewFacility() expected error for no modes")
		}
	})

	t.Run("restores persisted state", func(t *testing.T) {
		store := newMapStore()
		f, _ := NewFacility(store, DefaultStoryKeys, DefaultStoryModes())
		if err := f.SelectMode(2); err != nil {
			t.Fatalf("SelectMode() error = %v", err)
		}
		if err := f.UpdateRule(2, FieldUpdatedAt, true); err != nil {
			t.Fatalf("UpdateRule() error = %v", err)
		}

		reloaded, err := NewFacility(store, DefaultStoryKeys, DefaultStoryModes())
		if err != nil {
			t.Fatalf("NewFacility() error = %v", err)
		}
		if reloaded.SelectedIndex() != 2 {
			t.Errorf("SelectedIndex() = %d, want 2", reloaded.SelectedIndex())
		}
		m, _ := reloaded.Mode(2)
		if !m.Rules[0].Ascending {
			t.Error("persisted rule direction was not restored")
		}
	})

	t.Run("ignores corrupt or invalid persisted values", func(t *testing.T) {
		store := newMapStore()
		store.values[DefaultStoryKeys.Selected] = "99"
		store.values[DefaultStoryKeys.RulesPrefix+".0"] = "not json"
		store.values[DefaultStoryKeys.RulesPrefix+".1"] = `[{"field":"password","ascending":true}]`

		f, err := NewFacility(store, DefaultStoryKeys, DefaultStoryModes())
		if err != nil {
			t.Fatalf("NewFacility() error = %v", err)
		}
		if f.SelectedIndex() != 0 {
			t.Errorf("SelectedIndex() = %d, want 0", f.SelectedIndex())
		}
		m, _ := f.Mode(1)
		if m.Rules[0].Field != FieldCreatedAt {
			t.Errorf("Rules[0].Field = %q, want default %q", m.Rules[0].Field, FieldCreatedAt)
		}
	})
}

func TestFacility_SelectMode(t *testing.T) {
	t.Run("rejects out of range index", func(t *testing.T) {
		f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		if err := f.SelectMode(3); err == nil {
			t.Error("SelectMode(3) expected error")
		}
		if err := f.SelectMode(-1); err == nil {
			t.Error("SelectMode(-1) expected error")
		}
	})

	t.Run("keeps selection when persisting fails", func(t *testing.T) {
		store := newMapStore()
		f, _ := NewFacility(store, DefaultStoryKeys, DefaultStoryModes())
		store.err = errors.New("disk full")

		if err := f.SelectMode(1); err == nil {
			t.Fatal("SelectMode() expected error")
		}
		if f.SelectedIndex() != 0 {
			t.Errorf("SelectedIndex() = %d, want 0", f.SelectedIndex())
		}
	})
}

func TestFacility_SetRules(t *testing.T) {
	t.Run("replaces rules", func(t *testing.T) {
		store := newMapStore()
		f, _ := NewFacility(store, DefaultStoryKeys, DefaultStoryModes())
		rules := []Rule{
			{Field: FieldAutoSync, Label: "Auto sync", Ascending: false},
			{Field: FieldName, Label: "Name", Ascending: true},
		}
		if err := f.SetRules(0, rules); err != nil {
			t.Fatalf("SetRules() error = %v", err)
		}

		want := `[{"field":"auto_sync","label":"Auto sync","ascending":false,"caseInsensitive":false},{"field":"name","label":"Name","ascending":true,"caseInsensitive":false}]`
		if got := store.values[DefaultStoryKeys.RulesPrefix+".0"]; got != want {
			t.Errorf("persisted rules = %s, want %s", got, want)
		}
	})

	t.Run("rejects fields outside the mode", func(t *testing.T) {
		f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		err := f.SetRules(0, []Rule{{Field: "body"}})
		if err == nil {
			t.Fatal("SetRules() expected error for unknown field")
		}
		m, _ := f.Mode(0)
		if m.Rules[0].Field != FieldName {
			t.Error("invalid rules replaced the existing ones")
		}
	})

	t.Run("rejects empty field", func(t *testing.T) {
		f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		if err := f.SetRules(0, []Rule{{Label: "nothing"}}); err == nil {
			t.Error("SetRules() expected error for empty field")
		}
	})
}

func TestFacility_UpdateRule(t *testing.T) {
	t.Run("flips existing rule", func(t *testing.T) {
		f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		if err := f.UpdateRule(0, FieldName, false); err != nil {
			t.Fatalf("UpdateRule() error = %v", err)
		}
		m, _ := f.Mode(0)
		if len(m.Rules) != 1 || m.Rules[0].Ascending {
			t.Errorf("Rules = %+v, want single descending name rule", m.Rules)
		}
	})

	t.Run("appends missing rule", func(t *testing.T) {
		f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		if err := f.UpdateRule(0, FieldCreatedAt, true); err != nil {
			t.Fatalf("UpdateRule() error = %v", err)
		}
		m, _ := f.Mode(0)
		if len(m.Rules) != 2 || m.Rules[1].Field != FieldCreatedAt {
			t.Errorf("Rules = %+v, want created_at appended", m.Rules)
		}
	})

	t.Run("rejects unknown field", func(t *testing.T) {
		f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
		if err := f.UpdateRule(0, "secret", true); err == nil {
			t.Error("UpdateRule() expected error")
		}
	})
}

func TestFacility_Ordering(t *testing.T) {
	f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
	if err := f.SelectMode(2); err != nil {
		t.Fatalf("SelectMode() error = %v", err)
	}

	got := f.Ordering()
	want := []Order{
		{Field: FieldUpdatedAt, Descending: true},
		{Field: FieldName, CaseInsensitive: true},
	}
	if len(got) != len(want) {
		t.Fatalf("len(Ordering()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Ordering()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFacility_ModesAreCopies(t *testing.T) {
	f, _ := NewFacility(newMapStore(), DefaultStoryKeys, DefaultStoryModes())
	modes := f.Modes()
	modes[0].Rules[0].Field = "tampered"

	m, _ := f.Mode(0)
	if m.Rules[0].Field != FieldName {
		t.Error("mutating Modes() result changed facility state")
	}
}
