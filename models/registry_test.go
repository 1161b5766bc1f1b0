package models

import (
	"errors"
	"testing"
)

func TestRegistryDefaultForRole(t *testing.T) {
	reg := NewRegistry([]Model{
		{ID: "model-a"},
		{ID: "model-b", DefaultForRoles: []Role{RoleSummary}},
		{ID: "model-c", DefaultForRoles: []Role{RoleSummary}},
	})

	// A role claimant wins, first match in registry order.
	m, err := reg.DefaultForRole(RoleSummary)
	if err != nil {
		t.Fatalf("DefaultForRole(summary) error: %v", err)
	}
	if m.ID != "model-b" {
		t.Errorf("DefaultForRole(summary) = %q, want model-b", m.ID)
	}

	// No claimant: first model in registry order.
	m, err = reg.DefaultForRole(RoleChat)
	if err != nil {
		t.Fatalf("DefaultForRole(chat) error: %v", err)
	}
	if m.ID != "model-a" {
		t.Errorf("DefaultForRole(chat) = %q, want model-a", m.ID)
	}
}

func TestRegistryEmpty(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.DefaultForRole(RoleChat); !errors.Is(err, ErrEmptyRegistry) {
		t.Errorf("DefaultForRole on empty registry = %v, want ErrEmptyRegistry", err)
	}
}

func TestRegistryReplace(t *testing.T) {
	reg := NewRegistry(Defaults())
	before := reg.Len()
	if before == 0 {
		t.Fatal("defaults registry is empty")
	}

	replacement := []Model{{ID: "only-model"}}
	reg.Replace(replacement)

	if reg.Len() != 1 {
		t.Fatalf("Len() after Replace = %d, want 1", reg.Len())
	}
	if _, ok := reg.Get("only-model"); !ok {
		t.Error("Get(only-model) missing after Replace")
	}
	if _, ok := reg.Get("gemini-2.5-flash"); ok {
		t.Error("old entry survived a wholesale Replace")
	}

	// Replace copies: mutating the caller's slice must not leak in.
	replacement[0].ID = "mutated"
	if _, ok := reg.Get("only-model"); !ok {
		t.Error("registry shares backing storage with the caller's slice")
	}
}

func TestRegistryListCopies(t *testing.T) {
	reg := NewRegistry([]Model{{ID: "model-a"}})
	list := reg.List()
	list[0].ID = "mutated"
	if _, ok := reg.Get("model-a"); !ok {
		t.Error("List returned a view into registry storage")
	}
}
