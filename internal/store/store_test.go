package store

import (
	"errors"
	"testing"
)

func TestTee(t *testing.T) {
	mem := NewMemoryStore()
	var seen []string
	failing := RecorderFunc(func(r Result) error {
		seen = append(seen, r.Name)
		return errors.New("disk full")
	})

	rec := Tee(failing, nil, mem)
	err := rec.Record(Result{Name: "api", Status: "up"})
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("Record() error = %v, want disk full", err)
	}
	if len(seen) != 1 || len(mem.GetAll()) != 1 {
		t.Error("every recorder should see the result even when one fails")
	}

	if err := Tee().Record(Result{Name: "api"}); err != nil {
		t.Errorf("empty Tee Record() error = %v", err)
	}
}
