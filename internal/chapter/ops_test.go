package chapter

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestVersionParamsDecoding(t *testing.T) {
	var p TextParams
	if err := json.Unmarshal([]byte(`{"version":2}`), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.Version == nil || *p.Version != 2 {
		t.Fatalf("expected version 2, got %v", p.Version)
	}

	p = TextParams{}
	if err := json.Unmarshal([]byte(`{}`), &p); err != nil || p.Version != nil {
		t.Fatalf("expected latest, got %v err=%v", p.Version, err)
	}
	if err := json.Unmarshal([]byte(`{"version":null}`), &p); err != nil || p.Version != nil {
		t.Fatalf("expected latest for null, got %v err=%v", p.Version, err)
	}

	for _, body := range []string{`{"version":1.5}`, `{"version":"1"}`, `{"version":true}`} {
		var h HTMLParams
		if err := json.Unmarshal([]byte(body), &h); !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("%s: expected ErrInvalidVersion, got %v", body, err)
		}
	}

	var h HTMLParams
	if err := json.Unmarshal([]byte(`{"version":1,"extra":true}`), &h); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown field, got %v", err)
	}
}

func TestNewOpCoversMethods(t *testing.T) {
	for _, method := range []string{"init", "add_patch", "apply_patch", "update", "text", "html", "meta", "serialize", "restore"} {
		op, ok := NewOp(method)
		if !ok {
			t.Fatalf("NewOp(%q) not found", method)
		}
		if op.Method() != method {
			t.Errorf("NewOp(%q).Method() = %q", method, op.Method())
		}
	}
	if op, ok := NewOp("patch"); !ok || op.Method() != "add_patch" {
		t.Fatalf("expected patch to alias add_patch, got %v %v", op, ok)
	}
	if _, ok := NewOp("drop"); ok {
		t.Fatal("expected unknown method to be rejected")
	}
}

func TestOutcome(t *testing.T) {
	cases := map[error]string{
		nil:                   "ok",
		ErrSaveBeforeInit:     "storage_inconsistency",
		ErrPatchConflict:      "patch_conflict",
		errEvicted:            "closed",
		errors.New("boom"):    "error",
		ErrInvalidVersion:     "invalid_version",
		ErrAlreadyInitialized: "already_initialized",
	}
	for err, want := range cases {
		if got := Outcome(err); got != want {
			t.Errorf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}
