package command

import "testing"

func TestCanonical_StableAcrossEqualValues(t *testing.T) {
	a, err := Canonical(NewResult("parent-1", "uid-1", "child-1", 42))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	b, err := Canonical(NewResult("parent-1", "uid-1", "child-1", 42))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if a != b {
		t.Errorf("expected equal commands to encode identically, got %q vs %q", a, b)
	}
}

func TestCanonical_DiffersOnField(t *testing.T) {
	base, err := Canonical(NewResult("parent-1", "uid-1", "child-1", 42))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	other, err := Canonical(NewResult("parent-1", "uid-1", "child-1", 43))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if base == other {
		t.Error("expected commands with different results to encode differently")
	}
}

func TestCanonical_ActivateOmitsData(t *testing.T) {
	got, err := Canonical(New("task-1", "uid-1", TypeActivate))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"to":"task-1","to_uid":"uid-1","type":"activate"}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCanonical_ErrorCommand(t *testing.T) {
	got, err := Canonical(NewError("parent-1", "uid-1", "child-1", "boom"))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"to":"parent-1","to_uid":"uid-1","type":"error","data":{"id":"child-1","error":"boom"}}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMustCanonical_PanicsOnUnmarshalableData(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unmarshalable command data")
		}
	}()
	cmd := NewResult("parent-1", "uid-1", "child-1", make(chan int))
	MustCanonical(cmd)
}

func TestMustCanonical_MatchesCanonical(t *testing.T) {
	cmd := New("task-1", "uid-1", TypeGroupCheck)
	want, err := Canonical(cmd)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if got := MustCanonical(cmd); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
