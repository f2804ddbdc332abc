package practice

import (
	"strings"
	"testing"
)

func TestScenarios_Catalog(t *testing.T) {
	t.Parallel()

	want := []string{"fsbo", "expired", "circle", "listing", "buyer", "objection"}
	got := Scenarios()
	if len(got) != len(want) {
		t.Fatalf("len(Scenarios()) = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Scenarios()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
		if got[i].Name == "" || got[i].Description == "" || got[i].Prompt == "" {
			t.Errorf("scenario %q has empty fields: %+v", id, got[i])
		}
	}
}

func TestScenarios_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := Scenarios()
	s[0].Prompt = "tampered"
	if strings.Contains(Scenarios()[0].Prompt, "tampered") {
		t.Fatal("mutating the returned slice changed the catalog")
	}
}

func TestLookupScenario(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		wantID string
		wantOK bool
	}{
		{"fsbo", "fsbo", true},
		{"  FSBO ", "fsbo", true},
		{"Expired", "expired", true},
		{"objection", "objection", true},
		{"", "", false},
		{"cold-call", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			sc, ok := LookupScenario(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("LookupScenario(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			}
			if sc.ID != tc.wantID {
				t.Errorf("ID = %q, want %q", sc.ID, tc.wantID)
			}
		})
	}
}
