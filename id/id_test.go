package id_test

import (
	"encoding/json"
	"testing"

	"github.com/SunnyX6/Datapillar-sub003/id"
)

func TestNew_GeneratesPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() id.ID
		prefix id.Prefix
	}{
		{"job", id.NewJobID, id.PrefixJob},
		{"instance", id.NewInstanceID, id.PrefixInstance},
		{"workflow", id.NewWorkflowID, id.PrefixWorkflow},
		{"run", id.NewRunID, id.PrefixRun},
		{"worker", id.NewWorkerID, id.PrefixWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated := tt.gen()
			if generated.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if generated.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %q, want %q", generated.Prefix(), tt.prefix)
			}
		})
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		s := id.NewInstanceID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestParse_RoundTrip(t *testing.T) {
	original := id.NewInstanceID()

	parsed, err := id.Parse(original.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", original.String(), err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), original.String())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "not-a-typeid"},
		{"bad suffix", "ji_!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := id.Parse(tt.input); err == nil {
				t.Errorf("Parse(%q) = nil error, want error", tt.input)
			}
		})
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	jobID := id.NewJobID()

	if _, err := id.ParseInstanceID(jobID.String()); err == nil {
		t.Errorf("ParseInstanceID(%q) = nil error, want prefix mismatch", jobID.String())
	}
	if _, err := id.ParseJobID(jobID.String()); err != nil {
		t.Errorf("ParseJobID(%q) error: %v", jobID.String(), err)
	}
}

func TestNil_Behavior(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if id.Nil.Prefix() != "" {
		t.Errorf("Nil.Prefix() = %q, want empty", id.Nil.Prefix())
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.InstanceID `json:"id"`
	}

	original := wrapper{ID: id.NewInstanceID()}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.ID.String() != original.ID.String() {
		t.Errorf("round trip = %q, want %q", decoded.ID.String(), original.ID.String())
	}
}

func TestSQL_ValueAndScan(t *testing.T) {
	original := id.NewInstanceID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("scan round trip = %q, want %q", scanned.String(), original.String())
	}

	// Nil maps to NULL in both directions.
	nv, err := id.Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value() error: %v", err)
	}
	if nv != nil {
		t.Errorf("Nil.Value() = %v, want nil", nv)
	}

	var nilScanned id.ID
	if err := nilScanned.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !nilScanned.IsNil() {
		t.Error("Scan(nil) did not produce the Nil ID")
	}
}
