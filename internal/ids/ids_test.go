package ids

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestGenerateUnique(t *testing.T) {
	a := NewTaskID()
	b := NewTaskID()
	if a == b {
		t.Fatalf("two generated task ids are equal: %s", a)
	}
	if len(a.String()) != 36 {
		t.Fatalf("task id is not a UUID string: %q", a)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Task    TaskID    `json:"task"`
		Context ContextID `json:"context"`
	}
	in := payload{Task: "t-1", Context: SystemContextID}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"task":"t-1","context":"system"}` {
		t.Fatalf("unexpected wire form: %s", raw)
	}
	var out payload
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip changed value: %+v != %+v", out, in)
	}
}

func TestValidatedFilePath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"plain relative", "reports/summary.md", true},
		{"plain absolute", "/var/data/file.bin", true},
		{"dot component ok", "./reports/summary.md", true},
		{"empty", "", false},
		{"nul byte", "a\x00b", false},
		{"parent component", "../etc/passwd", false},
		{"embedded parent", "data/../../etc/passwd", false},
		{"backslash parent", `data\..\secret`, false},
		{"encoded dots", "%2e%2e/etc/passwd", false},
		{"encoded dots upper", "%2E%2E/etc/passwd", false},
		{"mixed encoding", ".%2e/etc/passwd", false},
		{"double encoded", "%252e%252e/etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewValidatedFilePath(tt.path)
			if tt.valid {
				if err != nil {
					t.Fatalf("NewValidatedFilePath(%q) = %v, want ok", tt.path, err)
				}
				if got.String() != tt.path {
					t.Fatalf("path changed: %q != %q", got, tt.path)
				}
				return
			}
			if err == nil {
				t.Fatalf("NewValidatedFilePath(%q) accepted, want error", tt.path)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error is not a *ValidationError: %v", err)
			}
			if verr.Kind != "file path" {
				t.Fatalf("kind = %q, want %q", verr.Kind, "file path")
			}
		})
	}
}
