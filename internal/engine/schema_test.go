package engine

import (
	"errors"
	"sort"
	"testing"
)

type sampleOutput struct {
	Category   string   `json:"category" jsonschema:"enum=lead,enum=praise"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

func TestGenerateSchema_Strict(t *testing.T) {
	s := GenerateSchema[sampleOutput]("sample")
	if s.Name != "sample" {
		t.Errorf("Name = %q", s.Name)
	}
	def := s.Definition
	if def["type"] != "object" {
		t.Fatalf("type = %v, want object", def["type"])
	}
	if def["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", def["additionalProperties"])
	}
	if _, ok := def["$schema"]; ok {
		t.Error("$schema should be stripped")
	}

	required, ok := def["required"].([]string)
	if !ok {
		t.Fatalf("required = %T, want []string", def["required"])
	}
	sort.Strings(required)
	want := []string{"category", "confidence", "tags"}
	if len(required) != len(want) {
		t.Fatalf("required = %v, want %v", required, want)
	}
	for i := range want {
		if required[i] != want[i] {
			t.Errorf("required[%d] = %q, want %q", i, required[i], want[i])
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: `{"category":"lead"}`, want: "lead"},
		{name: "fenced", raw: "```json\n{\"category\":\"praise\"}\n```", want: "praise"},
		{name: "prose", raw: `Sure! Here it is: {"category":"spam"} hope that helps`, want: "spam"},
		{name: "no object", raw: "I cannot help with that", wantErr: true},
		{name: "broken", raw: `{"category":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out sampleOutput
			err := DecodeJSON(tt.raw, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if out.Category != tt.want {
				t.Errorf("Category = %q, want %q", out.Category, tt.want)
			}
		})
	}
}

func TestDecodeJSON_NoObjectSentinel(t *testing.T) {
	var out sampleOutput
	if err := DecodeJSON("nothing here", &out); !errors.Is(err, ErrNoJSON) {
		t.Errorf("error = %v, want ErrNoJSON", err)
	}
}
