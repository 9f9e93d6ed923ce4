package facts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/froyospec/pkg/engine"
)

type staticComputer struct {
	facts engine.Facts
	err   error
}

func (c staticComputer) Compute(_ context.Context, _ string, _ engine.Facts) (engine.Facts, error) {
	return c.facts, c.err
}

func TestBaseFacts(t *testing.T) {
	tests := []struct {
		node string
		want engine.Facts
	}{
		{
			node: "test.example.com",
			want: engine.Facts{"hostname": "test", "fqdn": "test.example.com", "domain": "example.com"},
		},
		{
			node: "web01",
			want: engine.Facts{"hostname": "web01", "fqdn": "web01", "domain": ""},
		},
		{
			node: "db.internal",
			want: engine.Facts{"hostname": "db", "fqdn": "db.internal", "domain": "internal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, BaseFacts(tt.node)); diff != "" {
				t.Errorf("BaseFacts() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuilder_Layering(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(
		WithComputer(staticComputer{facts: engine.Facts{"osfamily": "RedHat", "role": "computed", "hostname": "computed"}}),
		WithDefaults(engine.Facts{"osfamily": "Debian", "role": "default", "env": "test"}),
	)

	got, err := b.Build(ctx, "test.example.com", map[any]any{
		"role":   "subject",
		1:        "numeric key",
		"domain": "override.local",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := engine.Facts{
		"hostname": "computed",
		"fqdn":     "test.example.com",
		"domain":   "override.local",
		"osfamily": "Debian",
		"role":     "subject",
		"env":      "test",
		"1":        "numeric key",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_NoOverlays(t *testing.T) {
	got, err := NewBuilder().Build(context.Background(), "test.example.com", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := engine.Facts{"hostname": "test", "fqdn": "test.example.com", "domain": "example.com"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_DoesNotMutateDefaults(t *testing.T) {
	defaults := engine.Facts{"env": "test"}
	b := NewBuilder(WithDefaults(defaults))

	if _, err := b.Build(context.Background(), "a.b", map[string]any{"env": "prod"}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if defaults["env"] != "test" {
		t.Errorf("defaults were mutated: %v", defaults)
	}
}

func TestBuilder_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewBuilder().Build(ctx, "a.b", []string{"not", "a", "map"})
	if !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error for non-map facts, got %v", err)
	}

	_, err = NewBuilder(WithComputer(staticComputer{err: errors.New("boom")})).Build(ctx, "a.b", nil)
	if !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error from computer, got %v", err)
	}

	_, err = NewBuilder().Build(ctx, "a.b", map[any]any{1: "a", "1": "b"})
	if !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error for colliding fact names, got %v", err)
	}
}

func TestNormalize_CollidingNames(t *testing.T) {
	type custom map[any]string

	for name, input := range map[string]any{
		"any keys":   map[any]any{1: "a", "1": "b"},
		"custom map": custom{true: "a", "true": "b"},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Normalize(input)
			if err == nil {
				t.Fatalf("Normalize() = %v, want error", got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	type custom map[int]string

	tests := []struct {
		name  string
		input any
		want  engine.Facts
	}{
		{"nil", nil, engine.Facts{}},
		{"string keys", map[string]any{"a": 1}, engine.Facts{"a": 1}},
		{"any keys", map[any]any{"a": 1, true: "yes"}, engine.Facts{"a": 1, "true": "yes"}},
		{"typed map", map[string]string{"a": "b"}, engine.Facts{"a": "b"}},
		{"custom map", custom{7: "seven"}, engine.Facts{"7": "seven"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "facts.yaml")
	if err := os.WriteFile(yamlPath, []byte("osfamily: Debian\nprocessorcount: 4\nnetworking:\n  ip: 10.0.0.1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "facts.json")
	if err := os.WriteFile(jsonPath, []byte(`{"osfamily": "RedHat", "virtual": false}`), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadFile(yaml) error = %v", err)
	}
	want := engine.Facts{
		"osfamily":       "Debian",
		"processorcount": 4,
		"networking":     map[string]any{"ip": "10.0.0.1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFile(yaml) mismatch (-want +got):\n%s", diff)
	}

	got, err = LoadFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadFile(json) error = %v", err)
	}
	if diff := cmp.Diff(engine.Facts{"osfamily": "RedHat", "virtual": false}, got); diff != "" {
		t.Errorf("LoadFile(json) mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Parse([]byte("- a\n- b\n")); err == nil {
		t.Error("expected error for non-mapping facts")
	}
}
