package engine

import (
	"reflect"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "class", want: KindClass},
		{in: " Class ", want: KindClass},
		{in: "definition", want: KindDefinition},
		{in: "define", want: KindDefinition},
		{in: "host", want: KindHost},
		{in: "node", want: KindHost},
		{in: "function", want: KindFunction},
		{in: "type", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubject_NodeName(t *testing.T) {
	tests := []struct {
		name        string
		subject     *Subject
		defaultNode string
		want        string
	}{
		{
			name:        "class falls back to default",
			subject:     NewSubject(KindClass, "ntp"),
			defaultNode: "default.example.com",
			want:        "default.example.com",
		},
		{
			name:        "definition prefers explicit node",
			subject:     NewSubject(KindDefinition, "apache::vhost").WithNode("web.example.com"),
			defaultNode: "default.example.com",
			want:        "web.example.com",
		},
		{
			name:        "function falls back to default",
			subject:     NewSubject(KindFunction, "fn"),
			defaultNode: "default.example.com",
			want:        "default.example.com",
		},
		{
			name:        "host ignores default",
			subject:     NewSubject(KindHost, "DB01.example.com"),
			defaultNode: "default.example.com",
			want:        "db01.example.com",
		},
		{
			name:    "class without any node",
			subject: NewSubject(KindClass, "ntp"),
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.subject.NodeName(tt.defaultNode); got != tt.want {
				t.Errorf("NodeName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParams_Order(t *testing.T) {
	p := NewParams(
		Param{Name: "zeta", Value: 1},
		Param{Name: "alpha", Value: 2},
		Param{Name: "zeta", Value: 3},
	)
	p.Set("mid", "x")

	if got, want := p.Names(), []string{"zeta", "alpha", "mid"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if v, ok := p.Get("zeta"); !ok || v != 3 {
		t.Errorf("Get(zeta) = %v, %v; want 3, true", v, ok)
	}
	if p.Len() != 3 {
		t.Errorf("Len() = %d, want 3", p.Len())
	}

	items := p.Items()
	items[0].Value = "mutated"
	if v, _ := p.Get("zeta"); v != 3 {
		t.Error("Items() must return a copy")
	}
}

func TestParams_Nil(t *testing.T) {
	var p *Params
	if p.Len() != 0 || p.Names() != nil || p.Items() != nil {
		t.Error("nil params should behave as empty")
	}
	if _, ok := p.Get("x"); ok {
		t.Error("nil params should have no values")
	}
}

func TestSettings_Overlay(t *testing.T) {
	base := Settings{ModulePath: "/base/modules", Manifest: "/base/site.pp", HieraConfig: "/dev/null"}
	got := base.Overlay(Settings{ModulePath: "/override/modules", ConfDir: "/etc/froyo"})

	want := Settings{
		ModulePath:  "/override/modules",
		Manifest:    "/base/site.pp",
		HieraConfig: "/dev/null",
		ConfDir:     "/etc/froyo",
	}
	if got != want {
		t.Errorf("Overlay() = %+v, want %+v", got, want)
	}
}

func TestFacts_CloneAndMerge(t *testing.T) {
	base := Facts{"a": 1, "b": 2}
	clone := base.Clone()
	clone["a"] = 10

	if base["a"] != 1 {
		t.Error("Clone() must not share the map")
	}

	merged := base.Merge(Facts{"b": 20, "c": 30})
	if merged["b"] != 20 || merged["c"] != 30 || merged["a"] != 1 {
		t.Errorf("Merge() = %v", merged)
	}
}

func TestCatalog_Resource(t *testing.T) {
	catalog := &Catalog{
		Resources: []Resource{
			{Type: "File", Title: "/etc/motd"},
			{Type: "Apache::Vhost", Title: "www"},
			{Type: "File", Title: "/etc/hosts"},
		},
	}

	if r, ok := catalog.Resource("apache::vhost", "www"); !ok || r.Ref() != "Apache::Vhost[www]" {
		t.Errorf("Resource(apache::vhost, www) = %v, %v", r, ok)
	}
	if _, ok := catalog.Resource("file", "/etc/passwd"); ok {
		t.Error("unexpected resource")
	}
	if n := catalog.ResourceCount("file"); n != 2 {
		t.Errorf("ResourceCount(file) = %d, want 2", n)
	}
	if n := catalog.ResourceCount(""); n != 3 {
		t.Errorf("ResourceCount() = %d, want 3", n)
	}
}

func TestCanonicalType(t *testing.T) {
	tests := map[string]string{
		"file":          "File",
		"apache::vhost": "Apache::Vhost",
		"APACHE::VHOST": "Apache::Vhost",
		"":              "",
	}
	for in, want := range tests {
		if got := CanonicalType(in); got != want {
			t.Errorf("CanonicalType(%q) = %q, want %q", in, got, want)
		}
	}
}
