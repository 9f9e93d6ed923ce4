package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "message only",
			err:  NewConfigurationError("no node name", nil),
			want: "[configuration] no node name",
		},
		{
			name: "subject and node",
			err:  NewCompilationError("compile failed", nil).WithSubject("ntp").WithNode("n.example.com"),
			want: "[compilation] compile failed (subject=ntp, node=n.example.com)",
		},
		{
			name: "subject only",
			err:  NewUnsupportedSubjectError("no parameters", nil).WithSubject("apache::vhost"),
			want: "[unsupported_subject] no parameters (subject=apache::vhost)",
		},
		{
			name: "node only with cause",
			err:  NewCompilationError("compile failed", errors.New("syntax error")).WithNode("n"),
			want: "[compilation] compile failed (node=n): syntax error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngineError_Classification(t *testing.T) {
	cause := errors.New("Evaluation Error")

	tests := []struct {
		name            string
		err             error
		wantUnsupported bool
		wantCompilation bool
		wantConfig      bool
	}{
		{
			name:            "unsupported subject",
			err:             NewUnsupportedSubjectError("x", nil),
			wantUnsupported: true,
		},
		{
			name:            "compilation",
			err:             NewCompilationError("x", cause),
			wantCompilation: true,
		},
		{
			name:       "configuration",
			err:        NewConfigurationError("x", nil),
			wantConfig: true,
		},
		{
			name:            "wrapped compilation",
			err:             fmt.Errorf("build: %w", NewCompilationError("x", cause)),
			wantCompilation: true,
		},
		{
			name: "plain error",
			err:  cause,
		},
		{
			name: "nil",
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnsupportedSubject(tt.err); got != tt.wantUnsupported {
				t.Errorf("IsUnsupportedSubject() = %v, want %v", got, tt.wantUnsupported)
			}
			if got := IsCompilation(tt.err); got != tt.wantCompilation {
				t.Errorf("IsCompilation() = %v, want %v", got, tt.wantCompilation)
			}
			if got := IsConfiguration(tt.err); got != tt.wantConfig {
				t.Errorf("IsConfiguration() = %v, want %v", got, tt.wantConfig)
			}
		})
	}
}

func TestEngineError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewCompilationError("compile failed", cause).WithCode(ErrCodeInvalidCatalog)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassCompilation, Code: ErrCodeInvalidCatalog}) {
		t.Error("expected errors.Is to match class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassCompilation, Code: ErrCodeCompilationFailed}) {
		t.Error("expected errors.Is to distinguish codes")
	}
}

func TestEngineError_Details(t *testing.T) {
	err := NewCompilationError("compile failed", nil).
		WithDetail("stderr", "boom").
		WithDetail("exit_code", 2)

	if err.Details["stderr"] != "boom" || err.Details["exit_code"] != 2 {
		t.Errorf("unexpected details: %v", err.Details)
	}
}
