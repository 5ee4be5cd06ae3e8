package transformer

import (
	"errors"
	"strings"
	"testing"

	"catalogflat/internal/config"
	"catalogflat/internal/mapping"
)

func registerOnce(t *testing.T, kind string, f Factory) {
	t.Helper()
	mu.Lock()
	delete(factories, kind)
	mu.Unlock()
	Register(kind, f)
	t.Cleanup(func() {
		mu.Lock()
		delete(factories, kind)
		mu.Unlock()
	})
}

func TestBuild_EmptyChainIsNil(t *testing.T) {
	fn, err := Build(nil)
	if err != nil || fn != nil {
		t.Fatalf("Build(nil)=(%v, %v), want (nil, nil)", fn != nil, err)
	}
}

// TestBuild_PassesOptionsAndNormalizesKind checks that kinds are matched
// case-insensitively and that each step receives its own options.
func TestBuild_PassesOptionsAndNormalizesKind(t *testing.T) {
	registerOnce(t, "test_wrap", func(opts config.Options) (mapping.TransformFunc, error) {
		l, r := opts.String("left", "["), opts.String("right", "]")
		return func(v string) string { return l + v + r }, nil
	})

	fn, err := Build([]config.Transform{
		{Kind: " Test_Wrap "},
		{Kind: "test_wrap", Options: config.Options{"left": "<", "right": ">"}},
	})
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if got := fn("x"); got != "<[x]>" {
		t.Fatalf("fn(x)=%q, want %q", got, "<[x]>")
	}
}

func TestBuild_WrapsFactoryErrors(t *testing.T) {
	boom := errors.New("boom")
	registerOnce(t, "test_fail", func(config.Options) (mapping.TransformFunc, error) { return nil, boom })

	_, err := Build([]config.Transform{{Kind: "test_fail"}})
	if !errors.Is(err, boom) {
		t.Fatalf("Build() err=%v, want wrapping %v", err, boom)
	}
	if !strings.Contains(err.Error(), "transform[0]") {
		t.Fatalf("err=%q, want step index", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	registerOnce(t, "test_dup", func(config.Options) (mapping.TransformFunc, error) { return nil, nil })

	tests := []struct {
		name string
		kind string
		f    Factory
	}{
		{"empty_kind", " ", func(config.Options) (mapping.TransformFunc, error) { return nil, nil }},
		{"nil_factory", "test_nil", nil},
		{"duplicate", "TEST_DUP", func(config.Options) (mapping.TransformFunc, error) { return nil, nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("Register(%q) did not panic", tc.kind)
				}
			}()
			Register(tc.kind, tc.f)
		})
	}
}
