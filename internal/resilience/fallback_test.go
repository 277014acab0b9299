package resilience

import (
	"context"
	"errors"
	"testing"
)

func TestCall(t *testing.T) {
	tests := []struct {
		name      string
		failing   map[string]error
		want      string
		wantErrIs error
		wantTried []string
	}{
		{
			name:      "primary succeeds",
			want:      "primary",
			wantTried: []string{"primary"},
		},
		{
			name:      "primary fails over",
			failing:   map[string]error{"primary": errBackend},
			want:      "secondary",
			wantTried: []string{"primary", "secondary"},
		},
		{
			name:      "all fail",
			failing:   map[string]error{"primary": errBackend, "secondary": errBackend, "tertiary": errBackend},
			wantErrIs: ErrAllFailed,
			wantTried: []string{"primary", "secondary", "tertiary"},
		},
		{
			name:      "caller cancellation stops the walk",
			failing:   map[string]error{"primary": context.Canceled},
			wantErrIs: context.Canceled,
			wantTried: []string{"primary"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGroup("primary", "primary", BreakerConfig{MaxFailures: 3})
			g.Add("secondary", "secondary")
			g.Add("tertiary", "tertiary")

			var tried []string
			got, err := Call(g, func(v string) (string, error) {
				tried = append(tried, v)
				if err := tt.failing[v]; err != nil {
					return "", err
				}
				return v, nil
			})
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("err = %v, want %v", err, tt.wantErrIs)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if len(tried) != len(tt.wantTried) {
				t.Fatalf("tried = %v, want %v", tried, tt.wantTried)
			}
			for i := range tried {
				if tried[i] != tt.wantTried[i] {
					t.Errorf("tried = %v, want %v", tried, tt.wantTried)
					break
				}
			}
		})
	}
}

func TestCall_AllFailedWrapsLastError(t *testing.T) {
	last := errors.New("secondary exploded")
	g := NewGroup("primary", 1, BreakerConfig{})
	g.Add("secondary", 2)

	_, err := Call(g, func(v int) (int, error) {
		if v == 1 {
			return 0, errBackend
		}
		return 0, last
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, last) {
		t.Errorf("err = %v, want ErrAllFailed wrapping the last failure", err)
	}
}

func TestCall_SkipsOpenPrimary(t *testing.T) {
	g := NewGroup("primary", "primary", BreakerConfig{MaxFailures: 1})
	g.Add("secondary", "secondary")

	calls := map[string]int{}
	fn := func(v string) (string, error) {
		calls[v]++
		if v == "primary" {
			return "", errBackend
		}
		return v, nil
	}

	for range 3 {
		if _, err := Call(g, fn); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	if calls["primary"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should open)", calls["primary"])
	}
	if calls["secondary"] != 3 {
		t.Errorf("secondary called %d times, want 3", calls["secondary"])
	}
	if s := g.States()["primary"]; s != StateOpen {
		t.Errorf("primary state = %v, want open", s)
	}
}

func TestGroup_Names(t *testing.T) {
	g := NewGroup("groq", 0, BreakerConfig{})
	g.Add("ollama", 1)
	names := g.Names()
	if len(names) != 2 || names[0] != "groq" || names[1] != "ollama" {
		t.Errorf("Names = %v", names)
	}
	if g.Primary() != 0 {
		t.Errorf("Primary = %d", g.Primary())
	}
}
