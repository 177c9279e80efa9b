package recordbase

import (
	"testing"
	"time"
)

func TestFilter(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		params map[string]any
		want   string
	}{
		{
			name:   "NoParams",
			raw:    "title != ''",
			params: nil,
			want:   "title != ''",
		},
		{
			name:   "StringEscaped",
			raw:    "a={:x}",
			params: map[string]any{"x": "it's"},
			want:   `a='it\'s'`,
		},
		{
			name:   "Numbers",
			raw:    "count > {:min} && ratio < {:max}",
			params: map[string]any{"min": 2, "max": 1.5},
			want:   "count > 2 && ratio < 1.5",
		},
		{
			name:   "Bool",
			raw:    "verified = {:v}",
			params: map[string]any{"v": true},
			want:   "verified = true",
		},
		{
			name:   "Nil",
			raw:    "deleted = {:d}",
			params: map[string]any{"d": nil},
			want:   "deleted = null",
		},
		{
			name:   "Time",
			raw:    "created >= {:since}",
			params: map[string]any{"since": time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)},
			want:   "created >= '2023-05-06 07:08:09.000Z'",
		},
		{
			name:   "UnmatchedLeftVerbatim",
			raw:    "a={:x} && b={:missing}",
			params: map[string]any{"x": "v"},
			want:   "a='v' && b={:missing}",
		},
		{
			name:   "RepeatedPlaceholder",
			raw:    "a={:x} || b={:x}",
			params: map[string]any{"x": 7},
			want:   "a=7 || b=7",
		},
		{
			name:   "JSONFallback",
			raw:    "meta={:m}",
			params: map[string]any{"m": map[string]any{"k": "v"}},
			want:   `meta='{"k":"v"}'`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Filter(tc.raw, tc.params); got != tc.want {
				t.Errorf("Filter(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}
