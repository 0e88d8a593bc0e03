package resolver

import (
	"reflect"
	"testing"
)

func TestSplitTopLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple",
			input: "a: 1, b: 2",
			want:  []string{"a: 1", " b: 2"},
		},
		{
			name:  "empty segments skipped",
			input: "a,,b,",
			want:  []string{"a", "b"},
		},
		{
			name:  "quoted comma",
			input: `note: "x, y", z: 1`,
			want:  []string{`note: "x, y"`, " z: 1"},
		},
		{
			name:  "nested brackets",
			input: `a: {"x": 1, "y": [1, 2]}, b: [3, 4]`,
			want:  []string{`a: {"x": 1, "y": [1, 2]}`, " b: [3, 4]"},
		},
		{
			name:  "escaped comma kept verbatim",
			input: `a: x\,y, b: 2`,
			want:  []string{`a: x\,y`, " b: 2"},
		},
		{
			name:  "escaped quote does not open a span",
			input: `a: \"x, b: 2`,
			want:  []string{`a: \"x`, " b: 2"},
		},
		{
			name:  "brackets inside quotes ignored",
			input: `a: "[", b: 2`,
			want:  []string{`a: "["`, " b: 2"},
		},
		{
			name:  "stray closer suppresses later splits",
			input: "a: }}, b: 2",
			want:  []string{"a: }}, b: 2"},
		},
		{
			name:  "closer after a balanced pair",
			input: "a: [1], b: 2], c: 3",
			want:  []string{"a: [1]", " b: 2], c: 3"},
		},
		{
			name:  "unbalanced opener swallows the rest",
			input: "a: [1, b: 2",
			want:  []string{"a: [1, b: 2"},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitTopLevel(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitTopLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitKeyValue(t *testing.T) {
	tests := []struct {
		name      string
		segment   string
		wantKey   string
		wantValue string
		wantOK    bool
	}{
		{name: "colon", segment: "a: 1", wantKey: "a", wantValue: "1", wantOK: true},
		{name: "equals", segment: "a=1", wantKey: "a", wantValue: "1", wantOK: true},
		{name: "first separator wins", segment: "a = b = c", wantKey: "a", wantValue: "b = c", wantOK: true},
		{name: "url value", segment: "url: http://host:8080/x", wantKey: "url", wantValue: "http://host:8080/x", wantOK: true},
		{name: "quoted separator skipped", segment: `"k:v": 1`, wantKey: `"k:v"`, wantValue: "1", wantOK: true},
		{name: "escaped separator skipped", segment: `a\:b: c`, wantKey: `a\:b`, wantValue: "c", wantOK: true},
		{name: "separator first", segment: ":1"},
		{name: "separator last", segment: "a:"},
		{name: "blank key", segment: "   : x"},
		{name: "blank value", segment: "a:   "},
		{name: "no separator", segment: "no separator here"},
		{name: "only quoted separator", segment: `"a:b"`},
		{name: "empty", segment: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, ok := SplitKeyValue(tt.segment)
			if ok != tt.wantOK {
				t.Fatalf("SplitKeyValue(%q) ok = %v, want %v", tt.segment, ok, tt.wantOK)
			}
			if key != tt.wantKey || value != tt.wantValue {
				t.Errorf("SplitKeyValue(%q) = (%q, %q), want (%q, %q)", tt.segment, key, value, tt.wantKey, tt.wantValue)
			}
		})
	}
}
