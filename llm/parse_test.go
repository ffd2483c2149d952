package llm

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseTags(t *testing.T) {
	longTag := strings.Repeat("x", 51)

	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "mixed casing and noise",
			raw:  "Tag1, tag2,  TAG3 ,," + longTag,
			want: []string{"tag1", "tag2", "tag3"},
		},
		{
			name: "caps at seven",
			raw:  "a,b,c,d,e,f,g,h,i",
			want: []string{"a", "b", "c", "d", "e", "f", "g"},
		},
		{
			name: "empty input",
			raw:  "",
			want: []string{},
		},
		{
			name: "only separators",
			raw:  ", ,,  ,",
			want: []string{},
		},
		{
			name: "exactly fifty chars kept",
			raw:  strings.Repeat("y", 50),
			want: []string{strings.Repeat("y", 50)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTags(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTags(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"Technology", "Technology"},
		{"  science ", "Science"},
		{"BUSINESS", "Business"},
		{"Cooking", "Other"},
		{"", "Other"},
		{"Technology is the best category", "Other"},
	}

	for _, tc := range cases {
		if got := NormalizeCategory(tc.raw); got != tc.want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseKeyPoints(t *testing.T) {
	raw := "- first point\n* second point\n• third point\n1. fourth point\n\n  \nplain line"
	want := []string{"first point", "second point", "third point", "fourth point", "plain line"}

	got := ParseKeyPoints(raw)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseKeyPoints = %v, want %v", got, want)
	}
}
