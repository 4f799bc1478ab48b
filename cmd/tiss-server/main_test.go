package main

import (
	"reflect"
	"testing"
)

func TestSplitPatterns(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"*", []string{"*"}},
		{"claim.paid,claim.denied", []string{"claim.paid", "claim.denied"}},
		{" claim.* , batch.closed ", []string{"claim.*", "batch.closed"}},
		{"", []string{"*"}},
		{" , ", []string{"*"}},
	}
	for _, tc := range cases {
		if got := splitPatterns(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitPatterns(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
