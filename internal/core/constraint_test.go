package core

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/types"
)

func u64(v uint64) *uint64 { return &v }

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []types.Comparator
	}{
		{
			name: "bare version is caret",
			raw:  "1.2.3",
			want: []types.Comparator{{Op: types.ComparatorCaret, Major: 1, Minor: u64(2), Patch: u64(3)}},
		},
		{
			name: "range with spaces",
			raw:  ">= 1.2, < 2",
			want: []types.Comparator{
				{Op: types.ComparatorGreaterEq, Major: 1, Minor: u64(2)},
				{Op: types.ComparatorLess, Major: 2},
			},
		},
		{
			name: "wildcard minor",
			raw:  "1.*",
			want: []types.Comparator{{Op: types.ComparatorExact, Major: 1}},
		},
		{
			name: "wildcard patch",
			raw:  "1.2.x",
			want: []types.Comparator{{Op: types.ComparatorExact, Major: 1, Minor: u64(2)}},
		},
		{
			name: "star",
			raw:  "*",
			want: []types.Comparator{{Op: types.ComparatorWildcard}},
		},
		{
			name: "prerelease with v prefix",
			raw:  "=v1.0.0-beta.2",
			want: []types.Comparator{{Op: types.ComparatorExact, Major: 1, Minor: u64(0), Patch: u64(0), Prerelease: "beta.2"}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequirement(tt.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got.Comparators); diff != "" {
				t.Fatalf("unexpected comparators (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRequirementInvalid(t *testing.T) {
	for _, raw := range []string{"", " , ", ">=", "1.2.3.4", "a.b", ">1.*", "1.*.3", "1.2-beta", "1.2.3-"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseRequirement(raw)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}
