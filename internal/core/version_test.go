package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("v1.2.3-rc.1+build.5")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.major)
	assert.Equal(t, uint64(2), v.minor)
	assert.Equal(t, uint64(3), v.patch)
	assert.Equal(t, "rc.1", v.pre)
	assert.Equal(t, "1.2.3-rc.1", v.String())

	for _, bad := range []string{"", "1", "1.2", "1.2.3.4", "01.2.3", "one.two.three"} {
		assert.Error(t, ValidateVersion(bad), bad)
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		requirement string
		version     string
		want        bool
	}{
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.9.0", true},
		{"1.2.3", "2.0.0", false},
		{"1.2.3", "1.2.2", false},
		{"^0.2.3", "0.2.9", true},
		{"^0.2.3", "0.3.0", false},
		{"^0.0.3", "0.0.4", false},
		{"^0.0.3", "0.0.3", true},
		{"^1.2", "1.5.0", true},
		{"^0.2", "0.3.0", false},
		{"^1", "1.99.0", true},
		{"~1.2.3", "1.2.9", true},
		{"~1.2.3", "1.3.0", false},
		{"~1.2", "1.2.0", true},
		{"~1", "1.8.0", true},
		{"=1.2.3", "1.2.3", true},
		{"=1.2", "1.2.7", true},
		{"=1.2", "1.3.0", false},
		{">1.2", "1.2.9", false},
		{">1.2", "1.3.0", true},
		{">1", "2.0.0", true},
		{">=1.2.3, <2.0.0", "1.5.0", true},
		{">=1.2.3, <2.0.0", "2.0.0", false},
		{"<=1.2", "1.2.9", true},
		{"<=1.2", "1.3.0", false},
		{"<1.2.3", "1.2.2", true},
		{"1.*", "1.4.4", true},
		{"1.*", "2.0.0", false},
		{"1.2.x", "1.2.8", true},
		{"*", "42.0.0", true},
		{"v1.0.0", "1.0.1", true},
		{">=1.0.0", "v1.0.1", true},
		{">=1.0.0", "2.0.0-alpha", false},
		{">=1.0.0-alpha", "1.0.0-beta", true},
		{">=1.0.0-alpha", "1.0.1-beta", false},
		{"*", "1.0.0-beta", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.requirement+"@"+tt.version, func(t *testing.T) {
			got, err := Satisfies(tt.requirement, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCacheReusesParsedValues(t *testing.T) {
	cache := newVersionCache()

	ok, err := cache.satisfies("^1.0", "1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cache.versions, 1)
	assert.Len(t, cache.requirements, 1)

	ok, err = cache.satisfies("^1.0", "1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cache.versions, 1)
	assert.Len(t, cache.requirements, 1)

	_, err = cache.satisfies("^1.0", "not-a-version")
	require.Error(t, err)
	assert.Len(t, cache.versions, 1)
}
