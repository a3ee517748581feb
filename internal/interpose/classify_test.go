package interpose

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixRule(t *testing.T) {
	tt := []struct {
		rule   PrefixRule
		path   string
		expect bool
	}{
		{"./test/", "./test/file", true},
		{"./test/", "./test/", true},
		{"./test/", "test/file", false},
		{"./test/", "./testing/file", false},
		{"/srv/data/", "/srv/data/a/b", true},
		{"", "/anything", false},
	}

	for _, tc := range tt {
		require.Equal(t, tc.expect, tc.rule.Match(tc.path), "rule %q path %q", tc.rule, tc.path)
	}
}

func TestGlobRule(t *testing.T) {
	rule, err := NewGlobRule("/data/**/*.db", "/tmp/shared-*")
	require.NoError(t, err)

	require.True(t, rule.Match("/data/a/b/c.db"))
	require.True(t, rule.Match("/data/c.db"))
	require.True(t, rule.Match("/tmp/shared-1"))
	require.False(t, rule.Match("/data/c.txt"))
	require.False(t, rule.Match("/tmp/private"))
}

func TestGlobRule_Invalid(t *testing.T) {
	_, err := NewGlobRule("/data/[")
	require.Error(t, err)
}

func TestAnyRule(t *testing.T) {
	glob, err := NewGlobRule("**/*.db")
	require.NoError(t, err)

	rule := AnyRule{PrefixRule("./test/"), glob, nil}
	require.True(t, rule.Match("./test/x"))
	require.True(t, rule.Match("a/b.db"))
	require.False(t, rule.Match("a/b.txt"))
	require.False(t, AnyRule(nil).Match("./test/x"))
}
