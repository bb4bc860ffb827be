package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseISOTime(t *testing.T) {
	testCases := []struct {
		input    string
		expected time.Time
	}{
		{"", time.Time{}},
		{"unknown", time.Time{}},
		{"yesterday", time.Time{}},
		{"2024-03-01T10:20:30Z", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2024-03-01T10:20:30", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2024-03-01 10:20:30", time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.True(t, tc.expected.Equal(parseISOTime(tc.input)))
		})
	}
}

func TestLinkTimeVersion(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version = "v1.2.3"
	GitCommit = "0123456789abcdef"

	assert.Equal(t, "v1.2.3", GetVersion())
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
	assert.True(t, IsRelease())

	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "Version: v1.2.3")
	assert.Contains(t, detailed, "Commit: 0123456789abcdef")
	assert.Contains(t, detailed, "Starlark: ")

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
}
