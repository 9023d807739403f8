package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
}

func TestFromBuildInfo(t *testing.T) {
	restore(t)
	Version, Commit, Date = "dev", "none", "unknown"

	fromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	})

	assert.Equal(t, "v1.2.3", Version)
	assert.Equal(t, "0123456", Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", Date)
}

func TestFromBuildInfo_Devel(t *testing.T) {
	restore(t)
	Version, Commit = "dev", "none"

	fromBuildInfo(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
	})

	assert.Equal(t, "dev", Version)
	assert.Equal(t, "abc", Commit)
}

func TestInfo(t *testing.T) {
	restore(t)
	Version, Commit, Date = "v0.1.0", "deadbee", "today"

	assert.Equal(t, "tenantsql v0.1.0 (commit: deadbee, built: today) "+runtime.Version(), Info())
	assert.Equal(t, "v0.1.0", Short())
}
