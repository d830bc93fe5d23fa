package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: a build with or without ldflags

	// Then: Version is "dev" or semver
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString_NamesBinaryAndBuild(t *testing.T) {
	// When: formatting the banner
	str := String()

	// Then: it names the binary, version, commit and toolchain
	assert.Contains(t, str, "docrag "+Version)
	assert.Contains(t, str, "commit: "+Commit)
	assert.Contains(t, str, runtime.Version())
}

func TestShort_ReturnsVersion(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSONFields(t *testing.T) {
	// Given: the build info
	info := GetInfo()
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	// When: serialising it
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then: every documented key is present
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(data, &parsed))
	for _, key := range []string{"version", "commit", "date", "go_version", "platform"} {
		assert.Contains(t, parsed, key)
	}
}
