package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appKey = Key{Kind: KindConfig, Namespace: "public", Group: "DEFAULT_GROUP", Name: "app.yaml"}

func TestDetectConfigDeduplicatesByServerMD5(t *testing.T) {
	ev, state, ok := detectConfig(appKey, configState{}, "level: info", "abc", false)
	require.True(t, ok)
	assert.Equal(t, ConfigUpdated, ev.Type)
	assert.Equal(t, "level: info", ev.Config.Content)
	assert.Equal(t, "abc", ev.Config.MD5)
	assert.Equal(t, "app.yaml", ev.Config.DataID)

	_, state2, ok := detectConfig(appKey, state, "level: info", "abc", false)
	assert.False(t, ok)
	assert.Equal(t, state, state2)
}

func TestDetectConfigComputesMD5(t *testing.T) {
	ev, state, ok := detectConfig(appKey, configState{}, "hello", "", false)
	require.True(t, ok)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", ev.Config.MD5)

	_, _, ok = detectConfig(appKey, state, "hello", "", false)
	assert.False(t, ok)

	ev, _, ok = detectConfig(appKey, state, "world", "", false)
	require.True(t, ok)
	assert.Equal(t, "world", ev.Config.Content)
}

func TestDetectConfigServerMD5CaseInsensitive(t *testing.T) {
	_, state, ok := detectConfig(appKey, configState{}, "hello", "5D41402ABC4B2A76B9719D911017C592", false)
	require.True(t, ok)

	_, _, ok = detectConfig(appKey, state, "hello", "", false)
	assert.False(t, ok, "computed md5 matches the stored server md5")
}

func TestDetectConfigDelete(t *testing.T) {
	_, _, ok := detectConfig(appKey, configState{}, "", "", true)
	assert.False(t, ok, "delete without stored state produces no event")

	_, state, ok := detectConfig(appKey, configState{}, "a", "", false)
	require.True(t, ok)

	ev, cleared, ok := detectConfig(appKey, state, "", "", true)
	require.True(t, ok)
	assert.Equal(t, ConfigDeleted, ev.Type)
	assert.Equal(t, state.md5, ev.Config.MD5)
	assert.Equal(t, configState{}, cleared)

	// 删除后相同内容再次推送视为新的更新
	_, _, ok = detectConfig(appKey, cleared, "a", "", false)
	assert.True(t, ok)
}

func TestDetectConfigEmptyContentIsContent(t *testing.T) {
	ev, state, ok := detectConfig(appKey, configState{}, "", "", false)
	require.True(t, ok)
	assert.Equal(t, ConfigUpdated, ev.Type)
	assert.True(t, state.present)
}
