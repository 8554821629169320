package turn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrollClampsToMaxScroll(t *testing.T) {
	v := Viewport{}
	v.Resize(10, 40)

	v.ScrollBy(100)
	require.Equal(t, 40, v.Offset)

	v.ScrollBy(-100)
	require.Equal(t, 0, v.Offset)
}

func TestPageUpDownStepByOneViewport(t *testing.T) {
	v := Viewport{}
	v.Resize(10, 40)

	v.PageUp()
	require.Equal(t, 10, v.Offset)
	v.PageDown()
	require.Equal(t, 0, v.Offset)
}

func TestHomeEndRequireEmptyComposer(t *testing.T) {
	v := Viewport{}
	v.Resize(10, 40)

	v.SetComposerEmpty(false)
	v.Home()
	require.Equal(t, 0, v.Offset)

	v.SetComposerEmpty(true)
	v.Home()
	require.Equal(t, 40, v.Offset)
	v.End()
	require.Equal(t, 0, v.Offset)
}

func TestCompactModeNeedsSecondDownToClear(t *testing.T) {
	v := Viewport{}
	v.Resize(10, 40)
	v.SetComposerEmpty(true)

	v.ScrollBy(5)
	require.True(t, v.Compact())

	// First Down reaching the bottom keeps the spacer hidden.
	v.ScrollBy(-5)
	require.Equal(t, 0, v.Offset)
	require.True(t, v.Compact())

	// The second Down (clamped at the bottom) confirms and restores the
	// full composer.
	v.ScrollBy(-1)
	require.Equal(t, 0, v.Offset)
	require.False(t, v.Compact())
}

func TestFrozenPrefixInvalidatesOnWidthChange(t *testing.T) {
	f := FrozenPrefix{}
	require.True(t, f.Invalidate(80))
	f.Freeze(12)
	require.False(t, f.Invalidate(80))
	require.Equal(t, 12, f.FrozenLen)
	require.True(t, f.Invalidate(100))
	require.Equal(t, 0, f.FrozenLen)
}
