package turn

// Viewport owns the scroll offset, max scroll, and last measured height
// for the scrollback pane. All scroll operations clamp to
// MaxScroll; PageUp/PageDown step by one viewport height; Home/End snap
// to top/bottom when the composer is empty.
type Viewport struct {
	Offset        int
	MaxScroll     int
	Height        int
	composerEmpty bool

	compact         bool
	confirmedAtZero bool
}

// SetComposerEmpty records whether the composer currently has no text,
// gating Home/End snapping.
func (v *Viewport) SetComposerEmpty(empty bool) {
	v.composerEmpty = empty
}

// Resize updates the last measured viewport height and re-clamps the
// offset.
func (v *Viewport) Resize(height, maxScroll int) {
	v.Height = height
	v.MaxScroll = maxScroll
	v.clamp()
}

func (v *Viewport) clamp() {
	if v.Offset < 0 {
		v.Offset = 0
	}
	if v.Offset > v.MaxScroll {
		v.Offset = v.MaxScroll
	}
}

// ScrollBy moves the offset by delta lines, clamped to [0, MaxScroll],
// and updates compact-mode state.
func (v *Viewport) ScrollBy(delta int) {
	prev := v.Offset
	v.Offset += delta
	v.clamp()
	v.updateCompactMode(prev)
}

// PageUp scrolls up by one full viewport height.
func (v *Viewport) PageUp() { v.ScrollBy(v.Height) }

// PageDown scrolls down by one full viewport height.
func (v *Viewport) PageDown() { v.ScrollBy(-v.Height) }

// Home snaps to the top of scrollback when the composer is empty.
func (v *Viewport) Home() {
	if !v.composerEmpty {
		return
	}
	v.ScrollBy(v.MaxScroll)
}

// End snaps to the bottom of scrollback when the composer is empty.
func (v *Viewport) End() {
	if !v.composerEmpty {
		return
	}
	v.ScrollBy(-v.MaxScroll)
}

// updateCompactMode applies the composer-compaction rule: scrolling
// above the bottom switches the composer to compact mode so the spacer
// row reveals one more line of history; the first scroll back to zero
// keeps the spacer hidden until a second Down confirms the return.
func (v *Viewport) updateCompactMode(prevOffset int) {
	if v.Offset > 0 {
		v.compact = true
		v.confirmedAtZero = false
		return
	}
	// Offset == 0 now.
	if prevOffset > 0 {
		// First Down reaching the bottom: keep the spacer hidden until a
		// second Down confirms the return.
		v.confirmedAtZero = true
		return
	}
	if v.confirmedAtZero {
		v.compact = false
		v.confirmedAtZero = false
	}
}

// Compact reports whether the composer should render in compact mode.
func (v *Viewport) Compact() bool { return v.compact }

// AtBottom reports whether the viewport is scrolled to the very bottom.
func (v *Viewport) AtBottom() bool { return v.Offset == 0 }

// FrozenPrefix tracks the history-virtualization freeze: a prefix of
// cells measured at a given width, invalidated when the width changes.
type FrozenPrefix struct {
	Width     int
	FrozenLen int
}

// Invalidate clears the freeze if width differs from the last-measured
// one, returning true if invalidation occurred.
func (f *FrozenPrefix) Invalidate(width int) bool {
	if f.Width == width {
		return false
	}
	f.Width = width
	f.FrozenLen = 0
	return true
}

// Freeze records a new frozen prefix length for the current width.
func (f *FrozenPrefix) Freeze(n int) {
	f.FrozenLen = n
}
