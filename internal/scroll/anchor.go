// Package scroll keeps a conversation view anchored while its content
// changes: pinned to the newest message while the user is at the bottom,
// and visually still while older messages are prepended above.
//
// All geometry is in rows. The host reports content and viewport heights;
// the anchor only does arithmetic and never renders.
package scroll

// DefaultNearTop is the offset at or below which the view counts as near
// the top and older history should be requested.
const DefaultNearTop = 20

// Anchor tracks the scroll offset of one conversation view.
// It is not safe for concurrent use; the owning session serializes access.
type Anchor struct {
	threshold int

	content  int
	viewport int
	offset   int
	pinned   bool

	prepending bool
	before     int
}

// New returns an Anchor pinned to the bottom. A threshold below zero
// selects DefaultNearTop.
func New(threshold int) *Anchor {
	if threshold < 0 {
		threshold = DefaultNearTop
	}
	return &Anchor{threshold: threshold, pinned: true}
}

func (a *Anchor) maxOffset() int {
	return max(0, a.content-a.viewport)
}

func (a *Anchor) clamp() {
	a.offset = min(max(a.offset, 0), a.maxOffset())
}

// SetViewport records the visible height. A pinned view stays pinned.
func (a *Anchor) SetViewport(height int) {
	a.viewport = max(height, 0)
	if a.pinned {
		a.offset = a.maxOffset()
		return
	}
	a.clamp()
	a.pinned = a.offset == a.maxOffset()
}

// ScrollTo moves the view to offset, clamped to the content. The view is
// pinned exactly when it ends up at the bottom. It reports NearTop.
func (a *Anchor) ScrollTo(offset int) bool {
	a.offset = offset
	a.clamp()
	a.pinned = a.offset == a.maxOffset()
	return a.NearTop()
}

// NearTop reports whether the offset is within the near-top threshold.
func (a *Anchor) NearTop() bool {
	return a.offset <= a.threshold
}

// Pinned reports whether the view follows the newest message.
func (a *Anchor) Pinned() bool {
	return a.pinned
}

// PinBottom scrolls to the newest message and keeps following it.
func (a *Anchor) PinBottom() {
	a.pinned = true
	a.offset = a.maxOffset()
}

// BeginPrepend captures the content height before older messages are
// inserted above the visible ones.
func (a *Anchor) BeginPrepend() {
	a.prepending = true
	a.before = a.content
}

// CancelPrepend drops a captured height without moving the view.
func (a *Anchor) CancelPrepend() {
	a.prepending = false
	a.before = 0
}

// Prepending reports whether BeginPrepend is awaiting its Resize.
func (a *Anchor) Prepending() bool {
	return a.prepending
}

// Resize applies a new content height. After BeginPrepend the offset moves
// down by the growth so the rows on screen stay put; otherwise a pinned
// view follows the bottom and an unpinned one keeps its offset.
func (a *Anchor) Resize(contentHeight int) {
	contentHeight = max(contentHeight, 0)
	if a.prepending {
		delta := contentHeight - a.before
		a.content = contentHeight
		a.offset += delta
		a.clamp()
		a.pinned = a.offset == a.maxOffset()
		a.CancelPrepend()
		return
	}
	a.content = contentHeight
	if a.pinned {
		a.offset = a.maxOffset()
		return
	}
	a.clamp()
}

// Offset returns the current scroll offset.
func (a *Anchor) Offset() int {
	return a.offset
}

// ContentHeight returns the last reported content height.
func (a *Anchor) ContentHeight() int {
	return a.content
}

// Reset forgets the content and pins to the bottom, keeping the viewport.
func (a *Anchor) Reset() {
	a.content = 0
	a.offset = 0
	a.pinned = true
	a.CancelPrepend()
}
