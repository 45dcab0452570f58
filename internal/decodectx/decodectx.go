// Package decodectx provides the explicit decode-time context that the
// offset/score decoder consults for filter pushdown (spec.md §4.4.5).
//
// The original implementation kept this state in a thread-local singleton
// (original_source/src/context.h) so that a filter could be attached
// without threading a parameter through every codec entry point. Per
// spec.md §9's redesign note, this implementation makes the dependency
// explicit: callers construct a Context, optionally set a filter, and
// pass it into offsetscore.Decode. Nesting depth is tracked by Enter and
// the leave function it returns, so that the filter only applies at the outermost call
// — matching the original's "nesting_ == 1" rule for recursive decodes.
package decodectx

// Context carries per-decode-call state: the current nesting depth and an
// optional set of allowed offsets used to elide unwanted records.
type Context struct {
	depth  int
	filter map[uint64]struct{}
}

// New returns an empty Context with no filter and zero nesting depth.
func New() *Context {
	return &Context{}
}

// SetFilter installs the set of allowed offsets. Passing nil clears it.
func (c *Context) SetFilter(offsets map[uint64]struct{}) {
	c.filter = offsets
}

// ClearFilter removes any installed filter.
func (c *Context) ClearFilter() {
	c.filter = nil
}

// Enter increments the nesting depth; call before a (possibly recursive)
// decode. Returns a function that decrements it again — use with defer.
func (c *Context) Enter() func() {
	c.depth++
	return func() { c.depth-- }
}

// UseFilter reports whether a filter is active and applies at this
// nesting depth (only the outermost call, depth == 1).
func (c *Context) UseFilter() bool {
	return c.depth == 1 && c.filter != nil
}

// Allowed reports whether offset passes the installed filter. Only
// meaningful when UseFilter is true.
func (c *Context) Allowed(offset uint64) bool {
	_, ok := c.filter[offset]
	return ok
}
