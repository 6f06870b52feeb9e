package future

import "github.com/rankmesh/tbon/internal/status"

// WaitAny creates a composite future that becomes ready as soon as any
// one of children is ready, adopting that child's result (value or
// error) as its own.
func WaitAny(children map[string]*Future) *Future {
	return newComposite(modeWaitAny, children)
}

// WaitAll creates a composite future that becomes ready once every
// child in children is ready. If all children succeed, the composite
// fulfills ok with a nil value; if any fail, it fulfills with the
// error of the first failed child to become ready. A composite with no children
// is ready immediately, per the empty-wait-all convention.
func WaitAll(children map[string]*Future) *Future {
	return newComposite(modeWaitAll, children)
}

func newComposite(mode compositeMode, children map[string]*Future) *Future {
	comp := &Future{kind: kindComposite, compMode: mode, childByName: make(map[string]*namedChild)}
	// Deterministic order isn't guaranteed by map iteration, but
	// first-error selection for wait-all only needs *a* consistent
	// winner, not iteration order stability across runs.
	for name, child := range children {
		comp.pushLocked(name, child)
	}
	if mode == modeWaitAll && comp.remaining == 0 {
		_ = comp.Fulfill(nil, nil)
	}
	return comp
}

// Push adds a named child to a composite future created by WaitAny or
// WaitAll. The child inherits comp's reactor and is observed
// synchronously (its init callback runs immediately, inline).
func (comp *Future) Push(name string, child *Future) error {
	if comp.kind != kindComposite {
		return status.New(status.Invalid, "future: Push requires a composite future")
	}
	if _, exists := comp.childByName[name]; exists {
		return status.Newf(status.Exists, "future: composite already has a child named %q", name)
	}
	comp.pushLocked(name, child)
	return nil
}

func (comp *Future) pushLocked(name string, child *Future) {
	if comp.loop == nil {
		comp.loop = child.loop
	}
	child.loop = comp.loop
	child.parentComposite = comp
	child.parentName = name
	nc := &namedChild{name: name, child: child}
	comp.children = append(comp.children, nc)
	comp.childByName[name] = nc
	comp.remaining++

	child.triggerInit()
	if child.IsReady() {
		comp.notifyChildReady(child)
	}
}

func (comp *Future) notifyChildReady(child *Future) {
	switch comp.compMode {
	case modeWaitAny:
		if !comp.IsReady() {
			if child.state == FulfilledErr {
				_ = comp.FulfillError(child.errnum)
			} else {
				_ = comp.Fulfill(child.value, nil)
			}
		}
	case modeWaitAll:
		comp.remaining--
		if child.state == FulfilledErr && !comp.hasChildErr {
			comp.hasChildErr = true
			comp.firstErr = child.errnum
		}
		if comp.remaining <= 0 && !comp.IsReady() {
			if comp.hasChildErr {
				_ = comp.FulfillError(comp.firstErr)
			} else {
				_ = comp.Fulfill(nil, nil)
			}
		}
	}
}

// GetChild returns the named child of a composite future.
func (comp *Future) GetChild(name string) (*Future, bool) {
	nc, ok := comp.childByName[name]
	if !ok {
		return nil, false
	}
	return nc.child, true
}

// FirstChild returns the first child pushed onto a composite future,
// in push order, for iteration alongside NextChild.
func (comp *Future) FirstChild() (name string, child *Future, ok bool) {
	if len(comp.children) == 0 {
		return "", nil, false
	}
	return comp.children[0].name, comp.children[0].child, true
}

// NextChild returns the child pushed immediately after the one named
// after, or ok==false once iteration is exhausted.
func (comp *Future) NextChild(after string) (name string, child *Future, ok bool) {
	for i, nc := range comp.children {
		if nc.name == after && i+1 < len(comp.children) {
			return comp.children[i+1].name, comp.children[i+1].child, true
		}
	}
	return "", nil, false
}

// ChildCount returns the number of children pushed onto a composite
// future so far.
func (comp *Future) ChildCount() int { return len(comp.children) }
