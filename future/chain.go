package future

import "github.com/rankmesh/tbon/internal/status"

// AndThen attaches a success handler to prev and returns the chained
// "next" future (creating it on first call). cb runs once prev
// fulfills ok; it must eventually call Continue, ContinueError, or
// FulfillNext on prev. If prev never fulfills ok (fulfills with an
// error instead) and no OrThen handler is attached, the error
// propagates to next automatically.
func AndThen(prev *Future, cb ChainFunc) *Future {
	prev.onSuccess = cb
	return prev.chainNextFuture()
}

// OrThen attaches an error handler to prev, mirroring AndThen for the
// fulfilled-error case.
func OrThen(prev *Future, cb ChainFunc) *Future {
	prev.onFailure = cb
	return prev.chainNextFuture()
}

func (prev *Future) chainNextFuture() *Future {
	if prev.chainNext == nil {
		next := New(prev.loop, nil)
		next.kind = kindChained
		prev.chainNext = next
	}
	prev.triggerInit()
	if prev.IsReady() {
		prev.handleChainReady()
	}
	return prev.chainNext
}

func (prev *Future) handleChainReady() {
	if prev.continued {
		return
	}
	if prev.state == FulfilledOK {
		if prev.onSuccess != nil {
			prev.onSuccess(prev)
		} else {
			_ = FulfillNext(prev, prev.value, prev.destroy)
		}
		return
	}
	if prev.onFailure != nil {
		prev.onFailure(prev)
	} else {
		_ = ContinueError(prev, prev.errnum)
	}
}

// Continue transfers prev's chain obligation to replacement: once
// replacement is ready, prev's "next" future adopts its result. Used
// inside an AndThen/OrThen callback to chain in another asynchronous
// step rather than fulfilling synchronously.
func Continue(prev, replacement *Future) error {
	if prev.chainNext == nil {
		return status.New(status.Invalid, "future: Continue requires a chained future")
	}
	if prev.continued {
		return status.New(status.AlreadySet, "future: chain obligation already discharged")
	}
	prev.continued = true
	next := prev.chainNext
	replacement.loop = prev.loop
	replacement.chainReady = func() {
		if replacement.state == FulfilledErr {
			_ = next.FulfillError(replacement.errnum)
		} else {
			_ = next.Fulfill(replacement.value, replacement.destroy)
		}
	}
	replacement.triggerInit()
	if replacement.IsReady() {
		replacement.chainReady()
	}
	return nil
}

// ContinueError discharges prev's chain obligation by fulfilling its
// "next" future directly with an error.
func ContinueError(prev *Future, errnum status.Code) error {
	if prev.chainNext == nil {
		return status.New(status.Invalid, "future: ContinueError requires a chained future")
	}
	if prev.continued {
		return status.New(status.AlreadySet, "future: chain obligation already discharged")
	}
	prev.continued = true
	return prev.chainNext.FulfillError(errnum)
}

// FulfillNext discharges prev's chain obligation by fulfilling its
// "next" future directly with a value. Shorthand for a synchronous
// AndThen/OrThen callback that doesn't need to chain in another
// future.
func FulfillNext(prev *Future, value any, destructor func(any)) error {
	if prev.chainNext == nil {
		return status.New(status.Invalid, "future: FulfillNext requires a chained future")
	}
	if prev.continued {
		return status.New(status.AlreadySet, "future: chain obligation already discharged")
	}
	prev.continued = true
	return prev.chainNext.Fulfill(value, destructor)
}
