package autorelease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopePopReleasesInLIFOOrder(t *testing.T) {
	defer Reset()
	var order []int
	scope := ScopePush()
	AutoCall(1, func(int) { order = append(order, 1) })
	AutoCall(2, func(int) { order = append(order, 2) })
	AutoCall(3, func(int) { order = append(order, 3) })
	ScopePop(scope)
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, 0, Depth())
}

func TestNestedScopes(t *testing.T) {
	defer Reset()
	var outer, inner []string
	s1 := ScopePush()
	AutoCall("a", func(string) { outer = append(outer, "a") })
	s2 := ScopePush()
	AutoCall("b", func(string) { inner = append(inner, "b") })
	AutoCall("c", func(string) { inner = append(inner, "c") })
	ScopePop(s2)
	assert.Equal(t, []string{"c", "b"}, inner)
	assert.Equal(t, 2, Depth()) // outer sentinel + "a"

	ScopePop(s1)
	assert.Equal(t, []string{"a"}, outer)
	assert.Equal(t, 0, Depth())
}

func TestAutoreleaseNoDestructor(t *testing.T) {
	defer Reset()
	scope := ScopePush()
	got := Autorelease(42)
	require.Equal(t, 42, got)
	ScopePop(scope)
	assert.Equal(t, 0, Depth())
}

func TestScopePopOne(t *testing.T) {
	defer Reset()
	var released bool
	scope := ScopePush()
	AutoCall(1, func(int) { released = true })
	ScopePopOne()
	assert.True(t, released)
	ScopePop(scope)
}
