package topology

import (
	"strings"

	"github.com/rankmesh/tbon/internal/status"
)

// karyInit implements "kary:<K>". K=0 leaves the default flat
// (all-parent-0) layout; K>=1 uses the classical k-ary parent formula,
// grounded on original_source/src/common/libutil/kary.c's kary_parentof.
func karyInit(t *Topology, arg string) error {
	if arg == "" {
		return status.New(status.Invalid, "kary: requires an integer argument, e.g. kary:2")
	}
	k, err := parseNonNegInt(arg)
	if err != nil {
		return err
	}
	if k == 0 {
		return nil // flat: default parent[r]=0 already set
	}
	for r := 1; r < t.size; r++ {
		t.nodes[r].parent = karyParentOf(k, r)
	}
	return nil
}

// karyParentOf is kary_parentof from kary.c.
func karyParentOf(k, i int) Rank {
	if i == 0 || k <= 0 {
		return NoParent
	}
	if k == 1 {
		return i - 1
	}
	return (k+(i+1)-2)/k - 1
}

const mincritDefaultMaxFanout = 1024

// mincritFanout is ceil((size-1-k)/k), the router fanout at the given k.
func mincritFanout(size, k int) int {
	n := size - 1 - k
	if n <= 0 {
		return 0
	}
	return (n + k - 1) / k
}

// mincritChooseK auto-selects the smallest k>=2 whose fanout is within
// maxFanout, or 0 if size is already small enough to need no router
// layer. The search never considers k=1: per the open-question
// resolution, k=1 is only reachable via an explicit "mincrit:1" URI.
func mincritChooseK(size, maxFanout int) int {
	if size <= maxFanout+1 {
		return 0
	}
	k := 2
	for mincritFanout(size, k) > maxFanout {
		k++
	}
	return k
}

// mincritInit implements "mincrit[:<K>]": up to 3 levels, with K the
// fanout from rank 0 to a layer of routers and each remaining rank's
// parent computed via (leaf-K-1)%K + 1.
func mincritInit(t *Topology, arg string) error {
	var k int
	if arg == "" {
		k = mincritChooseK(t.size, mincritDefaultMaxFanout)
	} else {
		explicit, err := parseNonNegInt(arg)
		if err != nil {
			return err
		}
		k = explicit
	}
	if k == 0 {
		return nil // flat: default parent[r]=0 already set
	}
	// ranks [1,k] are routers, already parented to 0 by the default layout.
	for r := k + 1; r < t.size; r++ {
		t.nodes[r].parent = (r-k-1)%k + 1
	}
	return nil
}

// binomialMSB returns the largest power of two <= r, the
// amount subtracted from r to find its parent.
func binomialMSB(r int) int {
	msb := 1
	for msb<<1 <= r {
		msb <<= 1
	}
	return msb
}

// binomialInit implements "binomial" (no argument): rank r>0's parent
// is r with its most-significant set bit cleared, reproducing a
// recursive-doubling broadcast tree where root's child j roots a
// subtree of degree j. See DESIGN.md for why this indexing (rather
// than the source's root+2^j recursion) was chosen: it is the formula
// that matches the specification's own worked example.
func binomialInit(t *Topology, arg string) error {
	if strings.TrimSpace(arg) != "" {
		return status.Newf(status.Invalid, "binomial: unexpected argument %q", arg)
	}
	for r := 1; r < t.size; r++ {
		t.nodes[r].parent = r - binomialMSB(r)
	}
	return nil
}
