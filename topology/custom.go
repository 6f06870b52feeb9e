package topology

import (
	"os"

	"github.com/rankmesh/tbon/internal/status"
	"gopkg.in/yaml.v3"
)

// LoadHostsYAML reads a rank-ordered host list from a YAML file of the
// form:
//
//	- host: node0
//	- host: node1
//	  parent: node0
func LoadHostsYAML(path string) ([]Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, status.Wrap(status.NotFound, "topology: reading hosts file", err)
	}
	var hosts []Host
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return nil, status.Wrap(status.Invalid, "topology: parsing hosts file", err)
	}
	return hosts, nil
}

// customInit implements the "custom" plugin: parent[r] is derived from
// an externally supplied, rank-ordered hosts array (set via
// WithHosts). Validates that rank 0 has no parent, that named parents
// exist and are in range, and that no cycle is introduced — in that
// order, matching original_source's custom_plugin_init.
func customInit(t *Topology, arg string) error {
	if len(t.hosts) != t.size {
		return status.Newf(status.Invalid, "custom: hosts list has %d entries, want %d", len(t.hosts), t.size)
	}
	byHost := make(map[string]int, t.size)
	for r, h := range t.hosts {
		byHost[h.Host] = r
	}

	for r, h := range t.hosts {
		if r == 0 {
			if h.Parent != "" {
				return status.New(status.Invalid, "custom: rank 0 must not have a parent")
			}
			continue
		}
		if h.Parent == "" {
			// default parent (rank 0) already set; nothing to do.
			continue
		}
		pr, ok := byHost[h.Parent]
		if !ok {
			return status.Newf(status.NotFound, "custom: rank %d names unknown parent host %q", r, h.Parent)
		}
		if pr < 0 || pr >= t.size {
			return status.Newf(status.Invalid, "custom: rank %d parent rank %d out of range", r, pr)
		}
		if pr == r || t.IsDescendantOf(pr, r) {
			return status.Newf(status.Invalid, "custom: rank %d parent %q (rank %d) would create a cycle", r, h.Parent, pr)
		}
		t.nodes[r].parent = pr
	}
	return nil
}
