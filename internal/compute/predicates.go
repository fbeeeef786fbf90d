package compute

import "github.com/eniac111/computectl/internal/types"

// NodePredicate selects nodes.
type NodePredicate func(types.Node) bool

func InGroup(group string) NodePredicate {
	return func(n types.Node) bool { return n.Group == group }
}

func WithIDs(ids ...string) NodePredicate {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(n types.Node) bool {
		_, ok := set[n.ID]
		return ok
	}
}

func Terminated() NodePredicate {
	return func(n types.Node) bool { return n.Status == types.NodeStatusTerminated }
}

func Running() NodePredicate {
	return func(n types.Node) bool { return n.Status == types.NodeStatusRunning }
}

func Not(p NodePredicate) NodePredicate {
	return func(n types.Node) bool { return !p(n) }
}

// And evaluates predicates in order and stops at the first rejection.
func And(ps ...NodePredicate) NodePredicate {
	return func(n types.Node) bool {
		for _, p := range ps {
			if !p(n) {
				return false
			}
		}
		return true
	}
}

// Filter returns the nodes accepted by p, keeping their order.
func Filter(nodes []types.Node, p NodePredicate) []types.Node {
	var out []types.Node
	for _, n := range nodes {
		if p(n) {
			out = append(out, n)
		}
	}
	return out
}
