package grouping

import (
	"fmt"
	"sort"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// clusterState is the immutable (frozen, tail) pair threaded through the
// sequential oracle conversation. Frozen clusters are never re-sent to the
// oracle and never overwritten; only the tail is replayed as editable
// context. Each batch step consumes one state and produces a new one.
type clusterState struct {
	frozen []model.VersionCluster
	tail   []model.VersionCluster
}

// partition splits accumulated clusters ahead of the next batch. horizon is
// the start position (in the deterministic document order) of the window
// most recently judged: a cluster whose members all sit strictly before it
// was replayed to the oracle and not extended, so it is settled and freezes.
// The tail is additionally capped: when more than maxTail clusters remain
// open, the oldest overflow is frozen as-is so the prompt cannot grow
// without bound.
func (s clusterState) partition(horizon int, pos map[string]int, maxTail int) clusterState {
	next := clusterState{
		frozen: append([]model.VersionCluster(nil), s.frozen...),
	}

	var open []model.VersionCluster
	for _, c := range s.tail {
		if clusterMaxPos(c, pos) < horizon {
			next.frozen = append(next.frozen, c)
		} else {
			open = append(open, c)
		}
	}

	if maxTail > 0 && len(open) > maxTail {
		sort.SliceStable(open, func(i, j int) bool {
			return clusterMaxPos(open[i], pos) < clusterMaxPos(open[j], pos)
		})
		overflow := len(open) - maxTail
		next.frozen = append(next.frozen, open[:overflow]...)
		open = open[overflow:]
	}
	next.tail = open

	return next
}

// merge produces the post-judgment state: frozen stays untouched and the
// tail is replaced wholesale by the judgment's clusters. Replacing rather
// than unioning prevents duplicate entries when the oracle echoes a replayed
// cluster back verbatim.
func (s clusterState) merge(clusters []model.VersionCluster) clusterState {
	return clusterState{
		frozen: s.frozen,
		tail:   clusters,
	}
}

// all returns frozen ∪ tail.
func (s clusterState) all() []model.VersionCluster {
	out := make([]model.VersionCluster, 0, len(s.frozen)+len(s.tail))
	out = append(out, s.frozen...)
	out = append(out, s.tail...)
	return out
}

// frozenSummary renders a compact read-only description of frozen clusters
// for the oracle prompt. Frozen content is summarized, never replayed in
// full, so prompt growth is bounded by the tail cap alone.
func (s clusterState) frozenSummary() string {
	if len(s.frozen) == 0 {
		return ""
	}
	docs := 0
	for _, c := range s.frozen {
		docs += len(c.DocumentIDs)
	}
	return fmt.Sprintf("%d clusters covering %d documents from earlier batches", len(s.frozen), docs)
}

func clusterMaxPos(c model.VersionCluster, pos map[string]int) int {
	maxPos := -1
	for _, id := range c.DocumentIDs {
		if p, ok := pos[id]; ok && p > maxPos {
			maxPos = p
		}
	}
	return maxPos
}
