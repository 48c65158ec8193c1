package sandbox

import (
	"fmt"
)

// WorkerNode is one host in the dynamic-engine worker pool, carrying the
// capacity placement needs to know about.
type WorkerNode struct {
	ID           string
	AvailableVCPUs float64
	AvailableMemMiB int64
	AvailableDiskGiB int64
	Ready        bool
}

// Placer chooses which worker host a sandbox job runs on (adapted from
// the teacher's pkg/scheduler: filterSchedulableNodes + selectNode's
// "fewest assigned jobs" load balancing, generalized from long-running
// service containers to one-shot sandbox jobs with no pooling or
// affinity between jobs).
type Placer struct {
	jobCounts map[string]int // node ID -> in-flight sandbox job count
}

// NewPlacer builds an empty Placer.
func NewPlacer() *Placer {
	return &Placer{jobCounts: make(map[string]int)}
}

// Place filters nodes with enough free capacity for ResourceCaps and
// picks the one with the fewest in-flight sandbox jobs.
func (p *Placer) Place(nodes []WorkerNode) (*WorkerNode, error) {
	candidates := filterCapableNodes(nodes)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("sandbox: no worker node has capacity for a sandbox job")
	}

	var chosen *WorkerNode
	minJobs := -1
	for i := range candidates {
		node := &candidates[i]
		count := p.jobCounts[node.ID]
		if minJobs < 0 || count < minJobs {
			minJobs = count
			chosen = node
		}
	}

	p.jobCounts[chosen.ID]++
	return chosen, nil
}

// Release decrements a node's in-flight job count once a sandbox job
// finishes (spec.md §4.3 teardown).
func (p *Placer) Release(nodeID string) {
	if p.jobCounts[nodeID] > 0 {
		p.jobCounts[nodeID]--
	}
}

func filterCapableNodes(nodes []WorkerNode) []WorkerNode {
	var out []WorkerNode
	for _, n := range nodes {
		if !n.Ready {
			continue
		}
		if n.AvailableVCPUs < ResourceCaps.VCPUs {
			continue
		}
		if n.AvailableMemMiB < ResourceCaps.MemoryMiB {
			continue
		}
		if n.AvailableDiskGiB < ResourceCaps.DiskGiB {
			continue
		}
		out = append(out, n)
	}
	return out
}
