package sandbox

import "testing"

func TestPlaceFiltersIncapableNodes(t *testing.T) {
	p := NewPlacer()
	nodes := []WorkerNode{
		{ID: "a", Ready: true, AvailableVCPUs: 0.5, AvailableMemMiB: 4096, AvailableDiskGiB: 20},
		{ID: "b", Ready: true, AvailableVCPUs: 2, AvailableMemMiB: 4096, AvailableDiskGiB: 20},
	}
	node, err := p.Place(nodes)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if node.ID != "b" {
		t.Fatalf("Place() chose %q, want b (only node with enough vCPU)", node.ID)
	}
}

func TestPlaceReturnsErrorWhenNoneCapable(t *testing.T) {
	p := NewPlacer()
	nodes := []WorkerNode{
		{ID: "a", Ready: false, AvailableVCPUs: 4, AvailableMemMiB: 8192, AvailableDiskGiB: 40},
	}
	if _, err := p.Place(nodes); err == nil {
		t.Fatal("expected error when no node is ready")
	}
}

func TestPlaceBalancesByInFlightJobCount(t *testing.T) {
	p := NewPlacer()
	nodes := []WorkerNode{
		{ID: "a", Ready: true, AvailableVCPUs: 4, AvailableMemMiB: 8192, AvailableDiskGiB: 40},
		{ID: "b", Ready: true, AvailableVCPUs: 4, AvailableMemMiB: 8192, AvailableDiskGiB: 40},
	}

	first, _ := p.Place(nodes)
	second, _ := p.Place(nodes)
	if first.ID == second.ID {
		t.Fatalf("expected placement to balance across nodes, got %q twice", first.ID)
	}

	p.Release(first.ID)
	third, _ := p.Place(nodes)
	if third.ID != first.ID {
		t.Fatalf("expected placement to return to %q after release, got %q", first.ID, third.ID)
	}
}
