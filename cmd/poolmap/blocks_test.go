package main

import "testing"

func TestGranularityFor(t *testing.T) {
	cases := []struct{ prefix, want int }{
		{8, 16}, {15, 16}, {16, 24}, {20, 24}, {23, 24}, {24, 24}, {26, 26}, {32, 32},
	}
	for _, c := range cases {
		if got := granularityFor(c.prefix); got != c.want {
			t.Errorf("granularityFor(%d)=%d, want %d", c.prefix, got, c.want)
		}
	}
}

func TestBuildPoolBlocksCoverage(t *testing.T) {
	pool := parsePoolCIDR("192.168.0.0/20")
	blocks := buildPoolBlocks(pool, nil, nil)
	if len(blocks) != 16 {
		t.Fatalf("got %d blocks, want 16", len(blocks))
	}
	next := pool.Start
	for i, b := range blocks {
		if b.start != next {
			t.Fatalf("block %d starts at %s, want %s", i, b.Start, u32ToIP(next))
		}
		next = b.end + 1
	}
	if blocks[len(blocks)-1].end != pool.End {
		t.Errorf("last block ends at %s, want %s", blocks[len(blocks)-1].End, u32ToIP(pool.End))
	}
	if blocks[0].Label != "192.168.0.0/24" {
		t.Errorf("label=%s", blocks[0].Label)
	}
}

func TestCoarseBlockHasNoGatewayStatus(t *testing.T) {
	pool := parsePoolCIDR("10.0.0.0/16")
	blocks := buildPoolBlocks(pool, nil, nil)
	// The first /24 contains the pool's first address, but gateway status
	// exists only at per-IP granularity.
	if blocks[0].Status != StatusFree {
		t.Errorf("first coarse block: got %s, want %s", blocks[0].Status, StatusFree)
	}
}

func TestRenderPoolMapIndividual(t *testing.T) {
	view := renderPoolMap("10.0.0.0/28", nil, nil, MapFilters{}, "")
	if !view.IndividualIPs || view.CanDrillDown {
		t.Fatalf("individualIps=%v canDrillDown=%v", view.IndividualIPs, view.CanDrillDown)
	}
	if len(view.Blocks) != 16 {
		t.Fatalf("got %d blocks", len(view.Blocks))
	}
	if view.Blocks[0].Status != StatusGateway {
		t.Errorf("first address: got %s", view.Blocks[0].Status)
	}
	if view.Summary.Gateway != 1 || view.Summary.Free != 15 || view.Summary.Total != 16 {
		t.Errorf("summary=%+v", view.Summary)
	}
}

func TestRenderPoolMapDrillDown(t *testing.T) {
	allocations := []IPAllocation{
		testAllocation("web", "team-a", AllocTypeNodes, "10.0.3.10", "10.0.3.20"),
	}
	view := renderPoolMap("10.0.0.0/16", nil, allocations, MapFilters{}, "10.0.3.0/24")
	if view.DrillDown == nil {
		t.Fatal("expected drill-down view")
	}
	dd := view.DrillDown
	if dd.Block != "10.0.3.0/24" {
		t.Errorf("block=%s", dd.Block)
	}
	if len(dd.Blocks) != 256 {
		t.Fatalf("got %d drill-down blocks", len(dd.Blocks))
	}
	if len(dd.Rows) != 16 {
		t.Fatalf("got %d rows", len(dd.Rows))
	}
	for i, row := range dd.Rows {
		if len(row.Blocks) != 16 {
			t.Fatalf("row %d has %d blocks", i, len(row.Blocks))
		}
		if row.Label != row.Blocks[0].Start {
			t.Errorf("row %d label %s != first block %s", i, row.Label, row.Blocks[0].Start)
		}
	}
	// The coarse /24 reports allocated-nodes; drilling in resolves the
	// member addresses individually.
	if dd.Summary.AllocatedNodes != 11 {
		t.Errorf("allocatedNodes=%d, want 11", dd.Summary.AllocatedNodes)
	}
	if dd.Summary.Free != 245 {
		t.Errorf("free=%d, want 245", dd.Summary.Free)
	}
}

func TestMixedBlockDrillDownConsistency(t *testing.T) {
	reserved := []ReservedEntry{{CIDR: "10.0.3.0/26", Description: "infra"}}
	allocations := []IPAllocation{
		testAllocation("web", "team-a", AllocTypeNodes, "10.0.3.100", "10.0.3.120"),
	}
	view := renderPoolMap("10.0.0.0/16", reserved, allocations, MapFilters{}, "10.0.3.0/24")

	var coarse *Block
	for i := range view.Blocks {
		if view.Blocks[i].Label == "10.0.3.0/24" {
			coarse = &view.Blocks[i]
		}
	}
	if coarse == nil {
		t.Fatal("no block for 10.0.3.0/24")
	}
	if coarse.Status != StatusMixed {
		t.Fatalf("coarse block: got %s, want %s", coarse.Status, StatusMixed)
	}
	if view.DrillDown == nil {
		t.Fatal("expected drill-down view")
	}
	// A mixed coarse block must resolve into at least two distinct
	// non-free statuses at per-IP granularity.
	seen := map[string]bool{}
	for _, b := range view.DrillDown.Blocks {
		if b.Status != StatusFree {
			seen[b.Status] = true
		}
	}
	if !seen[StatusReserved] || !seen[StatusAllocatedNodes] {
		t.Fatalf("drill-down statuses=%v, want reserved and allocated-nodes", seen)
	}
	if len(seen) < 2 {
		t.Fatalf("drill-down of a mixed block yielded %d non-free statuses", len(seen))
	}
}

func TestRenderPoolMapDrillDownGateway(t *testing.T) {
	view := renderPoolMap("10.0.0.0/16", nil, nil, MapFilters{}, "10.0.0.0/24")
	if view.DrillDown == nil {
		t.Fatal("expected drill-down view")
	}
	if view.DrillDown.Blocks[0].Status != StatusGateway {
		t.Errorf("pool start in drill-down: got %s", view.DrillDown.Blocks[0].Status)
	}
	if view.DrillDown.Summary.Gateway != 1 {
		t.Errorf("gateway count=%d", view.DrillDown.Summary.Gateway)
	}
}

func TestRenderPoolMapRejectsBadDrillDown(t *testing.T) {
	// Wrong granularity for the pool.
	view := renderPoolMap("10.0.0.0/16", nil, nil, MapFilters{}, "10.0.0.0/26")
	if view.DrillDown != nil {
		t.Error("drill-down should be rejected for off-granularity block")
	}
	// Outside the pool.
	view = renderPoolMap("10.0.0.0/16", nil, nil, MapFilters{}, "10.1.0.0/24")
	if view.DrillDown != nil {
		t.Error("drill-down should be rejected for block outside the pool")
	}
	// Per-IP pools cannot drill down.
	view = renderPoolMap("10.0.0.0/24", nil, nil, MapFilters{}, "10.0.0.0/24")
	if view.DrillDown != nil {
		t.Error("drill-down should be rejected on individual-address pools")
	}
}

func TestRenderPoolMapReservedBlocks(t *testing.T) {
	reserved := []ReservedEntry{{CIDR: "10.0.0.0/22", Description: "infra"}}
	view := renderPoolMap("10.0.0.0/16", reserved, nil, MapFilters{}, "")
	for i := 0; i < 4; i++ {
		if view.Blocks[i].Status != StatusReserved {
			t.Errorf("block %d: got %s", i, view.Blocks[i].Status)
		}
		if view.Blocks[i].Description != "infra" {
			t.Errorf("block %d description=%q", i, view.Blocks[i].Description)
		}
	}
	if view.Blocks[4].Status != StatusFree {
		t.Errorf("block 4: got %s", view.Blocks[4].Status)
	}
	if view.Summary.Reserved != 4 {
		t.Errorf("summary.Reserved=%d", view.Summary.Reserved)
	}
}

func TestStatusCountsPercent(t *testing.T) {
	s := StatusCounts{Free: 3, Reserved: 1, Total: 4}
	if got := s.Percent(s.Free); got != 75 {
		t.Errorf("Percent(3 of 4)=%v", got)
	}
	var empty StatusCounts
	if got := empty.Percent(0); got != 0 {
		t.Errorf("empty Percent=%v", got)
	}
}
