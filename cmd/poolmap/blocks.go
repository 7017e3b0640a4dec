package main

// Display granularity from the pool prefix: /24 and narrower pools render
// individual addresses, /16../23 pools render /24 blocks, wider pools
// render /16 blocks.
func granularityFor(prefix int) int {
	switch {
	case prefix >= 24:
		return prefix
	case prefix >= 16:
		return 24
	default:
		return 16
	}
}

type PoolMapView struct {
	CIDR          string           `json:"cidr"`
	Prefix        int              `json:"prefix"`
	Granularity   int              `json:"granularity"`
	IndividualIPs bool             `json:"individualIps"`
	CanDrillDown  bool             `json:"canDrillDown"`
	Blocks        []Block          `json:"blocks"`
	Summary       StatusCounts     `json:"summary"`
	Filter        MapFilters       `json:"filter"`
	Filtered      *FilteredSummary `json:"filteredSummary,omitempty"`
	DrillDown     *DrillDownView   `json:"drillDown,omitempty"`
}

type DrillDownView struct {
	Block   string       `json:"block"`
	Blocks  []Block      `json:"blocks"`
	Rows    []GridRow    `json:"rows"`
	Summary StatusCounts `json:"summary"`
}

// GridRow is one 16-address-wide row of the drill-down grid, labeled with
// the row's base address.
type GridRow struct {
	Label  string  `json:"label"`
	Blocks []Block `json:"blocks"`
}

func buildPoolBlocks(pool PoolRange, reserved []reservedSpan, allocs []allocSpan) []Block {
	granularity := granularityFor(pool.Prefix)
	individual := pool.Prefix >= 24
	blockSize := uint64(1)
	if !individual {
		blockSize = uint64(1) << (32 - granularity)
	}
	count := pool.Size / blockSize
	blocks := make([]Block, 0, count)
	for i := uint64(0); i < count; i++ {
		start := pool.Start + uint32(i*blockSize)
		end := start + uint32(blockSize-1)
		label := u32ToIP(start)
		if !individual {
			label += "/" + itoa(granularity)
		}
		blocks = append(blocks, classifySpan(start, end, pool.Start, individual, label, reserved, allocs))
	}
	return blocks
}

func buildDrillDown(pool PoolRange, start, end uint32, reserved []reservedSpan, allocs []allocSpan) DrillDownView {
	blocks := make([]Block, 0, uint64(end-start)+1)
	for ip := uint64(start); ip <= uint64(end); ip++ {
		blocks = append(blocks, classifyIP(uint32(ip), pool.Start, reserved, allocs))
	}
	return DrillDownView{Blocks: blocks, Rows: gridRows(blocks), Summary: summarize(blocks)}
}

func gridRows(blocks []Block) []GridRow {
	rows := make([]GridRow, 0, (len(blocks)+15)/16)
	for i := 0; i < len(blocks); i += 16 {
		j := i + 16
		if j > len(blocks) {
			j = len(blocks)
		}
		rows = append(rows, GridRow{Label: blocks[i].Start, Blocks: blocks[i:j]})
	}
	return rows
}

// expandedBounds resolves a drill-down selection against the pool's block
// grid; the selection must be a block at the display granularity and lie
// inside the pool.
func expandedBounds(pool PoolRange, granularity int, expanded string) (uint32, uint32, bool) {
	block := parsePoolCIDR(expanded)
	if block.Prefix != granularity {
		return 0, 0, false
	}
	if !rangeContains(pool, block.Start, block.End) {
		return 0, 0, false
	}
	return block.Start, block.End, true
}

// renderPoolMap is the engine entry point: pure over its inputs, recomputed
// on every call.
func renderPoolMap(cidr string, reserved []ReservedEntry, allocations []IPAllocation, filters MapFilters, expanded string) PoolMapView {
	pool := parsePoolCIDR(cidr)
	rspans := buildReservedSpans(reserved)
	aspans := buildAllocSpans(allocations)
	granularity := granularityFor(pool.Prefix)
	individual := pool.Prefix >= 24

	view := PoolMapView{
		CIDR:          pool.String(),
		Prefix:        pool.Prefix,
		Granularity:   granularity,
		IndividualIPs: individual,
		CanDrillDown:  !individual,
		Blocks:        buildPoolBlocks(pool, rspans, aspans),
		Filter:        filters,
	}
	view.Summary = summarize(view.Blocks)
	if filters.Active() {
		applyDimming(view.Blocks, aspans, filters)
		filtered := filteredSummary(view.Blocks, aspans, filters)
		view.Filtered = &filtered
	}
	if expanded != "" && view.CanDrillDown {
		if start, end, ok := expandedBounds(pool, granularity, expanded); ok {
			dd := buildDrillDown(pool, start, end, rspans, aspans)
			dd.Block = expanded
			if filters.Active() {
				applyDimming(dd.Blocks, aspans, filters)
			}
			view.DrillDown = &dd
		}
	}
	return view
}
