package main

type StatusCounts struct {
	Free           int `json:"free"`
	Reserved       int `json:"reserved"`
	AllocatedNodes int `json:"allocatedNodes"`
	AllocatedLB    int `json:"allocatedLb"`
	Mixed          int `json:"mixed"`
	Gateway        int `json:"gateway"`
	Total          int `json:"total"`
}

func (s *StatusCounts) add(status string) {
	switch status {
	case StatusReserved:
		s.Reserved++
	case StatusAllocatedNodes:
		s.AllocatedNodes++
	case StatusAllocatedLB:
		s.AllocatedLB++
	case StatusMixed:
		s.Mixed++
	case StatusGateway:
		s.Gateway++
	default:
		s.Free++
	}
	s.Total++
}

// Percent of the total for one status count; counts partition the block
// set, so the percentages across present statuses sum to 100.
func (s StatusCounts) Percent(count int) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(count) / float64(s.Total) * 100
}

func summarize(blocks []Block) StatusCounts {
	var out StatusCounts
	for _, b := range blocks {
		out.add(b.Status)
	}
	return out
}

// FilteredSummary tallies only blocks matching the active filter, plus the
// matching allocation objects and the address space they cover.
type FilteredSummary struct {
	StatusCounts
	MatchingAllocations int    `json:"matchingAllocations"`
	CoveredAddresses    uint64 `json:"coveredAddresses"`
}

func filteredSummary(blocks []Block, allocs []allocSpan, filters MapFilters) FilteredSummary {
	var out FilteredSummary
	for _, b := range blocks {
		if spanMatchesFilter(b.start, b.end, allocs, filters) {
			out.add(b.Status)
		}
	}
	for _, a := range allocs {
		if !allocMatchesFilter(a, filters) {
			continue
		}
		out.MatchingAllocations++
		out.CoveredAddresses += uint64(a.end-a.start) + 1
	}
	return out
}
