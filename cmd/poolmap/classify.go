package main

const (
	StatusFree           = "free"
	StatusReserved       = "reserved"
	StatusAllocatedNodes = "allocated-nodes"
	StatusAllocatedLB    = "allocated-lb"
	StatusMixed          = "mixed"
	StatusGateway        = "gateway"
)

const (
	AllocTypeNodes        = "nodes"
	AllocTypeLoadBalancer = "loadbalancer"
)

type ReservedEntry struct {
	CIDR        string `json:"cidr" yaml:"cidr"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// IPAllocation mirrors the CRD-style object the backend reports for a
// provisioned range (metadata/spec/status).
type IPAllocation struct {
	Metadata AllocationMetadata `json:"metadata" yaml:"metadata"`
	Spec     AllocationSpec     `json:"spec" yaml:"spec"`
	Status   AllocationStatus   `json:"status,omitempty" yaml:"status,omitempty"`
}

type AllocationMetadata struct {
	Name string `json:"name" yaml:"name"`
}

type AllocationSpec struct {
	TenantClusterRef *ClusterRef `json:"tenantClusterRef,omitempty" yaml:"tenantClusterRef,omitempty"`
	Type             string      `json:"type,omitempty" yaml:"type,omitempty"`
}

type ClusterRef struct {
	Name string `json:"name" yaml:"name"`
}

type AllocationStatus struct {
	StartAddress string `json:"startAddress,omitempty" yaml:"startAddress,omitempty"`
	EndAddress   string `json:"endAddress,omitempty" yaml:"endAddress,omitempty"`
}

type reservedSpan struct {
	start       uint32
	end         uint32
	description string
}

type allocSpan struct {
	start     uint32
	end       uint32
	name      string
	cluster   string
	allocType string
}

func buildReservedSpans(reserved []ReservedEntry) []reservedSpan {
	out := make([]reservedSpan, 0, len(reserved))
	for _, r := range reserved {
		pr := parsePoolCIDR(r.CIDR)
		out = append(out, reservedSpan{start: pr.Start, end: pr.End, description: r.Description})
	}
	return out
}

// buildAllocSpans drops allocations that have not reported both a start and
// an end address yet (not-yet-provisioned).
func buildAllocSpans(allocations []IPAllocation) []allocSpan {
	out := make([]allocSpan, 0, len(allocations))
	for _, a := range allocations {
		if a.Status.StartAddress == "" || a.Status.EndAddress == "" {
			continue
		}
		span := allocSpan{
			start:     ipToU32(a.Status.StartAddress),
			end:       ipToU32(a.Status.EndAddress),
			name:      a.Metadata.Name,
			allocType: normalizeAllocType(a.Spec.Type),
		}
		if a.Spec.TenantClusterRef != nil {
			span.cluster = a.Spec.TenantClusterRef.Name
		}
		out = append(out, span)
	}
	return out
}

func normalizeAllocType(raw string) string {
	if raw == AllocTypeLoadBalancer {
		return AllocTypeLoadBalancer
	}
	return AllocTypeNodes
}

// Block is one classified interval of the map; degenerate to a single
// address at per-IP granularity.
type Block struct {
	Start          string `json:"start"`
	End            string `json:"end"`
	Label          string `json:"label"`
	Status         string `json:"status"`
	AllocationName string `json:"allocationName,omitempty"`
	ClusterName    string `json:"clusterName,omitempty"`
	Description    string `json:"description,omitempty"`
	Dimmed         bool   `json:"dimmed,omitempty"`

	start uint32
	end   uint32
}

// classifySpan assigns exactly one status to [start,end]. The gateway
// short-circuit fires only at per-IP granularity for the pool's first
// address; coarser blocks containing the gateway classify by overlap alone.
// When several reserved ranges or allocations overlap the same span, the
// descriptive metadata comes from the last one in input order.
func classifySpan(start, end, poolStart uint32, individual bool, label string, reserved []reservedSpan, allocs []allocSpan) Block {
	b := Block{Start: u32ToIP(start), End: u32ToIP(end), Label: label, start: start, end: end}
	if individual && start == poolStart {
		b.Status = StatusGateway
		return b
	}
	var hasReserved, hasNodes, hasLB bool
	for _, r := range reserved {
		if rangesOverlap(start, end, r.start, r.end) {
			hasReserved = true
			b.Description = r.description
		}
	}
	for _, a := range allocs {
		if !rangesOverlap(start, end, a.start, a.end) {
			continue
		}
		if a.allocType == AllocTypeLoadBalancer {
			hasLB = true
		} else {
			hasNodes = true
		}
		b.AllocationName = a.name
		b.ClusterName = a.cluster
	}
	categories := 0
	status := StatusFree
	if hasReserved {
		categories++
		status = StatusReserved
	}
	if hasNodes {
		categories++
		status = StatusAllocatedNodes
	}
	if hasLB {
		categories++
		status = StatusAllocatedLB
	}
	if categories > 1 {
		status = StatusMixed
	}
	b.Status = status
	return b
}

func classifyIP(ip, poolStart uint32, reserved []reservedSpan, allocs []allocSpan) Block {
	return classifySpan(ip, ip, poolStart, true, u32ToIP(ip), reserved, allocs)
}
