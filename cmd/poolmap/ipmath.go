package main

import (
	"net/netip"
	"strconv"
	"strings"
)

// PoolRange is a CIDR decoded into the uint32 address space. Size is kept
// as uint64 so a /0 does not wrap.
type PoolRange struct {
	Start  uint32
	End    uint32
	Prefix int
	Size   uint64
}

func ipToU32(ip string) uint32 {
	var out uint32
	for _, part := range strings.SplitN(ip, ".", 4) {
		n, _ := strconv.Atoi(part)
		out = out<<8 | uint32(n&0xFF)
	}
	return out
}

func u32ToIP(v uint32) string {
	return itoa(int(v>>24&0xFF)) + "." + itoa(int(v>>16&0xFF)) + "." + itoa(int(v>>8&0xFF)) + "." + itoa(int(v&0xFF))
}

// parsePoolCIDR assumes a well-formed IPv4 CIDR; admin-authored input is
// validated at the API boundary before it reaches this path.
func parsePoolCIDR(cidr string) PoolRange {
	ipPart, prefixPart, _ := strings.Cut(cidr, "/")
	prefix, _ := strconv.Atoi(prefixPart)
	var mask uint32
	if prefix > 0 {
		mask = 0xFFFFFFFF << (32 - prefix)
	}
	start := ipToU32(ipPart) & mask
	size := uint64(1) << (32 - prefix)
	return PoolRange{
		Start:  start,
		End:    start + uint32(size-1),
		Prefix: prefix,
		Size:   size,
	}
}

func (p PoolRange) String() string {
	return u32ToIP(p.Start) + "/" + itoa(p.Prefix)
}

// Closed-interval overlap, inclusive on both ends.
func rangesOverlap(aStart, aEnd, bStart, bEnd uint32) bool {
	return aStart <= bEnd && bStart <= aEnd
}

func rangeContains(outer PoolRange, start, end uint32) bool {
	return start >= outer.Start && end <= outer.End
}

// helpers
func ipv4ToU32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func itoa(i int) string { return itoa64(int64(i)) }
func itoa64(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [32]byte
	n := len(buf)
	for i > 0 {
		n--
		buf[n] = byte('0' + (i % 10))
		i /= 10
	}
	if neg {
		n--
		buf[n] = '-'
	}
	return string(buf[n:])
}
