package resources

import (
	"math/big"
	"net/netip"
	"sort"
)

// ASRange is an inclusive range of autonomous system numbers.
type ASRange struct {
	Min, Max uint32
}

// ipRange is an inclusive range of addresses within one address family,
// compared as big.Int so IPv6 ranges that don't align to a CIDR prefix
// (RFC 3779 permits arbitrary ranges) are handled uniformly with IPv4.
type ipRange struct {
	min, max *big.Int
}

// Set is the RFC 3779 resource extension content for one certificate:
// independent IPv4, IPv6, and AS-number extensions, each either an
// explicit list of ranges or "inherit" (defer to the issuer's set).
type Set struct {
	InheritASN  bool
	InheritIPv4 bool
	InheritIPv6 bool

	asRanges []ASRange
	ipv4     []ipRange
	ipv6     []ipRange
}

// NewSet returns an empty, non-inheriting resource set.
func NewSet() *Set {
	return &Set{}
}

// AddASRange records an AS-number range. lo must be <= hi.
func (s *Set) AddASRange(lo, hi uint32) {
	s.asRanges = append(s.asRanges, ASRange{Min: lo, Max: hi})
}

// AddPrefix records an IP prefix as a min/max address range.
func (s *Set) AddPrefix(p netip.Prefix) {
	p = p.Masked()
	lo := p.Addr()
	hi := lastAddr(p)
	r := ipRange{min: addrToInt(lo), max: addrToInt(hi)}
	if lo.Is4() {
		s.ipv4 = append(s.ipv4, r)
	} else {
		s.ipv6 = append(s.ipv6, r)
	}
}

// AddIPRange records an arbitrary (not necessarily CIDR-aligned) address
// range, as RFC 3779 permits.
func (s *Set) AddIPRange(lo, hi netip.Addr) {
	r := ipRange{min: addrToInt(lo), max: addrToInt(hi)}
	if lo.Is4() {
		s.ipv4 = append(s.ipv4, r)
	} else {
		s.ipv6 = append(s.ipv6, r)
	}
}

// Normalize sorts and merges overlapping or adjacent ranges in place, so
// Contains can use a single linear scan.
func (s *Set) Normalize() {
	sortASRanges(s.asRanges)
	s.asRanges = mergeASRanges(s.asRanges)
	sort.Slice(s.ipv4, func(i, j int) bool { return s.ipv4[i].min.Cmp(s.ipv4[j].min) < 0 })
	s.ipv4 = mergeIPRanges(s.ipv4)
	sort.Slice(s.ipv6, func(i, j int) bool { return s.ipv6[i].min.Cmp(s.ipv6[j].min) < 0 })
	s.ipv6 = mergeIPRanges(s.ipv6)
}

// Contains reports whether every resource in other is covered by s: the
// RFC 3779 subset check spec.md §4.6 requires between issuer and subject,
// and spec.md §4.9 requires between an EE certificate and its ROA
// prefixes. An "inherit" family in other always passes (it defers to its
// own issuer's resources, which is a separate check performed by the
// verification engine while walking the chain); an "inherit" family in s
// matches anything, since it stands for "whatever the issuer holds".
func (s *Set) Contains(other *Set) bool {
	if !other.InheritASN && !s.InheritASN {
		if !asRangesContain(s.asRanges, other.asRanges) {
			return false
		}
	}
	if !other.InheritIPv4 && !s.InheritIPv4 {
		if !ipRangesContain(s.ipv4, other.ipv4) {
			return false
		}
	}
	if !other.InheritIPv6 && !s.InheritIPv6 {
		if !ipRangesContain(s.ipv6, other.ipv6) {
			return false
		}
	}
	return true
}

// Empty reports whether the set carries no resources in any family and
// does not inherit any, the state an EE certificate's resource set must
// never be in once canonicalized (spec.md §4.9's "canonicalised" step).
func (s *Set) Empty() bool {
	return !s.InheritASN && !s.InheritIPv4 && !s.InheritIPv6 &&
		len(s.asRanges) == 0 && len(s.ipv4) == 0 && len(s.ipv6) == 0
}

func lastAddr(p netip.Prefix) netip.Addr {
	addr := p.Addr()
	bits := addr.BitLen()
	ones := p.Bits()
	buf := addr.AsSlice()
	hostBits := bits - ones
	for i := len(buf) - 1; hostBits > 0; i-- {
		if hostBits >= 8 {
			buf[i] = 0xff
			hostBits -= 8
		} else {
			buf[i] |= (1 << uint(hostBits)) - 1
			hostBits = 0
		}
	}
	last, _ := netip.AddrFromSlice(buf)
	if addr.Is4() {
		return last.Unmap()
	}
	return last
}

func addrToInt(a netip.Addr) *big.Int {
	return new(big.Int).SetBytes(a.AsSlice())
}

func sortASRanges(rs []ASRange) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Min < rs[j].Min })
}

func mergeASRanges(rs []ASRange) []ASRange {
	if len(rs) == 0 {
		return rs
	}
	out := []ASRange{rs[0]}
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.Min <= last.Max+1 {
			if r.Max > last.Max {
				last.Max = r.Max
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func mergeIPRanges(rs []ipRange) []ipRange {
	if len(rs) == 0 {
		return rs
	}
	out := []ipRange{rs[0]}
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.min.Cmp(new(big.Int).Add(last.max, big.NewInt(1))) <= 0 {
			if r.max.Cmp(last.max) > 0 {
				last.max = r.max
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// asRangesContain reports whether every range in want is covered by the
// (sorted, merged) ranges in have.
func asRangesContain(have, want []ASRange) bool {
	for _, w := range want {
		if !asRangeCovered(have, w) {
			return false
		}
	}
	return true
}

func asRangeCovered(have []ASRange, w ASRange) bool {
	for _, h := range have {
		if h.Min <= w.Min && w.Max <= h.Max {
			return true
		}
	}
	return false
}

func ipRangesContain(have, want []ipRange) bool {
	for _, w := range want {
		if !ipRangeCovered(have, w) {
			return false
		}
	}
	return true
}

func ipRangeCovered(have []ipRange, w ipRange) bool {
	for _, h := range have {
		if h.min.Cmp(w.min) <= 0 && w.max.Cmp(h.max) <= 0 {
			return true
		}
	}
	return false
}
