package resources

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"net/netip"
)

// RFC 3779 certificate extension OIDs, RFC 3779 §3/§4.
var (
	OIDIPAddrBlocks       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 7}
	OIDAutonomousSysIDs   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 8}
)

// ErrMalformed is returned when an RFC 3779 extension doesn't fit the
// expected ASN.1 shape.
var ErrMalformed = errors.New("resources: malformed RFC 3779 extension")

// FromCertificate builds a Set from cert's IP address block and AS
// identifier extensions, if present. A certificate carrying neither
// extension yields an empty, non-inheriting Set.
func FromCertificate(cert *x509.Certificate) (*Set, error) {
	s := NewSet()

	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(OIDIPAddrBlocks):
			if err := parseIPAddrBlocks(ext.Value, s); err != nil {
				return nil, err
			}
		case ext.Id.Equal(OIDAutonomousSysIDs):
			if err := parseASIdentifiers(ext.Value, s); err != nil {
				return nil, err
			}
		}
	}

	s.Normalize()
	return s, nil
}

// rawIPAddressFamily mirrors RFC 3779 §2.2.3's IPAddressFamily.
type rawIPAddressFamily struct {
	AddressFamily    []byte
	IPAddressChoice  asn1.RawValue
}

func parseIPAddrBlocks(raw []byte, s *Set) error {
	var families []rawIPAddressFamily
	if _, err := asn1.Unmarshal(raw, &families); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	for _, fam := range families {
		if len(fam.AddressFamily) < 1 {
			return ErrMalformed
		}
		afi := int(fam.AddressFamily[0])
		if len(fam.AddressFamily) >= 2 {
			afi = int(fam.AddressFamily[0])<<8 | int(fam.AddressFamily[1])
		}
		size := addressSize(afi)
		if size == 0 {
			continue // unknown AFI, skip
		}

		choice := fam.IPAddressChoice
		switch {
		case choice.Tag == asn1.TagNull:
			// "inherit": defer to issuer.
			if size == 4 {
				s.InheritIPv4 = true
			} else {
				s.InheritIPv6 = true
			}
		case choice.Class == asn1.ClassUniversal && choice.Tag == asn1.TagSequence:
			var items []asn1.RawValue
			if _, err := asn1.Unmarshal(choice.FullBytes, &items); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			for _, item := range items {
				lo, hi, err := decodeIPAddressOrRange(item, size)
				if err != nil {
					return err
				}
				s.AddIPRange(lo, hi)
			}
		default:
			return ErrMalformed
		}
	}
	return nil
}

func addressSize(afi int) int {
	switch afi {
	case 1:
		return 4
	case 2:
		return 16
	default:
		return 0
	}
}

// decodeIPAddressOrRange decodes one IPAddressOrRange: either a BIT
// STRING addressPrefix, or a SEQUENCE { min, max } addressRange.
func decodeIPAddressOrRange(item asn1.RawValue, size int) (lo, hi netip.Addr, err error) {
	switch {
	case item.Class == asn1.ClassUniversal && item.Tag == asn1.TagBitString:
		var bs asn1.BitString
		if _, err := asn1.Unmarshal(item.FullBytes, &bs); err != nil {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return bitStringAddr(bs, size, false), bitStringAddr(bs, size, true), nil
	case item.Class == asn1.ClassUniversal && item.Tag == asn1.TagSequence:
		var r struct {
			Min asn1.BitString
			Max asn1.BitString
		}
		if _, err := asn1.Unmarshal(item.FullBytes, &r); err != nil {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return bitStringAddr(r.Min, size, false), bitStringAddr(r.Max, size, true), nil
	default:
		return netip.Addr{}, netip.Addr{}, ErrMalformed
	}
}

// bitStringAddr expands an RFC 3779 IPAddress BIT STRING to a full-width
// address: the stored bits taken as-is, with any bits past the encoded
// length filled with 0 (low, for a range minimum) or 1 (high, for a
// range maximum / the top of a prefix).
func bitStringAddr(bs asn1.BitString, size int, high bool) netip.Addr {
	buf := make([]byte, size)
	copy(buf, bs.Bytes)

	if high {
		for i := len(bs.Bytes); i < size; i++ {
			buf[i] = 0xff
		}
		totalBits := len(bs.Bytes) * 8
		unused := totalBits - bs.BitLength
		if unused > 0 && len(bs.Bytes) > 0 {
			mask := byte(1<<uint(unused)) - 1
			buf[len(bs.Bytes)-1] |= mask
		}
	}

	addr, _ := netip.AddrFromSlice(buf)
	return addr
}

// rawASIdentifiers mirrors RFC 3779 §3.2.3's ASIdentifiers; the
// resource-discovery distribution identifier field is ignored (not used
// by RPKI).
type rawASIdentifiers struct {
	ASNum asn1.RawValue `asn1:"optional,explicit,tag:0"`
	RDI   asn1.RawValue `asn1:"optional,explicit,tag:1"`
}

func parseASIdentifiers(raw []byte, s *Set) error {
	var ids rawASIdentifiers
	if _, err := asn1.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ids.ASNum.Tag == 0 && ids.ASNum.FullBytes == nil {
		return nil
	}

	var choice asn1.RawValue
	if _, err := asn1.Unmarshal(ids.ASNum.Bytes, &choice); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case choice.Tag == asn1.TagNull:
		s.InheritASN = true
	case choice.Class == asn1.ClassUniversal && choice.Tag == asn1.TagSequence:
		var items []asn1.RawValue
		if _, err := asn1.Unmarshal(choice.FullBytes, &items); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for _, item := range items {
			lo, hi, err := decodeASIdOrRange(item)
			if err != nil {
				return err
			}
			s.AddASRange(lo, hi)
		}
	default:
		return ErrMalformed
	}
	return nil
}

func decodeASIdOrRange(item asn1.RawValue) (lo, hi uint32, err error) {
	switch {
	case item.Class == asn1.ClassUniversal && item.Tag == asn1.TagInteger:
		var n int64
		if _, err := asn1.Unmarshal(item.FullBytes, &n); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return uint32(n), uint32(n), nil
	case item.Class == asn1.ClassUniversal && item.Tag == asn1.TagSequence:
		var r struct {
			Min int64
			Max int64
		}
		if _, err := asn1.Unmarshal(item.FullBytes, &r); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return uint32(r.Min), uint32(r.Max), nil
	default:
		return 0, 0, ErrMalformed
	}
}
