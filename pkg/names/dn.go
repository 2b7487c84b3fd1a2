// Package names implements the Distinguished Name model used to parse,
// serialize and compare X.501/RFC 4514 style subjects, and to project a DN
// onto a naming hierarchy so that a certificate authority can decide whether
// it is positioned to sign a given request.
package names

import (
	"fmt"
	"strings"
)

// Atom is a single attribute=value pair inside an RDN.
type Atom struct {
	Type  string
	Value string
}

// RDN is a relative distinguished name: one or more atoms joined by '+'.
type RDN []Atom

// DN is an ordered sequence of RDNs, leaf-first (the way these subjects are
// conventionally written: "CN=leaf, ..., C=root").
type DN struct {
	RDNs []RDN
}

// Hierarchy is an ordered list of attribute types defining one naming axis.
// Order[0] is the root anchor, Order[len-1] is the head (the leaf-most atom
// type belonging to this axis).
type Hierarchy struct {
	Name  string
	Order []string
}

var (
	Country = Hierarchy{Name: "Country", Order: []string{"C", "ST", "L", "STREET", "CN"}}
	Domain  = Hierarchy{Name: "Domain", Order: []string{"DC", "UID"}}
	Org     = Hierarchy{Name: "Organization", Order: []string{"O", "OU", "CN"}}
)

// All lists every hierarchy axis that can_issue maximizes over.
var All = []Hierarchy{Country, Org, Domain}

func (h Hierarchy) contains(t string) bool {
	for _, o := range h.Order {
		if o == t {
			return true
		}
	}
	return false
}

func (h Hierarchy) root() string { return h.Order[0] }
func (h Hierarchy) head() string { return h.Order[len(h.Order)-1] }

// Parse decodes a comma/plus separated subject string into a DN. Commas and
// pluses may be backslash-escaped to appear literally inside a value.
// Attribute types are upper-cased; surrounding whitespace around RDNs,
// atoms, types and values is trimmed.
func Parse(src string) (DN, error) {
	rdnStrs := splitUnescaped(src, ',')
	rdns := make([]RDN, 0, len(rdnStrs))
	for _, rs := range rdnStrs {
		rs = strings.TrimSpace(rs)
		if rs == "" {
			continue
		}
		atomStrs := splitUnescaped(rs, '+')
		rdn := make(RDN, 0, len(atomStrs))
		for _, as := range atomStrs {
			as = strings.TrimSpace(as)
			eq := strings.IndexByte(as, '=')
			if eq < 0 {
				return DN{}, fmt.Errorf("names: malformed atom %q", as)
			}
			typ := strings.ToUpper(strings.TrimSpace(as[:eq]))
			val := unescape(strings.TrimSpace(as[eq+1:]))
			if typ == "" {
				return DN{}, fmt.Errorf("names: empty attribute type in %q", as)
			}
			rdn = append(rdn, Atom{Type: typ, Value: val})
		}
		rdns = append(rdns, rdn)
	}
	return DN{RDNs: rdns}, nil
}

// MustParse is Parse, panicking on error. Intended for constants and tests.
func MustParse(src string) DN {
	dn, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return dn
}

func splitUnescaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			cur.WriteByte(c)
			escaped = true
		case c == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// String renders the DN back to its comma/plus separated form.
func (d DN) String() string {
	rdnParts := make([]string, len(d.RDNs))
	for i, rdn := range d.RDNs {
		atomParts := make([]string, len(rdn))
		for j, a := range rdn {
			atomParts[j] = a.Type + "=" + escapeValue(a.Value)
		}
		rdnParts[i] = strings.Join(atomParts, "+")
	}
	return strings.Join(rdnParts, ",")
}

func escapeValue(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, ",", "\\,")
	v = strings.ReplaceAll(v, "+", "\\+")
	return v
}

// Equal reports whether two DNs have identical RDN content and ordering.
func (d DN) Equal(other DN) bool {
	if len(d.RDNs) != len(other.RDNs) {
		return false
	}
	for i := range d.RDNs {
		if !rdnEqual(d.RDNs[i], other.RDNs[i]) {
			return false
		}
	}
	return true
}

func rdnEqual(a, b RDN) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Extract projects the DN onto a hierarchy: atoms whose type does not belong
// to the hierarchy are dropped, RDNs left empty by that filtering are
// removed, and (when base is true) a leading RDN whose first atom is the
// hierarchy's head is stripped, since it names the entity itself rather
// than its containing namespace. The second return value is false if the
// resulting projection is not rooted at the hierarchy's anchor attribute
// (or is empty).
func (d DN) Extract(h Hierarchy, base bool) (DN, bool) {
	filtered := make([]RDN, 0, len(d.RDNs))
	for _, rdn := range d.RDNs {
		var kept RDN
		for _, a := range rdn {
			if h.contains(a.Type) {
				kept = append(kept, a)
			}
		}
		if len(kept) > 0 {
			filtered = append(filtered, kept)
		}
	}
	if base && len(filtered) > 0 && filtered[0][0].Type == h.head() {
		filtered = filtered[1:]
	}
	if len(filtered) == 0 {
		return DN{}, false
	}
	last := filtered[len(filtered)-1]
	if last[0].Type != h.root() {
		return DN{}, false
	}
	return DN{RDNs: filtered}, true
}

// Distance measures how many hierarchy hops separate d (acting as the
// issuer, projected with its own leaf RDN dropped) from other (acting as
// the subject, projected in full). It is positive only when d's projection
// is a root-anchored suffix of other's, i.e. d genuinely contains other in
// this naming axis.
func (d DN) Distance(h Hierarchy, other DN) int {
	selfProj, ok := d.Extract(h, true)
	if !ok || len(selfProj.RDNs) == 0 {
		return 0
	}
	otherProj, ok := other.Extract(h, false)
	if !ok || len(otherProj.RDNs) == 0 {
		return 0
	}
	if len(selfProj.RDNs) > len(otherProj.RDNs) {
		return 0
	}
	offset := len(otherProj.RDNs) - len(selfProj.RDNs)
	for i, rdn := range selfProj.RDNs {
		if !rdnEqual(rdn, otherProj.RDNs[offset+i]) {
			return 0
		}
	}
	return len(otherProj.RDNs) - len(selfProj.RDNs)
}

// CanIssue computes the maximum distance between issuer and subject across
// every naming axis. A positive result is the number of hops from the
// issuer's namespace down to the subject; zero or negative means the
// issuer has no authority over this subject in any axis.
func CanIssue(issuer, subject DN) int {
	best := 0
	for _, h := range All {
		if dist := issuer.Distance(h, subject); dist > best {
			best = dist
		}
	}
	return best
}
