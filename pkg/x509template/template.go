// Package x509template builds and recognizes the three certificate roles
// this system issues: CA, Host and User. Each template is a fixed set of
// X.509 extensions; recognition works by replaying a template's extension
// set against a fixed reference subject and comparing critical flags and
// (for KeyUsage) the enabled-bit set against the real certificate.
//
// Extensions are built by hand into pkix.Extension values rather than
// through crypto/x509's high-level Certificate fields, because every
// extension here must be marked critical and the stdlib only does that for
// a subset of its built-in fields.
package x509template

import (
	"encoding/asn1"

	"github.com/curtapp/DPKI/pkg/names"
)

var (
	oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtKeyUsage      = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}

	oidExtKeyUsageServerAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	oidExtKeyUsageClientAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
)

// KeyUsage bit positions per RFC 5280 §4.2.1.3, matching the argument order
// the original CA/Host/User templates enable bits in.
const (
	kuDigitalSignature = iota
	kuContentCommitment
	kuKeyEncipherment
	kuDataEncipherment
	kuKeyAgreement
	kuKeyCertSign
	kuCRLSign
	kuEncipherOnly
	kuDecipherOnly
)

// ExtVal is one extension a template produces: its value already DER
// encoded, paired with the criticality the template demands.
type ExtVal struct {
	OID      asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

// Options parameterizes extension construction that depends on arguments
// beyond the subject name.
type Options struct {
	// PathLength is the CA template's path length constraint; nil means
	// unconstrained.
	PathLength *int
	// SAN lists extra DNS names the Host template should add alongside
	// "localhost" and the subject's own domain.
	SAN []string
}

// Template is one of the three certificate roles this system issues.
type Template interface {
	Name() string
	MakeExtensions(subject names.DN, opts Options) ([]ExtVal, error)
	// CheckExtVal inspects one already-decoded extension value beyond the
	// generic critical/KeyUsage-bitset checks Matches performs; templates
	// that have nothing extra to check return true.
	CheckExtVal(oid asn1.ObjectIdentifier, value []byte) bool
}

// referenceSubject is the fixed stand-in subject Matches replays a
// template's extension builder against. Only the critical flag and
// KeyUsage bitset are compared, so the exact values this subject produces
// (the SAN content, in particular) never affect the outcome.
var referenceSubject = names.MustParse("UID=user, DC=test")

// Matches reports whether exts, the extensions of an actual certificate or
// CSR, is consistent with tmpl: every extension tmpl would produce is
// present with an equal critical flag, passes tmpl's CheckExtVal, and (for
// KeyUsage) has the same set of enabled bits.
func Matches(tmpl Template, exts []Extension) bool {
	produced, err := tmpl.MakeExtensions(referenceSubject, Options{})
	if err != nil {
		return false
	}
	for _, ev := range produced {
		target, ok := findExtension(exts, ev.OID)
		if !ok || target.Critical != ev.Critical {
			return false
		}
		if !tmpl.CheckExtVal(ev.OID, target.Value) {
			return false
		}
		if ev.OID.Equal(oidKeyUsage) {
			wantBits, err := decodeKeyUsageBits(ev.Value)
			if err != nil {
				return false
			}
			gotBits, err := decodeKeyUsageBits(target.Value)
			if err != nil || wantBits != gotBits {
				return false
			}
		}
	}
	return true
}

// Extension mirrors the fields of crypto/x509/pkix.Extension that Matches
// needs, so this package does not have to import pkix just to read an OID,
// a critical flag and a value.
type Extension struct {
	OID      asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

func findExtension(exts []Extension, oid asn1.ObjectIdentifier) (Extension, bool) {
	for _, e := range exts {
		if e.OID.Equal(oid) {
			return e, true
		}
	}
	return Extension{}, false
}

// Roles lists the templates MatchesTo tries, in recognition order.
var Roles = []Template{CA{}, Host{}, User{}}

// MatchesTo attempts each template in Roles and returns the first match.
func MatchesTo(exts []Extension) (Template, bool) {
	for _, tmpl := range Roles {
		if Matches(tmpl, exts) {
			return tmpl, true
		}
	}
	return nil, false
}

func decodeKeyUsageBits(der []byte) ([9]bool, error) {
	var bs asn1.BitString
	if _, err := asn1.Unmarshal(der, &bs); err != nil {
		return [9]bool{}, err
	}
	var bits [9]bool
	for i := range bits {
		bits[i] = bs.At(i) != 0
	}
	return bits, nil
}

func encodeKeyUsage(enabled ...int) ([]byte, error) {
	var bits [9]bool
	for _, b := range enabled {
		bits[b] = true
	}
	last := -1
	for i, v := range bits {
		if v {
			last = i
		}
	}
	bs := asn1.BitString{BitLength: last + 1}
	if last >= 0 {
		bs.Bytes = make([]byte, (last/8)+1)
		for i := 0; i <= last; i++ {
			if bits[i] {
				bs.Bytes[i/8] |= 1 << uint(7-i%8)
			}
		}
	}
	return asn1.Marshal(bs)
}

func encodeBasicConstraints(isCA bool, pathLen *int) ([]byte, error) {
	if pathLen != nil {
		return asn1.Marshal(struct {
			IsCA       bool `asn1:"optional"`
			MaxPathLen int  `asn1:"optional"`
		}{IsCA: isCA, MaxPathLen: *pathLen})
	}
	return asn1.Marshal(struct {
		IsCA bool `asn1:"optional"`
	}{IsCA: isCA})
}

func encodeExtKeyUsage(oids ...asn1.ObjectIdentifier) ([]byte, error) {
	return asn1.Marshal(oids)
}

// generalName is a single GeneralName CHOICE entry: dNSName is tag 2,
// rfc822Name is tag 1, both context-specific primitive strings.
func generalName(tag int, value string) asn1.RawValue {
	return asn1.RawValue{Tag: tag, Class: asn1.ClassContextSpecific, Bytes: []byte(value)}
}

func encodeSubjectAltName(dnsNames, emails []string) ([]byte, error) {
	var genNames []asn1.RawValue
	for _, n := range dnsNames {
		genNames = append(genNames, generalName(2, n))
	}
	for _, e := range emails {
		genNames = append(genNames, generalName(1, e))
	}
	return asn1.Marshal(genNames)
}

func isBasicConstraintsCA(der []byte) bool {
	var bc struct {
		IsCA       bool `asn1:"optional"`
		MaxPathLen int  `asn1:"optional"`
	}
	if _, err := asn1.Unmarshal(der, &bc); err != nil {
		return false
	}
	return bc.IsCA
}
