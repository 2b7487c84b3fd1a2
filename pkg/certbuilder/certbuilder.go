// Package certbuilder turns a Distinguished Name and a template into a
// PKCS#10 certificate signing request, and turns a CSR plus an issuer into
// a signed certificate. Subjects are written through crypto/x509's
// RawSubject/RawIssuer override rather than pkix.Name, since pkix.Name's
// fixed fields cannot express the arbitrary attribute types (DC, UID,
// STREET, ...) or exact RDN grouping our DN model carries.
package certbuilder

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/curtapp/DPKI/pkg/csp"
	"github.com/curtapp/DPKI/pkg/names"
	"github.com/curtapp/DPKI/pkg/x509template"
)

const serialBytes = 20

var attributeOID = map[string]asn1.ObjectIdentifier{
	"CN":     {2, 5, 4, 3},
	"C":      {2, 5, 4, 6},
	"L":      {2, 5, 4, 7},
	"ST":     {2, 5, 4, 8},
	"STREET": {2, 5, 4, 9},
	"O":      {2, 5, 4, 10},
	"OU":     {2, 5, 4, 11},
	"DC":     {0, 9, 2342, 19200300, 100, 1, 25},
	"UID":    {0, 9, 2342, 19200300, 100, 1, 1},
}

type atv struct {
	Type  asn1.ObjectIdentifier
	Value string `asn1:"utf8"`
}

func marshalRDN(rdn names.RDN) ([]byte, error) {
	atvs := make([]atv, len(rdn))
	for i, a := range rdn {
		oid, ok := attributeOID[a.Type]
		if !ok {
			return nil, fmt.Errorf("certbuilder: unknown attribute type %q", a.Type)
		}
		atvs[i] = atv{Type: oid, Value: a.Value}
	}
	return asn1.MarshalWithParams(atvs, "set")
}

// marshalName encodes dn as an ASN.1 RDNSequence. RFC 4514 string form
// lists RDNs leaf-first while the ASN.1 sequence is root-first, so the
// order is reversed here relative to dn.RDNs.
func marshalName(dn names.DN) ([]byte, error) {
	var content []byte
	for i := len(dn.RDNs) - 1; i >= 0; i-- {
		b, err := marshalRDN(dn.RDNs[i])
		if err != nil {
			return nil, err
		}
		content = append(content, b...)
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      content,
	})
}

func toPkixExtensions(evs []x509template.ExtVal) []pkix.Extension {
	out := make([]pkix.Extension, len(evs))
	for i, ev := range evs {
		out[i] = pkix.Extension{Id: ev.OID, Critical: ev.Critical, Value: ev.Value}
	}
	return out
}

// CreateCSR builds and signs a PKCS#10 request for subject, with tmpl's
// extensions attached as an extensionRequest attribute, using key as the
// private signer.
func CreateCSR(subject names.DN, key csp.Key, tmpl x509template.Template, opts x509template.Options) ([]byte, error) {
	if key.Algorithm() != csp.AlgEd25519 {
		return nil, fmt.Errorf("certbuilder: unsupported key algorithm %q", key.Algorithm())
	}
	priv := key.Private()
	if priv == nil {
		return nil, fmt.Errorf("certbuilder: key has no private material")
	}

	evs, err := tmpl.MakeExtensions(subject, opts)
	if err != nil {
		return nil, fmt.Errorf("certbuilder: build extensions: %w", err)
	}
	rawSubject, err := marshalName(subject)
	if err != nil {
		return nil, fmt.Errorf("certbuilder: marshal subject: %w", err)
	}

	req := &x509.CertificateRequest{
		RawSubject:      rawSubject,
		ExtraExtensions: toPkixExtensions(evs),
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, req, ed25519.PrivateKey(priv))
	if err != nil {
		return nil, fmt.Errorf("certbuilder: create CSR: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

// ApplyCSR issues a certificate from csr, signed by issuerKey as
// issuerCert. notBefore defaults to today (UTC) when nil; it is normalized
// to 00:00:00 UTC, and notAfter to 23:59:59 UTC, of their respective dates.
// The serial number is 20 random bytes.
func ApplyCSR(csr *x509.CertificateRequest, issuerCert *x509.Certificate, issuerKey csp.Key, notAfter time.Time, notBefore *time.Time) ([]byte, error) {
	if issuerKey.Algorithm() != csp.AlgEd25519 {
		return nil, fmt.Errorf("certbuilder: unsupported issuer key algorithm %q", issuerKey.Algorithm())
	}
	priv := issuerKey.Private()
	if priv == nil {
		return nil, fmt.Errorf("certbuilder: issuer key has no private material")
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	cert := &x509.Certificate{
		SerialNumber:    serial,
		RawSubject:      csr.RawSubject,
		ExtraExtensions: csr.Extensions,
		NotBefore:       normalizeNotBefore(notBefore),
		NotAfter:        normalizeNotAfter(notAfter),
	}

	der, err := x509.CreateCertificate(rand.Reader, cert, issuerCert, csr.PublicKey, ed25519.PrivateKey(priv))
	if err != nil {
		return nil, fmt.Errorf("certbuilder: create certificate: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// SelfSign issues a self-signed root certificate from csr, i.e. one whose
// issuer is its own subject. Used once, at genesis, to mint the namespace
// root; every other certificate is issued through ApplyCSR against an
// existing parent.
func SelfSign(csr *x509.CertificateRequest, key csp.Key, notAfter time.Time, notBefore *time.Time) ([]byte, error) {
	if key.Algorithm() != csp.AlgEd25519 {
		return nil, fmt.Errorf("certbuilder: unsupported key algorithm %q", key.Algorithm())
	}
	priv := key.Private()
	if priv == nil {
		return nil, fmt.Errorf("certbuilder: key has no private material")
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	cert := &x509.Certificate{
		SerialNumber:    serial,
		RawSubject:      csr.RawSubject,
		ExtraExtensions: csr.Extensions,
		NotBefore:       normalizeNotBefore(notBefore),
		NotAfter:        normalizeNotAfter(notAfter),
	}
	der, err := x509.CreateCertificate(rand.Reader, cert, cert, csr.PublicKey, ed25519.PrivateKey(priv))
	if err != nil {
		return nil, fmt.Errorf("certbuilder: self-sign: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

func randomSerial() (*big.Int, error) {
	buf := make([]byte, serialBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("certbuilder: generate serial: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

func normalizeNotBefore(t *time.Time) time.Time {
	base := time.Now().UTC()
	if t != nil {
		base = t.UTC()
	}
	y, m, d := base.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeNotAfter(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// DecodeCSR parses a PEM-encoded PKCS#10 request.
func DecodeCSR(pemBytes []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("certbuilder: not a CERTIFICATE REQUEST PEM block")
	}
	return x509.ParseCertificateRequest(block.Bytes)
}

// DecodeCertificate parses a PEM-encoded certificate.
func DecodeCertificate(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certbuilder: not a CERTIFICATE PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// SubjectDN extracts the DN model from a certificate's raw subject bytes,
// which this package always populates via RawSubject rather than the
// limited pkix.Name fields.
func SubjectDN(cert *x509.Certificate) (names.DN, error) {
	return parseRDNSequence(cert.RawSubject)
}

// CSRSubjectDN is SubjectDN's counterpart for certificate requests.
func CSRSubjectDN(csr *x509.CertificateRequest) (names.DN, error) {
	return parseRDNSequence(csr.RawSubject)
}

// IssuerDN extracts the DN model from a certificate's raw issuer bytes.
func IssuerDN(cert *x509.Certificate) (names.DN, error) {
	return parseRDNSequence(cert.RawIssuer)
}

var attributeName = func() map[string]string {
	m := make(map[string]string, len(attributeOID))
	for name, oid := range attributeOID {
		m[oid.String()] = name
	}
	return m
}()

func parseRDNSequence(raw []byte) (names.DN, error) {
	var seq []asn1.RawValue
	if _, err := asn1.Unmarshal(raw, &seq); err != nil {
		return names.DN{}, fmt.Errorf("certbuilder: parse RDNSequence: %w", err)
	}
	rdns := make([]names.RDN, len(seq))
	for i, setRaw := range seq {
		var atvs []atv
		if _, err := asn1.UnmarshalWithParams(setRaw.FullBytes, &atvs, "set"); err != nil {
			return names.DN{}, fmt.Errorf("certbuilder: parse RDN: %w", err)
		}
		rdn := make(names.RDN, len(atvs))
		for j, a := range atvs {
			typ, ok := attributeName[a.Type.String()]
			if !ok {
				typ = a.Type.String()
			}
			rdn[j] = names.Atom{Type: typ, Value: a.Value}
		}
		rdns[i] = rdn
	}
	// Reverse back to leaf-first order to match names.Parse's convention.
	for i, j := 0, len(rdns)-1; i < j; i, j = i+1, j-1 {
		rdns[i], rdns[j] = rdns[j], rdns[i]
	}
	return names.DN{RDNs: rdns}, nil
}
