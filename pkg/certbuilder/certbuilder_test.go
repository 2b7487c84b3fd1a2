package certbuilder

import (
	"testing"
	"time"

	"github.com/curtapp/DPKI/pkg/csp"
	"github.com/curtapp/DPKI/pkg/names"
	"github.com/curtapp/DPKI/pkg/x509template"
)

func mustKey(t *testing.T) csp.Key {
	t.Helper()
	key, err := csp.Default.KeyGen(csp.KeyOpts{Algorithm: csp.AlgEd25519, Private: true})
	if err != nil {
		t.Fatalf("KeyGen: %v", err)
	}
	return key
}

func TestCreateAndDecodeCSR(t *testing.T) {
	subject := names.MustParse("CN=First Wonderland CA, OU=Data center, C=WN, O=The Corporation")
	key := mustKey(t)

	pemBytes, err := CreateCSR(subject, key, x509template.CA{}, x509template.Options{})
	if err != nil {
		t.Fatalf("CreateCSR: %v", err)
	}
	csr, err := DecodeCSR(pemBytes)
	if err != nil {
		t.Fatalf("DecodeCSR: %v", err)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	got, err := CSRSubjectDN(csr)
	if err != nil {
		t.Fatalf("CSRSubjectDN: %v", err)
	}
	if !got.Equal(subject) {
		t.Fatalf("subject round trip mismatch: got %q want %q", got.String(), subject.String())
	}
}

func TestApplyCSRNormalizesValidityWindow(t *testing.T) {
	subject := names.MustParse("CN=web1, DC=example, DC=com")
	issuerKey := mustKey(t)
	issuerSubject := names.MustParse("CN=Root Wonderland CA, C=WN")

	issuerCSR, err := CreateCSR(issuerSubject, issuerKey, x509template.CA{}, x509template.Options{})
	if err != nil {
		t.Fatalf("CreateCSR(issuer): %v", err)
	}
	parsedIssuerCSR, err := DecodeCSR(issuerCSR)
	if err != nil {
		t.Fatalf("DecodeCSR(issuer): %v", err)
	}
	issuerCertPEM, err := SelfSign(parsedIssuerCSR, issuerKey, time.Now().Add(365*24*time.Hour), nil)
	if err != nil {
		t.Fatalf("SelfSign(issuer): %v", err)
	}
	issuerCert, err := DecodeCertificate(issuerCertPEM)
	if err != nil {
		t.Fatalf("DecodeCertificate(issuer): %v", err)
	}

	hostKey := mustKey(t)
	hostCSRPEM, err := CreateCSR(subject, hostKey, x509template.Host{}, x509template.Options{})
	if err != nil {
		t.Fatalf("CreateCSR(host): %v", err)
	}
	hostCSR, err := DecodeCSR(hostCSRPEM)
	if err != nil {
		t.Fatalf("DecodeCSR(host): %v", err)
	}

	notAfter := time.Date(2030, 6, 15, 13, 37, 0, 0, time.UTC)
	certPEM, err := ApplyCSR(hostCSR, issuerCert, issuerKey, notAfter, nil)
	if err != nil {
		t.Fatalf("ApplyCSR: %v", err)
	}
	cert, err := DecodeCertificate(certPEM)
	if err != nil {
		t.Fatalf("DecodeCertificate: %v", err)
	}

	if cert.NotAfter.Hour() != 23 || cert.NotAfter.Minute() != 59 || cert.NotAfter.Second() != 59 {
		t.Fatalf("expected not-after normalized to 23:59:59 UTC, got %v", cert.NotAfter)
	}
	if cert.NotBefore.Hour() != 0 || cert.NotBefore.Minute() != 0 || cert.NotBefore.Second() != 0 {
		t.Fatalf("expected not-before normalized to 00:00:00 UTC, got %v", cert.NotBefore)
	}
	if len(cert.SerialNumber.Bytes()) == 0 || len(cert.SerialNumber.Bytes()) > 20 {
		t.Fatalf("expected a serial number derived from 20 random bytes, got %d bytes", len(cert.SerialNumber.Bytes()))
	}

	gotSubject, err := SubjectDN(cert)
	if err != nil {
		t.Fatalf("SubjectDN: %v", err)
	}
	if !gotSubject.Equal(subject) {
		t.Fatalf("issued certificate subject mismatch: got %q want %q", gotSubject.String(), subject.String())
	}
}
