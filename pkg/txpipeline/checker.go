package txpipeline

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/x509template"
)

var (
	csrPrefix  = []byte("-----BEGIN CERTIFICATE REQUEST-----")
	certPrefix = []byte("-----BEGIN CERTIFICATE-----")
)

// LocalCA is the CA service's view as far as the TX pipeline is concerned.
// Implemented by pkg/caservice; declared here to avoid a dependency cycle.
// can_issue is a per-node property (it depends on this node's own CA
// certificate, which differs node to node), so it must never change the
// returned Code — only whether DeliverTx schedules a local signer.
type LocalCA interface {
	OwnCertificate() (*x509.Certificate, bool)
	CanIssue(csr *x509.CertificateRequest) int
}

// Pipeline validates PEM-encoded transactions against the certificate
// store and the role templates. CheckTx and DeliverTx both call Validate;
// the only difference between the two phases is what DeliverTx does with
// an OK result's payload.
type Pipeline struct {
	certs   *store.CertRepository
	localCA LocalCA
	now     func() time.Time
}

// New builds a Pipeline. localCA may be nil, meaning this node has no CA
// key configured at all.
func New(certs *store.CertRepository, localCA LocalCA) *Pipeline {
	return &Pipeline{certs: certs, localCA: localCA, now: time.Now}
}

// Validate classifies and checks tx against q (the store connection for
// this call — the block's transaction during DeliverTx, or the bare DB
// handle during CheckTx).
func (p *Pipeline) Validate(ctx context.Context, q store.Querier, tx []byte) Result {
	switch {
	case bytes.HasPrefix(tx, csrPrefix):
		csr, err := certbuilder.DecodeCSR(tx)
		if err != nil {
			return fail(KindUnknownTx, fmt.Sprintf("decode CSR: %v", err))
		}
		return p.checkCSR(ctx, q, csr)
	case bytes.HasPrefix(tx, certPrefix):
		cert, err := certbuilder.DecodeCertificate(tx)
		if err != nil {
			return fail(KindUnknownTx, fmt.Sprintf("decode certificate: %v", err))
		}
		return p.checkCert(ctx, q, cert)
	default:
		return fail(KindUnknownTx, "transaction is neither a CSR nor a certificate")
	}
}

func (p *Pipeline) checkCSR(ctx context.Context, q store.Querier, csr *x509.CertificateRequest) Result {
	if err := csr.CheckSignature(); err != nil {
		return fail(KindWrongCSR, fmt.Sprintf("invalid CSR signature: %v", err))
	}
	if _, matched := x509template.MatchesTo(toTemplateExtensions(csr.Extensions)); !matched {
		return fail(KindWrongCSR, "CSR extensions do not match any known template")
	}

	subjectDN, err := certbuilder.CSRSubjectDN(csr)
	if err != nil {
		return fail(KindWrongCSR, fmt.Sprintf("decode CSR subject: %v", err))
	}

	existing, err := p.certs.GetBySubject(ctx, q, subjectDN.String(), p.now())
	switch {
	case err == store.ErrNotFound:
		// no conflicting cert; fall through
	case err != nil:
		return fail(KindWrongCSR, fmt.Sprintf("lookup subject: %v", err))
	default:
		existingCert, perr := certbuilder.DecodeCertificate([]byte(existing))
		if perr != nil {
			return fail(KindWrongCSR, fmt.Sprintf("decode stored cert: %v", perr))
		}
		if bytes.Equal(existingCert.RawSubjectPublicKeyInfo, csr.RawSubjectPublicKeyInfo) {
			return fail(KindAlreadyExists, "a valid certificate for this subject and public key already exists")
		}
		return fail(KindSubjectConflict, "a valid certificate for this subject exists under a different public key")
	}

	payload := Payload{}
	if p.localCA != nil {
		if _, hasOwnCert := p.localCA.OwnCertificate(); hasOwnCert && p.localCA.CanIssue(csr) >= 1 {
			payload.CSR = csr
		}
	}
	return ok(payload)
}

func (p *Pipeline) checkCert(ctx context.Context, q store.Querier, cert *x509.Certificate) Result {
	if _, matched := x509template.MatchesTo(toTemplateExtensions(cert.Extensions)); !matched {
		return fail(KindWrongCert, "certificate extensions do not match any known template")
	}

	_, err := p.certs.GetByPublicKey(ctx, q, cert.RawSubjectPublicKeyInfo, p.now())
	if err == nil {
		return fail(KindCertAlreadyExists, "a valid certificate with this public key already exists")
	}
	if err != store.ErrNotFound {
		return fail(KindWrongCert, fmt.Sprintf("lookup public key: %v", err))
	}

	issuerDN, err := certbuilder.IssuerDN(cert)
	if err != nil {
		return fail(KindWrongCert, fmt.Sprintf("decode issuer: %v", err))
	}
	if _, err := p.certs.GetBySubject(ctx, q, issuerDN.String(), p.now()); err != nil {
		return fail(KindIssuerUnknown, "issuer does not resolve to an existing valid certificate")
	}

	return ok(Payload{Cert: cert})
}

func toTemplateExtensions(exts []pkix.Extension) []x509template.Extension {
	out := make([]x509template.Extension, len(exts))
	for i, e := range exts {
		out[i] = x509template.Extension{OID: e.Id, Critical: e.Critical, Value: e.Value}
	}
	return out
}
