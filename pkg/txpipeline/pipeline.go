package txpipeline

import (
	"context"
	"crypto/x509"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/x509template"
)

// Scheduler is notified of an accepted CSR this node's local CA can sign.
// DeliverTx calls it after validation succeeds so the signer fires once,
// from within the block that admitted the request, never from CheckTx's
// throwaway evaluation.
type Scheduler interface {
	Schedule(csr *x509.CertificateRequest)
}

// CheckTx runs read-only validation against the store's current connection.
// It never writes and never schedules a signer: a mempool probe must have
// no side effects, since the same transaction may be checked many times
// before (or without ever) reaching DeliverTx.
func (p *Pipeline) CheckTx(ctx context.Context, q store.Querier, tx []byte) Result {
	return p.Validate(ctx, q, tx)
}

// DeliverTx validates tx against the block's connection q and applies an OK
// result's payload: a certificate is inserted into the store; a CSR this
// node's local CA can issue is handed to sched.
func (p *Pipeline) DeliverTx(ctx context.Context, q store.Querier, tx []byte, sched Scheduler) Result {
	result := p.Validate(ctx, q, tx)
	if result.Code != CodeOK {
		return result
	}

	if result.Payload.Cert != nil {
		rec, err := certRecordFromCertificate(result.Payload.Cert, tx)
		if err != nil {
			return fail(KindWrongCert, err.Error())
		}
		if err := p.certs.Insert(ctx, q, []store.CertRecord{rec}); err != nil {
			return fail(KindCertAlreadyExists, err.Error())
		}
		return result
	}

	if result.Payload.CSR != nil && sched != nil {
		sched.Schedule(result.Payload.CSR)
	}
	return result
}

func certRecordFromCertificate(cert *x509.Certificate, pem []byte) (store.CertRecord, error) {
	subject, err := certbuilder.SubjectDN(cert)
	if err != nil {
		return store.CertRecord{}, err
	}
	role := "Unknown"
	if tmpl, matched := x509template.MatchesTo(toTemplateExtensions(cert.Extensions)); matched {
		role = tmpl.Name()
	}
	return store.CertRecord{
		Serial:         cert.SerialNumber.Bytes(),
		Subject:        subject.String(),
		PublicKey:      cert.RawSubjectPublicKeyInfo,
		PEM:            string(pem),
		Role:           role,
		NotValidBefore: cert.NotBefore,
		NotValidAfter:  cert.NotAfter,
	}, nil
}
