// Package caservice is the autonomous certificate authority: it locates
// this node's own CA certificate (or, lacking one, the namespace root),
// decides whether it has authority over an accepted CSR, and — after a
// staggered delay so a closer CA signs first — issues and broadcasts the
// downstream certificate.
package caservice

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/config"
	"github.com/curtapp/DPKI/pkg/csp"
	"github.com/curtapp/DPKI/pkg/names"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/x509template"
)

const roleCA = "CA"

// Broadcaster is the subset of rpcclient.Client the service needs, so
// tests can substitute a recorder.
type Broadcaster interface {
	SendTx(ctx context.Context, pemBytes []byte) error
}

// Service is the certificate authority. It holds the node's private key
// (if any) for the process lifetime — the key is never written to the
// store — and a background task registry for deferred signing.
type Service struct {
	certs *store.CertRepository
	db    *store.Store
	rpc   Broadcaster
	cfg   config.CAConfig

	key  csp.Key
	mu   sync.Mutex
	root *x509.Certificate // top of own cert's issuer chain if own != nil, else the first role=CA record
	own  *x509.Certificate // own cert; nil if this node has no CA key

	tasksMu sync.Mutex
	tasks   map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Service. key may be nil: a node can validate and relay
// transactions without ever being a signer itself.
func New(db *store.Store, certs *store.CertRepository, rpc Broadcaster, cfg config.CAConfig, key csp.Key) *Service {
	return &Service{
		certs: certs,
		db:    db,
		rpc:   rpc,
		cfg:   cfg,
		key:   key,
		tasks: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Initialize locates this node's position in the PKI hierarchy:
//  1. If the node holds a CA key, look up its own certificate by public key.
//     If found, walk issuer.subject lookups up to the self-issued root,
//     recording only the root (the chain past the own cert is not otherwise
//     consulted by this service).
//  2. Otherwise, fetch one role=CA record to learn the namespace root.
func (s *Service) Initialize(ctx context.Context) error {
	q := s.db.DB()

	if s.key != nil {
		pem, err := s.certs.GetByPublicKey(ctx, q, s.key.Public(), time.Now())
		if err == nil {
			own, perr := certbuilder.DecodeCertificate([]byte(pem))
			if perr != nil {
				return fmt.Errorf("caservice: decode own certificate: %w", perr)
			}
			s.mu.Lock()
			s.own = own
			s.root = own
			s.mu.Unlock()

			cert := own
			for !issuerIsSelf(cert) {
				issuerDN, derr := certbuilder.IssuerDN(cert)
				if derr != nil {
					return fmt.Errorf("caservice: decode issuer: %w", derr)
				}
				parentPEM, gerr := s.certs.GetBySubject(ctx, q, issuerDN.String(), time.Now())
				if gerr != nil {
					break
				}
				parent, perr := certbuilder.DecodeCertificate([]byte(parentPEM))
				if perr != nil {
					return fmt.Errorf("caservice: decode parent certificate: %w", perr)
				}
				s.mu.Lock()
				s.root = parent
				s.mu.Unlock()
				cert = parent
			}
			return nil
		}
		if err != store.ErrNotFound {
			return fmt.Errorf("caservice: lookup own certificate: %w", err)
		}
	}

	records, err := s.certs.ListByRole(ctx, q, roleCA, 1, 0, time.Now())
	if err != nil {
		return fmt.Errorf("caservice: list CA records: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("caservice: no active CA root certificate found")
	}
	root, err := certbuilder.DecodeCertificate([]byte(records[0].PEM))
	if err != nil {
		return fmt.Errorf("caservice: decode root certificate: %w", err)
	}
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	return nil
}

func issuerIsSelf(cert *x509.Certificate) bool {
	subjectDN, err := certbuilder.SubjectDN(cert)
	if err != nil {
		return true
	}
	issuerDN, err := certbuilder.IssuerDN(cert)
	if err != nil {
		return true
	}
	return subjectDN.Equal(issuerDN)
}

// OwnCertificate implements txpipeline.LocalCA.
func (s *Service) OwnCertificate() (*x509.Certificate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own, s.own != nil
}

// CanIssue implements txpipeline.LocalCA: how many hierarchy hops this
// node's own CA certificate has authority over csr's subject. Zero if this
// node has no CA key.
func (s *Service) CanIssue(csr *x509.CertificateRequest) int {
	s.mu.Lock()
	own := s.own
	s.mu.Unlock()
	if own == nil {
		return 0
	}
	return canIssueCert(own, csr)
}

// InNamespace reports whether the namespace root has authority over csr —
// i.e. whether this cluster's PKI covers the request at all, regardless of
// which node ends up signing it.
func (s *Service) InNamespace(csr *x509.CertificateRequest) bool {
	s.mu.Lock()
	root := s.root
	s.mu.Unlock()
	if root == nil {
		return false
	}
	return canIssueCert(root, csr) >= 1
}

func canIssueCert(issuerCert *x509.Certificate, csr *x509.CertificateRequest) int {
	issuerDN, err := certbuilder.SubjectDN(issuerCert)
	if err != nil {
		return 0
	}
	subjectDN, err := certbuilder.CSRSubjectDN(csr)
	if err != nil {
		return 0
	}
	return names.CanIssue(issuerDN, subjectDN)
}
