package caservice

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/config"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/x509template"
)

// Schedule implements txpipeline.Scheduler: it evaluates whether this
// node's own CA has authority over csr and, if so, arms a deferred signer.
// Ignored silently if distance < 1, matching the spec's "if d < 1, ignore"
// rule — this is not an error, just a CSR this node happens not to be
// positioned to sign.
func (s *Service) Schedule(csr *x509.CertificateRequest) {
	s.mu.Lock()
	own := s.own
	s.mu.Unlock()
	if own == nil {
		return
	}
	distance := canIssueCert(own, csr)
	if distance < 1 {
		return
	}

	waiting, err := config.ParseDuration(s.cfg.WaitingForDownstream)
	if err != nil {
		slog.Error("caservice: invalid waiting_for_downstream", "error", err)
		return
	}
	preTimeout := time.Duration(distance-1) * waiting

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	s.tasksMu.Lock()
	s.tasks[id] = cancel
	s.tasksMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.tasksMu.Lock()
			delete(s.tasks, id)
			s.tasksMu.Unlock()
		}()
		s.issueAfterDelay(ctx, csr, preTimeout)
	}()
}

// issueAfterDelay waits preTimeout, then re-checks the store: a closer CA
// may have already issued a certificate for this subject while this task
// was sleeping, in which case it aborts without side effects. On fire, it
// signs and broadcasts the certificate; cancellation at any point (the
// sleep, the store check, the broadcast) leaves no persistent effect since
// nothing has been written here — the only effect is the RPC. A repeated
// broadcast of a certificate for the same CSR carries the same public key
// and is rejected by the pipeline's public-key check.
func (s *Service) issueAfterDelay(ctx context.Context, csr *x509.CertificateRequest, preTimeout time.Duration) {
	timer := time.NewTimer(preTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	subjectDN, err := certbuilder.CSRSubjectDN(csr)
	if err != nil {
		slog.Error("caservice: decode CSR subject", "error", err)
		return
	}
	if _, err := s.certs.GetBySubject(ctx, s.db.DB(), subjectDN.String(), time.Now()); err == nil {
		return // a valid certificate for this subject already exists; abort
	} else if err != store.ErrNotFound {
		slog.Error("caservice: subject lookup before signing", "error", err)
		return
	}

	tmpl, matched := x509template.MatchesTo(csrExtensions(csr))
	if !matched {
		slog.Error("caservice: CSR no longer matches a known template at fire time")
		return
	}
	validFor, err := s.validForDays(tmpl.Name())
	if err != nil {
		slog.Error("caservice: resolve valid_for", "role", tmpl.Name(), "error", err)
		return
	}

	s.mu.Lock()
	own, key := s.own, s.key
	s.mu.Unlock()
	notAfter := time.Now().AddDate(0, 0, validFor)
	certPEM, err := certbuilder.ApplyCSR(csr, own, key, notAfter, nil)
	if err != nil {
		slog.Error("caservice: sign certificate", "error", err)
		return
	}

	if err := s.rpc.SendTx(ctx, certPEM); err != nil {
		slog.Error("caservice: broadcast signed certificate", "error", err)
	}
}

// validForDays resolves the validity window, in days, for role. Unlike the
// retrieved original implementation, User reads its own user_valid_for key
// rather than reusing host_valid_for.
func (s *Service) validForDays(role string) (int, error) {
	var raw string
	switch role {
	case "CA":
		raw = s.cfg.CAValidFor
	case "Host":
		raw = s.cfg.HostValidFor
	case "User":
		raw = s.cfg.UserValidFor
	default:
		return 0, fmt.Errorf("unexpected template %q", role)
	}
	d, err := config.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return int(d.Hours() / 24), nil
}

func csrExtensions(csr *x509.CertificateRequest) []x509template.Extension {
	out := make([]x509template.Extension, len(csr.Extensions))
	for i, e := range csr.Extensions {
		out[i] = x509template.Extension{OID: e.Id, Critical: e.Critical, Value: e.Value}
	}
	return out
}

// Stop cancels every in-flight deferred-signing task and waits for them to
// return.
func (s *Service) Stop() {
	s.tasksMu.Lock()
	for _, cancel := range s.tasks {
		cancel()
	}
	s.tasksMu.Unlock()
	s.wg.Wait()
}
