// Package txpipeline implements the two-phase transaction validation the
// consensus host drives per transaction: CheckTx (mempool admission) and
// DeliverTx (block execution), sharing one pure validation function so the
// two phases can never disagree about whether a transaction is valid.
package txpipeline

import "crypto/x509"

// Code is the ABCI result code returned to the consensus host.
type Code uint32

const (
	CodeOK    Code = 0
	CodeError Code = 1
	// CodeAlreadyExists is reserved for the non-fatal CSR-dedupe case: a
	// CSR whose subject already has a valid certificate under the same
	// public key is a harmless resubmission, not a rejection.
	CodeAlreadyExists Code = 100
)

// Kind names why a transaction failed or was flagged, independent of the
// numeric code two different kinds might share.
type Kind string

const (
	KindOK              Kind = "OK"
	KindUnknownTx       Kind = "UnknownTx"
	KindWrongCSR        Kind = "WrongCSR"
	KindWrongCert       Kind = "WrongCert"
	KindSubjectConflict Kind = "SubjectConflict"
	KindIssuerUnknown   Kind = "IssuerUnknown"
	KindAlreadyExists   Kind = "AlreadyExists"
	// KindCertAlreadyExists is the certificate-tx counterpart of
	// KindAlreadyExists: unlike the CSR case, a resubmitted certificate is
	// a fatal rejection, not a non-fatal dedupe advisory.
	KindCertAlreadyExists Kind = "CertAlreadyExists"
)

// Payload is what a successful validation hands to DeliverTx: either a CSR
// (for a node with a local CA to consider signing), a Certificate (to be
// inserted into the store), or neither (an accepted CSR that this node's
// local CA cannot sign, or on a node with no local CA at all).
type Payload struct {
	CSR  *x509.CertificateRequest
	Cert *x509.Certificate
}

// Result is the outcome of validating one transaction.
type Result struct {
	Code    Code
	Kind    Kind
	Log     string
	Payload Payload
}

func ok(payload Payload) Result {
	return Result{Code: CodeOK, Kind: KindOK, Payload: payload}
}

func fail(kind Kind, log string) Result {
	code := CodeError
	if kind == KindAlreadyExists {
		code = CodeAlreadyExists
	}
	return Result{Code: code, Kind: kind, Log: log}
}
