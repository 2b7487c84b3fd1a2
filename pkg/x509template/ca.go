package x509template

import (
	"encoding/asn1"

	"github.com/curtapp/DPKI/pkg/names"
)

// CA is the certificate authority template: a path-constrained signer
// permitted to issue downstream certificates and CRLs.
type CA struct{}

func (CA) Name() string { return "CA" }

func (CA) MakeExtensions(_ names.DN, opts Options) ([]ExtVal, error) {
	bc, err := encodeBasicConstraints(true, opts.PathLength)
	if err != nil {
		return nil, err
	}
	ku, err := encodeKeyUsage(kuDigitalSignature, kuKeyCertSign, kuCRLSign)
	if err != nil {
		return nil, err
	}
	return []ExtVal{
		{OID: oidBasicConstraints, Critical: true, Value: bc},
		{OID: oidKeyUsage, Critical: true, Value: ku},
	}, nil
}

// CheckExtVal rejects a BasicConstraints extension that does not assert
// ca=true; every other extension is accepted unconditionally.
func (CA) CheckExtVal(oid asn1.ObjectIdentifier, value []byte) bool {
	if oid.Equal(oidBasicConstraints) {
		return isBasicConstraintsCA(value)
	}
	return true
}
