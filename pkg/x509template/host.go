package x509template

import (
	"encoding/asn1"
	"strings"

	"github.com/curtapp/DPKI/pkg/names"
)

// Host is the server/network-node template: TLS server authentication with
// a SAN seeded from the subject's own domain.
type Host struct{}

func (Host) Name() string { return "Host" }

func (Host) MakeExtensions(subject names.DN, opts Options) ([]ExtVal, error) {
	bc, err := encodeBasicConstraints(false, nil)
	if err != nil {
		return nil, err
	}
	ku, err := encodeKeyUsage(kuDigitalSignature, kuKeyEncipherment, kuKeyAgreement, kuContentCommitment)
	if err != nil {
		return nil, err
	}
	eku, err := encodeExtKeyUsage(oidExtKeyUsageServerAuth)
	if err != nil {
		return nil, err
	}

	dnsNames := append([]string(nil), opts.SAN...)
	if proj, ok := subject.Extract(names.Domain, true); ok {
		parts := make([]string, len(proj.RDNs))
		for i, rdn := range proj.RDNs {
			parts[i] = rdn[0].Value
		}
		dnsNames = append(dnsNames, strings.Join(parts, "."))
	}
	dnsNames = append([]string{"localhost"}, dnsNames...)

	san, err := encodeSubjectAltName(dnsNames, nil)
	if err != nil {
		return nil, err
	}
	return []ExtVal{
		{OID: oidBasicConstraints, Critical: true, Value: bc},
		{OID: oidKeyUsage, Critical: true, Value: ku},
		{OID: oidExtKeyUsage, Critical: true, Value: eku},
		{OID: oidSubjectAltName, Critical: true, Value: san},
	}, nil
}

func (Host) CheckExtVal(asn1.ObjectIdentifier, []byte) bool { return true }
