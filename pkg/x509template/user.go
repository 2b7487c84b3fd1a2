package x509template

import (
	"encoding/asn1"
	"strings"

	"github.com/curtapp/DPKI/pkg/names"
)

// User is the end-entity template for people and service accounts: TLS
// client authentication, with an optional email-style SAN derived from a
// UID atom in the subject's domain projection.
type User struct{}

func (User) Name() string { return "User" }

func (User) MakeExtensions(subject names.DN, _ Options) ([]ExtVal, error) {
	bc, err := encodeBasicConstraints(false, nil)
	if err != nil {
		return nil, err
	}
	ku, err := encodeKeyUsage(kuDigitalSignature, kuKeyEncipherment, kuContentCommitment, kuDataEncipherment)
	if err != nil {
		return nil, err
	}
	eku, err := encodeExtKeyUsage(oidExtKeyUsageClientAuth)
	if err != nil {
		return nil, err
	}

	extvals := []ExtVal{
		{OID: oidBasicConstraints, Critical: true, Value: bc},
		{OID: oidKeyUsage, Critical: true, Value: ku},
		{OID: oidExtKeyUsage, Critical: true, Value: eku},
	}

	if proj, ok := subject.Extract(names.Domain, false); ok && len(proj.RDNs) > 0 && proj.RDNs[0][0].Type == "UID" {
		username := proj.RDNs[0][0].Value
		if rest := proj.RDNs[1:]; len(rest) > 0 {
			parts := make([]string, len(rest))
			for i, rdn := range rest {
				parts[i] = rdn[0].Value
			}
			if domain := strings.Join(parts, "."); domain != "" {
				username = username + "@" + domain
			}
		}
		san, err := encodeSubjectAltName(nil, []string{username})
		if err != nil {
			return nil, err
		}
		extvals = append(extvals, ExtVal{OID: oidSubjectAltName, Critical: true, Value: san})
	}

	return extvals, nil
}

func (User) CheckExtVal(asn1.ObjectIdentifier, []byte) bool { return true }
