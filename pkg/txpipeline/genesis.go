package txpipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/x509template"
)

// GenesisDoc is the genesis payload: a flat list of PEM-encoded
// certificates to seed the store with, in the order they must be hashed
// and inserted.
type GenesisDoc struct {
	Certificates []string `json:"certificates"`
}

// LoadGenesis parses raw as a GenesisDoc, classifies and inserts every
// certificate into q within a single transaction, and returns the rolling
// SHA-256 digest over the certificates' PEM bytes as the initial app_hash.
// Any failure aborts the whole batch — nothing is left partially applied.
func (p *Pipeline) LoadGenesis(ctx context.Context, q store.Querier, raw []byte) ([]byte, error) {
	var doc GenesisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("txpipeline: parse genesis: %w", err)
	}

	h := sha256.New()
	records := make([]store.CertRecord, 0, len(doc.Certificates))
	for i, pemText := range doc.Certificates {
		cert, err := certbuilder.DecodeCertificate([]byte(pemText))
		if err != nil {
			return nil, fmt.Errorf("txpipeline: genesis certificate %d: %w", i, err)
		}
		if _, matched := x509template.MatchesTo(toTemplateExtensions(cert.Extensions)); !matched {
			return nil, fmt.Errorf("txpipeline: genesis certificate %d: does not match any known template", i)
		}
		rec, err := certRecordFromCertificate(cert, []byte(pemText))
		if err != nil {
			return nil, fmt.Errorf("txpipeline: genesis certificate %d: %w", i, err)
		}
		records = append(records, rec)
		h.Write([]byte(pemText))
	}

	if err := p.certs.Insert(ctx, q, records); err != nil {
		return nil, fmt.Errorf("txpipeline: insert genesis certificates: %w", err)
	}
	return h.Sum(nil), nil
}
