package abciapp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/csp"
	"github.com/curtapp/DPKI/pkg/names"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/txpipeline"
	"github.com/curtapp/DPKI/pkg/x509template"
)

func openTestApp(t *testing.T) (*App, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), "file:"+t.TempDir()+"/abci.db", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	certs := store.NewCertRepository()
	appState := store.NewAppStateRepository()
	pipeline := txpipeline.New(certs, nil)
	app := New(s, certs, appState, pipeline, nil, nil, nil)
	return app, s
}

func mustKey(t *testing.T) csp.Key {
	t.Helper()
	key, err := csp.Default.KeyGen(csp.KeyOpts{Algorithm: csp.AlgEd25519, Private: true})
	if err != nil {
		t.Fatalf("KeyGen: %v", err)
	}
	return key
}

func selfSignedCAPEM(t *testing.T, key csp.Key, subject names.DN) []byte {
	t.Helper()
	csrPEM, err := certbuilder.CreateCSR(subject, key, x509template.CA{}, x509template.Options{})
	if err != nil {
		t.Fatalf("CreateCSR: %v", err)
	}
	csr, err := certbuilder.DecodeCSR(csrPEM)
	if err != nil {
		t.Fatalf("DecodeCSR: %v", err)
	}
	certPEM, err := certbuilder.SelfSign(csr, key, time.Now().Add(365*24*time.Hour), nil)
	if err != nil {
		t.Fatalf("SelfSign: %v", err)
	}
	return certPEM
}

// TestInitChainSeedsGenesisAndAppState exercises InitChain: the genesis
// certificate set lands in the store and height 0's app_hash matches the
// pipeline's own rolling hash.
func TestInitChainSeedsGenesisAndAppState(t *testing.T) {
	app, s := openTestApp(t)
	ctx := context.Background()

	rootKey := mustKey(t)
	rootDN := names.MustParse("CN=Root CA, C=WN")
	rootPEM := selfSignedCAPEM(t, rootKey, rootDN)

	doc, err := json.Marshal(map[string][]string{"certificates": {string(rootPEM)}})
	if err != nil {
		t.Fatalf("marshal genesis doc: %v", err)
	}

	if _, err := app.InitChain(ctx, &abcitypes.RequestInitChain{AppStateBytes: doc}); err != nil {
		t.Fatalf("InitChain: %v", err)
	}

	height, hash, err := store.NewAppStateRepository().Head(ctx, s.DB())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if height != 0 {
		t.Fatalf("expected genesis height 0, got %d", height)
	}
	if len(hash) != 32 {
		t.Fatalf("expected a 32-byte genesis app_hash, got %d bytes", len(hash))
	}

	info, err := app.Info(ctx, &abcitypes.RequestInfo{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.LastBlockHeight != 0 {
		t.Fatalf("expected Info to report height 0, got %d", info.LastBlockHeight)
	}
}

// TestFinalizeBlockAndCommitChainAppHash delivers a certificate tx in a
// block and confirms Commit advances both the height and the app_hash,
// chained from the genesis hash.
func TestFinalizeBlockAndCommitChainAppHash(t *testing.T) {
	app, s := openTestApp(t)
	ctx := context.Background()

	rootKey := mustKey(t)
	rootDN := names.MustParse("CN=Root CA, C=WN")
	rootPEM := selfSignedCAPEM(t, rootKey, rootDN)
	doc, err := json.Marshal(map[string][]string{"certificates": {string(rootPEM)}})
	if err != nil {
		t.Fatalf("marshal genesis doc: %v", err)
	}
	if _, err := app.InitChain(ctx, &abcitypes.RequestInitChain{AppStateBytes: doc}); err != nil {
		t.Fatalf("InitChain: %v", err)
	}
	_, genesisHash, err := store.NewAppStateRepository().Head(ctx, s.DB())
	if err != nil {
		t.Fatalf("Head after genesis: %v", err)
	}

	rootCert, err := certbuilder.DecodeCertificate(rootPEM)
	if err != nil {
		t.Fatalf("DecodeCertificate: %v", err)
	}
	hostKey := mustKey(t)
	hostCSRPEM, err := certbuilder.CreateCSR(names.MustParse("CN=Alesh, UID=alesh, C=WN"), hostKey, x509template.Host{}, x509template.Options{})
	if err != nil {
		t.Fatalf("CreateCSR: %v", err)
	}
	hostCSR, err := certbuilder.DecodeCSR(hostCSRPEM)
	if err != nil {
		t.Fatalf("DecodeCSR: %v", err)
	}
	hostCertPEM, err := certbuilder.ApplyCSR(hostCSR, rootCert, rootKey, time.Now().Add(530*24*time.Hour), nil)
	if err != nil {
		t.Fatalf("ApplyCSR: %v", err)
	}

	fbResp, err := app.FinalizeBlock(ctx, &abcitypes.RequestFinalizeBlock{Height: 1, Txs: [][]byte{hostCertPEM}})
	if err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	if len(fbResp.TxResults) != 1 || fbResp.TxResults[0].Code != uint32(txpipeline.CodeOK) {
		t.Fatalf("expected the host certificate tx to be accepted, got %+v", fbResp.TxResults)
	}
	if len(fbResp.AppHash) != 32 || string(fbResp.AppHash) == string(genesisHash) {
		t.Fatalf("expected FinalizeBlock to report a new 32-byte app_hash, got %x", fbResp.AppHash)
	}

	if _, err := app.Commit(ctx, &abcitypes.RequestCommit{}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	height, hash, err := store.NewAppStateRepository().Head(ctx, s.DB())
	if err != nil {
		t.Fatalf("Head after commit: %v", err)
	}
	if height != 1 {
		t.Fatalf("expected height 1 after one committed block, got %d", height)
	}
	if string(hash) == string(genesisHash) {
		t.Fatalf("expected the app_hash to change after committing a new certificate")
	}

	resp, err := app.Query(ctx, &abcitypes.RequestQuery{Path: "cert/by-subject", Data: []byte("CN=Alesh, UID=alesh, C=WN")})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Code != uint32(txpipeline.CodeOK) {
		t.Fatalf("expected cert/by-subject to find the committed certificate, code=%d log=%q", resp.Code, resp.Log)
	}
}

func TestQueryCAListReportsGenesisRoot(t *testing.T) {
	app, _ := openTestApp(t)
	ctx := context.Background()

	rootKey := mustKey(t)
	rootDN := names.MustParse("CN=Root CA, C=WN")
	rootPEM := selfSignedCAPEM(t, rootKey, rootDN)
	doc, err := json.Marshal(map[string][]string{"certificates": {string(rootPEM)}})
	if err != nil {
		t.Fatalf("marshal genesis doc: %v", err)
	}
	if _, err := app.InitChain(ctx, &abcitypes.RequestInitChain{AppStateBytes: doc}); err != nil {
		t.Fatalf("InitChain: %v", err)
	}

	resp, err := app.Query(ctx, &abcitypes.RequestQuery{Path: "ca/list"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Code != uint32(txpipeline.CodeOK) {
		t.Fatalf("expected ca/list to succeed, got code %d: %s", resp.Code, resp.Log)
	}
	var entries []caListEntry
	if err := json.Unmarshal(resp.Value, &entries); err != nil {
		t.Fatalf("unmarshal ca/list response: %v", err)
	}
	if len(entries) != 1 || entries[0].Subject != rootDN.String() {
		t.Fatalf("expected exactly the genesis root in ca/list, got %+v", entries)
	}
}
