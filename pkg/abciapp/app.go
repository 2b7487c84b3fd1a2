// Package abciapp wires pkg/txpipeline, pkg/caservice and pkg/store into a
// CometBFT abcitypes.Application: one block's worth of DeliverTx work runs
// inside the transaction opened at FinalizeBlock and committed at Commit
// (CheckTx reads the committed state outside any transaction), matching spec.md's BeginBlock/Commit connection-lifetime model
// collapsed into CometBFT's post-0.38 FinalizeBlock/Commit pair.
package abciapp

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/curtapp/DPKI/pkg/certbuilder"
	"github.com/curtapp/DPKI/pkg/metrics"
	"github.com/curtapp/DPKI/pkg/names"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/txpipeline"
)

// LocalCA is the subset of *caservice.Service the application drives:
// initialization at genesis/startup and scheduling accepted CSRs.
type LocalCA interface {
	Initialize(ctx context.Context) error
	Schedule(csr *x509.CertificateRequest)
}

// scheduler adapts App to txpipeline.Scheduler, forwarding to the local CA
// when one is configured (a node may run with ca == nil: validate-and-relay
// only, no signing authority).
type scheduler struct{ app *App }

func (s scheduler) Schedule(csr *x509.CertificateRequest) {
	if s.app.ca != nil {
		s.app.ca.Schedule(csr)
	}
}

type App struct {
	db       *store.Store
	certs    *store.CertRepository
	appState *store.AppStateRepository
	pipeline *txpipeline.Pipeline
	ca       LocalCA
	metrics  *metrics.Collector
	log      *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	blockHeight  int64
	blockTx      *sql.Tx
	prevAppHash  []byte
	pendingHash  []byte
	committedLog [][]byte // PEM bytes of certificates accepted this block, in order
}

func New(db *store.Store, certs *store.CertRepository, appState *store.AppStateRepository,
	pipeline *txpipeline.Pipeline, ca LocalCA, m *metrics.Collector, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{
		db:       db,
		certs:    certs,
		appState: appState,
		pipeline: pipeline,
		ca:       ca,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

func (a *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	height, hash, err := a.appState.Head(ctx, a.db.DB())
	if err == store.ErrNotFound {
		return &abcitypes.ResponseInfo{Data: "dpki"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("abciapp: info: %w", err)
	}
	return &abcitypes.ResponseInfo{
		Data:             "dpki",
		LastBlockHeight:  height,
		LastBlockAppHash: hash,
	}, nil
}

// InitChain loads the genesis certificate set (AppStateBytes, a JSON
// {"certificates": [...]} document) and records its rolling hash as the
// height-0 app_hash, then lets the CA service locate its position in the
// freshly-seeded hierarchy.
func (a *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	tx, err := a.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("abciapp: init chain: begin: %w", err)
	}

	digest, err := a.pipeline.LoadGenesis(ctx, tx, req.AppStateBytes)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("abciapp: init chain: load genesis: %w", err)
	}
	if err := a.appState.Append(ctx, tx, 0, digest, a.now()); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("abciapp: init chain: append app_state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("abciapp: init chain: commit: %w", err)
	}

	if a.ca != nil {
		if err := a.ca.Initialize(ctx); err != nil {
			a.log.Warn("abciapp: CA initialize at genesis", "error", err)
		}
	}

	a.mu.Lock()
	a.prevAppHash = digest
	a.mu.Unlock()

	return &abcitypes.ResponseInitChain{AppHash: digest}, nil
}

// CheckTx runs read-only mempool admission against the current committed
// state — no transaction is opened, since CheckTx never mutates the store.
func (a *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	result := a.pipeline.CheckTx(ctx, a.db.DB(), req.Tx)
	a.observe(a.metricsCheckTx, result)
	return &abcitypes.ResponseCheckTx{Code: uint32(result.Code), Log: result.Log}, nil
}

func (a *App) metricsCheckTx(code string) {
	if a.metrics != nil {
		a.metrics.CheckTxTotal.WithLabelValues(code).Inc()
	}
}

func (a *App) metricsDeliverTx(code string) {
	if a.metrics != nil {
		a.metrics.DeliverTxTotal.WithLabelValues(code).Inc()
	}
}

func (a *App) observe(inc func(string), result txpipeline.Result) {
	inc(strconv.FormatUint(uint64(result.Code), 10))
}

// FinalizeBlock opens this block's transaction, applies every tx's
// DeliverTx outcome, and extends the rolling app_hash over the accepted
// certificate PEMs — CometBFT's ABCI 2.0 FinalizeBlock/Commit split requires
// the app_hash in the FinalizeBlock response itself, not Commit's.
func (a *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	tx, err := a.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("abciapp: finalize block: begin: %w", err)
	}

	a.mu.Lock()
	a.blockTx = tx
	a.blockHeight = req.Height
	a.committedLog = nil
	a.mu.Unlock()

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, txBytes := range req.Txs {
		result := a.pipeline.DeliverTx(ctx, tx, txBytes, scheduler{app: a})
		a.observe(a.metricsDeliverTx, result)
		if result.Code == txpipeline.CodeOK && result.Payload.Cert != nil {
			a.mu.Lock()
			a.committedLog = append(a.committedLog, txBytes)
			a.mu.Unlock()
		}
		txResults[i] = &abcitypes.ExecTxResult{Code: uint32(result.Code), Log: result.Log}
	}

	a.mu.Lock()
	h := sha256.New()
	h.Write(a.prevAppHash)
	for _, pem := range a.committedLog {
		h.Write(pem)
	}
	appHash := h.Sum(nil)
	if err := a.appState.Append(ctx, tx, req.Height, appHash, a.now()); err != nil {
		a.mu.Unlock()
		tx.Rollback()
		return nil, fmt.Errorf("abciapp: finalize block: append app_state: %w", err)
	}
	a.pendingHash = appHash
	a.mu.Unlock()

	return &abcitypes.ResponseFinalizeBlock{TxResults: txResults, AppHash: appHash}, nil
}

// Commit persists the transaction FinalizeBlock opened and advances the
// rolling app_hash baseline for the next block.
func (a *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	tx := a.blockTx
	appHash := a.pendingHash
	a.mu.Unlock()

	if tx == nil {
		return nil, fmt.Errorf("abciapp: commit called without a prior FinalizeBlock")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("abciapp: commit: %w", err)
	}

	a.mu.Lock()
	a.prevAppHash = appHash
	a.blockTx = nil
	a.pendingHash = nil
	a.committedLog = nil
	a.mu.Unlock()

	return &abcitypes.ResponseCommit{}, nil
}

type caListEntry struct {
	Subject    string `json:"subject"`
	PathLength int    `json:"path_length"`
	Issuer     string `json:"issuer"`
}

// Query answers "ca/list" (all non-revoked CA records), "cert/by-subject"
// and "cert/by-pubkey" (direct reflections of the store's own lookups,
// exposed read-only). The cert/by-subject DN is parsed and re-serialized
// first, so it matches the normalized form subjects are stored under.
func (a *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	q := a.db.DB()
	switch req.Path {
	case "ca/list":
		records, err := a.certs.ListByRole(ctx, q, "CA", 1<<20, 0, a.now())
		if err != nil {
			return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeError), Log: err.Error()}, nil
		}
		entries := make([]caListEntry, 0, len(records))
		for _, rec := range records {
			cert, err := certbuilder.DecodeCertificate([]byte(rec.PEM))
			if err != nil {
				continue
			}
			issuerDN, err := certbuilder.IssuerDN(cert)
			if err != nil {
				continue
			}
			pathLen := cert.MaxPathLen
			if cert.MaxPathLenZero {
				pathLen = 0
			}
			entries = append(entries, caListEntry{Subject: rec.Subject, PathLength: pathLen, Issuer: issuerDN.String()})
		}
		value, err := json.Marshal(entries)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeError), Log: err.Error()}, nil
		}
		return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeOK), Value: value}, nil

	case "cert/by-subject":
		subject, err := names.Parse(string(req.Data))
		if err != nil {
			return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeError), Log: err.Error()}, nil
		}
		pem, err := a.certs.GetBySubject(ctx, q, subject.String(), a.now())
		if err != nil {
			return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeError), Log: err.Error()}, nil
		}
		return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeOK), Value: []byte(pem)}, nil

	case "cert/by-pubkey":
		pem, err := a.certs.GetByPublicKey(ctx, q, req.Data, a.now())
		if err != nil {
			return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeError), Log: err.Error()}, nil
		}
		return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeOK), Value: []byte(pem)}, nil

	default:
		return &abcitypes.ResponseQuery{Code: uint32(txpipeline.CodeError), Log: "unknown query path: " + req.Path}, nil
	}
}
