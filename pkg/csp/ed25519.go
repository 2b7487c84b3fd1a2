package csp

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// ed25519Key wraps a public key and, when present, its private counterpart.
type ed25519Key struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func (k ed25519Key) Algorithm() Algorithm { return AlgEd25519 }
func (k ed25519Key) Public() []byte       { return append([]byte(nil), k.pub...) }
func (k ed25519Key) Private() []byte {
	if k.priv == nil {
		return nil
	}
	return append([]byte(nil), k.priv...)
}

type ed25519Backend struct{}

func (ed25519Backend) KeyGen(opts KeyOpts) (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("csp: generate ed25519 key: %w", err)
	}
	if !opts.Private {
		return ed25519Key{pub: pub}, nil
	}
	return ed25519Key{pub: pub, priv: priv}, nil
}

// KeyImport treats raw as a 32-byte seed when opts.Private is set (the
// tendermint key-file convention of keeping only the seed half of the
// 64-byte private key), otherwise as an encoded public key.
func (ed25519Backend) KeyImport(raw []byte, opts KeyOpts) (Key, error) {
	if opts.Private {
		if len(raw) < ed25519.SeedSize {
			return nil, fmt.Errorf("csp: ed25519 seed too short: got %d bytes, want at least %d", len(raw), ed25519.SeedSize)
		}
		priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		pub := priv.Public().(ed25519.PublicKey)
		return ed25519Key{pub: pub, priv: priv}, nil
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("csp: invalid ed25519 public key size: got %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519Key{pub: append(ed25519.PublicKey(nil), raw...)}, nil
}

func (ed25519Backend) Sign(key Key, digest []byte, opts SignOpts) ([]byte, error) {
	priv := key.Private()
	if priv == nil {
		return nil, fmt.Errorf("csp: key has no private material to sign with")
	}
	h, err := Default.GetHash(opts.Hash)
	if err != nil {
		return nil, err
	}
	if _, err := h.Write(digest); err != nil {
		return nil, err
	}
	summed := h.Sum(nil)
	return ed25519.Sign(ed25519.PrivateKey(priv), summed), nil
}

func (ed25519Backend) Verify(pub []byte, signature, digest []byte, opts SignOpts) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	h, err := Default.GetHash(opts.Hash)
	if err != nil {
		return false
	}
	if _, err := h.Write(digest); err != nil {
		return false
	}
	summed := h.Sum(nil)
	return ed25519.Verify(ed25519.PublicKey(pub), summed, signature)
}
