// Package csp is the crypto service provider abstraction: a small registry
// of pluggable algorithms behind a uniform key/hash/sign/verify contract.
// Keys are generated and imported through it; pkg/certbuilder still hands
// the raw key material to crypto/x509 as a crypto/ed25519 key, and the
// app_hash code in pkg/txpipeline and pkg/abciapp uses crypto/sha256
// directly.
package csp

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned whenever an operation is requested for an
// algorithm the provider has no backend for.
var ErrUnsupported = errors.New("csp: unsupported algorithm")

// Algorithm names a signing algorithm. Only "ed25519" is registered by
// Default, matching the only algorithm the rest of this system issues
// certificates with.
type Algorithm string

const AlgEd25519 Algorithm = "ed25519"

// HashAlgorithm names a digest algorithm.
type HashAlgorithm string

const HashSHA256 HashAlgorithm = "sha256"

// Key is an opaque handle to a keypair produced by a Provider. Callers
// compare and serialize keys through these accessors rather than reaching
// into algorithm-specific types.
type Key interface {
	Algorithm() Algorithm
	Public() []byte
	// Private returns the raw private key material, or nil if this Key
	// only holds a public key.
	Private() []byte
}

// KeyOpts parameterizes KeyGen and KeyImport.
type KeyOpts struct {
	Algorithm Algorithm
	// Private requests that KeyImport treat raw as private key material
	// (for ed25519, the first 32 bytes are taken as the seed) rather than
	// an encoded public key.
	Private bool
	// Ephemeral is informational only; it does not change behavior but
	// lets callers record why a key was generated.
	Ephemeral bool
}

// HashOpts parameterizes Hash, GetHash and the hash step inside Sign.
type HashOpts struct {
	Algorithm HashAlgorithm
}

// SignOpts parameterizes Sign and Verify.
type SignOpts struct {
	Hash HashOpts
}

// Hasher is a streaming digest accumulator.
type Hasher interface {
	Write(block []byte) (n int, err error)
	// Sum appends the current digest to prefix and returns the result,
	// without mutating the hasher's internal state.
	Sum(prefix []byte) []byte
}

// Provider is the crypto service provider contract. All operations are
// pure except KeyGen.
type Provider interface {
	KeyGen(opts KeyOpts) (Key, error)
	KeyImport(raw []byte, opts KeyOpts) (Key, error)
	Hash(msg []byte, opts HashOpts) ([]byte, error)
	GetHash(opts HashOpts) (Hasher, error)
	// Sign signs hash(digest, opts.Hash) under key. The outer hash is
	// part of the signer's contract, not an optional caller step.
	Sign(key Key, digest []byte, opts SignOpts) ([]byte, error)
	// Verify never returns an error for a bad signature; it simply
	// returns false.
	Verify(pub []byte, signature, digest []byte, opts SignOpts) bool
}

// registry dispatches each operation to the backend registered for its
// requested algorithm.
type registry struct {
	signers map[Algorithm]signerBackend
	hashers map[HashAlgorithm]hasherBackend
}

type signerBackend interface {
	KeyGen(opts KeyOpts) (Key, error)
	KeyImport(raw []byte, opts KeyOpts) (Key, error)
	Sign(key Key, digest []byte, opts SignOpts) ([]byte, error)
	Verify(pub []byte, signature, digest []byte, opts SignOpts) bool
}

type hasherBackend interface {
	Hash(msg []byte) ([]byte, error)
	GetHash() (Hasher, error)
}

// Default is the provider wired for this system's only supported
// algorithms: ed25519 signing over a SHA-256 digest.
var Default Provider = newRegistry()

func newRegistry() *registry {
	return &registry{
		signers: map[Algorithm]signerBackend{
			AlgEd25519: ed25519Backend{},
		},
		hashers: map[HashAlgorithm]hasherBackend{
			HashSHA256: sha256Backend{},
		},
	}
}

func (r *registry) KeyGen(opts KeyOpts) (Key, error) {
	b, ok := r.signers[opts.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, opts.Algorithm)
	}
	return b.KeyGen(opts)
}

func (r *registry) KeyImport(raw []byte, opts KeyOpts) (Key, error) {
	b, ok := r.signers[opts.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, opts.Algorithm)
	}
	return b.KeyImport(raw, opts)
}

func (r *registry) Sign(key Key, digest []byte, opts SignOpts) ([]byte, error) {
	b, ok := r.signers[key.Algorithm()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, key.Algorithm())
	}
	if opts.Hash.Algorithm == "" {
		opts.Hash.Algorithm = HashSHA256
	}
	return b.Sign(key, digest, opts)
}

func (r *registry) Verify(pub []byte, signature, digest []byte, opts SignOpts) bool {
	b, ok := r.signers[AlgEd25519]
	if !ok {
		return false
	}
	if opts.Hash.Algorithm == "" {
		opts.Hash.Algorithm = HashSHA256
	}
	return b.Verify(pub, signature, digest, opts)
}

func (r *registry) Hash(msg []byte, opts HashOpts) ([]byte, error) {
	b, ok := r.hashers[opts.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, opts.Algorithm)
	}
	return b.Hash(msg)
}

func (r *registry) GetHash(opts HashOpts) (Hasher, error) {
	b, ok := r.hashers[opts.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, opts.Algorithm)
	}
	return b.GetHash()
}
