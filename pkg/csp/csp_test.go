package csp

import "testing"

func TestKeyGenSignVerify(t *testing.T) {
	key, err := Default.KeyGen(KeyOpts{Algorithm: AlgEd25519, Private: true})
	if err != nil {
		t.Fatalf("KeyGen: %v", err)
	}
	digest := []byte("a certificate signing request, or close enough")
	sig, err := Default.Sign(key, digest, SignOpts{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Default.Verify(key.Public(), sig, digest, SignOpts{}) {
		t.Fatalf("Verify: expected true for a genuine signature")
	}
	if Default.Verify(key.Public(), sig, []byte("tampered"), SignOpts{}) {
		t.Fatalf("Verify: expected false for a tampered digest")
	}
}

func TestVerifyNeverErrors(t *testing.T) {
	if Default.Verify([]byte("too short"), []byte("also too short"), []byte("x"), SignOpts{}) {
		t.Fatalf("Verify should return false, not panic or error, on malformed input")
	}
}

func TestKeyImportSeed(t *testing.T) {
	gen, err := Default.KeyGen(KeyOpts{Algorithm: AlgEd25519, Private: true})
	if err != nil {
		t.Fatalf("KeyGen: %v", err)
	}
	seed := gen.Private()[:32]
	imported, err := Default.KeyImport(seed, KeyOpts{Algorithm: AlgEd25519, Private: true})
	if err != nil {
		t.Fatalf("KeyImport: %v", err)
	}
	if string(imported.Public()) != string(gen.Public()) {
		t.Fatalf("imported key's public half does not match the generated key")
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := Default.KeyGen(KeyOpts{Algorithm: "rsa"})
	if err == nil {
		t.Fatalf("expected an error for an unsupported algorithm")
	}
}

func TestHashRoundTrip(t *testing.T) {
	direct, err := Default.Hash([]byte("hello"), HashOpts{Algorithm: HashSHA256})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h, err := Default.GetHash(HashOpts{Algorithm: HashSHA256})
	if err != nil {
		t.Fatalf("GetHash: %v", err)
	}
	if _, err := h.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	streamed := h.Sum(nil)
	if string(direct) != string(streamed) {
		t.Fatalf("Hash and GetHash disagree: %x != %x", direct, streamed)
	}
}
