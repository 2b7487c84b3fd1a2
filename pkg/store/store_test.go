package store

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "file:"+t.TempDir()+"/test.db", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCertRepositoryInsertAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	certs := NewCertRepository()

	now := time.Now().UTC()
	rec := CertRecord{
		Serial:         []byte{0x01, 0x02, 0x03},
		Subject:        "CN=web1,DC=example,DC=com",
		PublicKey:      []byte("pubkey-bytes"),
		PEM:            "-----BEGIN CERTIFICATE-----\n...\n-----END CERTIFICATE-----\n",
		Role:           "Host",
		NotValidBefore: now.Add(-time.Hour),
		NotValidAfter:  now.Add(365 * 24 * time.Hour),
	}
	if err := certs.Insert(ctx, s.DB(), []CertRecord{rec}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	pem, err := certs.GetByPublicKey(ctx, s.DB(), rec.PublicKey, now)
	if err != nil {
		t.Fatalf("GetByPublicKey: %v", err)
	}
	if pem != rec.PEM {
		t.Fatalf("got %q want %q", pem, rec.PEM)
	}

	pem, err = certs.GetBySubject(ctx, s.DB(), rec.Subject, now)
	if err != nil {
		t.Fatalf("GetBySubject: %v", err)
	}
	if pem != rec.PEM {
		t.Fatalf("got %q want %q", pem, rec.PEM)
	}

	list, err := certs.ListByRole(ctx, s.DB(), "Host", 500, 0, now)
	if err != nil {
		t.Fatalf("ListByRole: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 record, got %d", len(list))
	}
}

func TestCertRepositoryDuplicateSerial(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	certs := NewCertRepository()

	now := time.Now().UTC()
	rec := CertRecord{
		Serial:         []byte{0xaa, 0xbb},
		Subject:        "CN=dup",
		PublicKey:      []byte("pk"),
		PEM:            "pem",
		Role:           "User",
		NotValidBefore: now,
		NotValidAfter:  now.Add(time.Hour),
	}
	if err := certs.Insert(ctx, s.DB(), []CertRecord{rec}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := certs.Insert(ctx, s.DB(), []CertRecord{rec}); err == nil {
		t.Fatalf("expected an error inserting a duplicate serial")
	}
}

func TestCertRepositoryExpiredNotReturned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	certs := NewCertRepository()

	now := time.Now().UTC()
	rec := CertRecord{
		Serial:         []byte{0x10},
		Subject:        "CN=expired",
		PublicKey:      []byte("expired-pk"),
		PEM:            "pem",
		Role:           "Host",
		NotValidBefore: now.Add(-2 * time.Hour),
		NotValidAfter:  now.Add(-time.Hour),
	}
	if err := certs.Insert(ctx, s.DB(), []CertRecord{rec}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := certs.GetByPublicKey(ctx, s.DB(), rec.PublicKey, now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for an expired cert, got %v", err)
	}
}

func TestAppStateHeadAndAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	appState := NewAppStateRepository()

	if _, _, err := appState.Head(ctx, s.DB()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before any commit, got %v", err)
	}

	if err := appState.Append(ctx, s.DB(), 1, []byte{0xde, 0xad}, time.Now()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := appState.Append(ctx, s.DB(), 2, []byte{0xbe, 0xef}, time.Now()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	height, hash, err := appState.Head(ctx, s.DB())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if height != 2 || string(hash) != "\xbe\xef" {
		t.Fatalf("expected head (2, beef), got (%d, %x)", height, hash)
	}
}
