package x509template

import (
	"testing"

	"github.com/curtapp/DPKI/pkg/names"
)

func toExtensions(t *testing.T, evs []ExtVal) []Extension {
	t.Helper()
	out := make([]Extension, len(evs))
	for i, ev := range evs {
		out[i] = Extension{OID: ev.OID, Critical: ev.Critical, Value: ev.Value}
	}
	return out
}

func TestSelfRecognitionCA(t *testing.T) {
	subject := names.MustParse("CN=Root Wonderland CA, C=WN")
	evs, err := CA{}.MakeExtensions(subject, Options{})
	if err != nil {
		t.Fatalf("MakeExtensions: %v", err)
	}
	tmpl, ok := MatchesTo(toExtensions(t, evs))
	if !ok || tmpl.Name() != "CA" {
		t.Fatalf("expected CA to self-recognize as CA, got %v (ok=%v)", tmpl, ok)
	}
}

func TestSelfRecognitionHost(t *testing.T) {
	subject := names.MustParse("CN=web1, DC=example, DC=com")
	evs, err := Host{}.MakeExtensions(subject, Options{})
	if err != nil {
		t.Fatalf("MakeExtensions: %v", err)
	}
	tmpl, ok := MatchesTo(toExtensions(t, evs))
	if !ok || tmpl.Name() != "Host" {
		t.Fatalf("expected Host to self-recognize as Host, got %v (ok=%v)", tmpl, ok)
	}
}

// Property 4 — the User template must be recognized as User, not
// Host. The original source had a bug here that this implementation does
// not reproduce.
func TestSelfRecognitionUserNotHost(t *testing.T) {
	subject := names.MustParse("UID=alice, DC=example, DC=com")
	evs, err := User{}.MakeExtensions(subject, Options{})
	if err != nil {
		t.Fatalf("MakeExtensions: %v", err)
	}
	tmpl, ok := MatchesTo(toExtensions(t, evs))
	if !ok {
		t.Fatalf("expected User extensions to match some template")
	}
	if tmpl.Name() != "User" {
		t.Fatalf("expected User template to self-recognize as User, got %q", tmpl.Name())
	}
}

func TestUserSANIncludesDomain(t *testing.T) {
	subject := names.MustParse("UID=alice, DC=example, DC=com")
	evs, err := User{}.MakeExtensions(subject, Options{})
	if err != nil {
		t.Fatalf("MakeExtensions: %v", err)
	}
	found := false
	for _, ev := range evs {
		if ev.OID.Equal(oidSubjectAltName) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a SubjectAlternativeName extension for a UID-bearing subject")
	}
}

func TestUserWithoutUIDHasNoSAN(t *testing.T) {
	subject := names.MustParse("CN=Somebody, O=The Corporation")
	evs, err := User{}.MakeExtensions(subject, Options{})
	if err != nil {
		t.Fatalf("MakeExtensions: %v", err)
	}
	for _, ev := range evs {
		if ev.OID.Equal(oidSubjectAltName) {
			t.Fatalf("expected no SAN extension when subject has no UID atom")
		}
	}
}

func TestCANotConfusedWithHost(t *testing.T) {
	subject := names.MustParse("CN=Root Wonderland CA, C=WN")
	evs, _ := CA{}.MakeExtensions(subject, Options{})
	if Matches(Host{}, toExtensions(t, evs)) {
		t.Fatalf("a CA certificate must not match the Host template")
	}
	if Matches(User{}, toExtensions(t, evs)) {
		t.Fatalf("a CA certificate must not match the User template")
	}
}
