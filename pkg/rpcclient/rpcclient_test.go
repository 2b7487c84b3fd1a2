package rpcclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendTxPostsHexEncodedForm(t *testing.T) {
	var gotPath string
	var gotTx string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotTx = r.PostForm.Get("tx")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	laddr := strings.Replace(srv.URL, "http://", "tcp://", 1)
	c, err := New(laddr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendTx(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("SendTx: %v", err)
	}
	if gotPath != "/broadcast_tx_async" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotTx != "0x68656c6c6f" {
		t.Fatalf("unexpected tx field: %q", gotTx)
	}
}

func TestSendTxFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendTx(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected an error on a 500 response")
	}
}

func TestNewRejectsEmptyLaddr(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected an error for an empty rpc.laddr")
	}
}
