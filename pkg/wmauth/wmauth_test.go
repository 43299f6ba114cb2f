package wmauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adnet-tools/wmsnap/pkg/wmerr"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, pemBytes
}

// tokenServer serves OAuth exchanges and counts them.
func tokenServer(t *testing.T, token string, expiresIn int, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user == "" || pass == "" {
			t.Errorf("token exchange missing basic auth")
		}
		fmt.Fprintf(w, `{"access_token":%q,"expires_in":%d}`, token, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAuthority(t *testing.T, tokenURL string, pemBytes []byte) *Authority {
	t.Helper()
	a, err := New(Credentials{
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		PrivateKeyPEM: pemBytes,
		KeyVersion:    "1",
	}, tokenURL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewMissingCredentials(t *testing.T) {
	_, pemBytes := testKeyPEM(t)

	cases := []struct {
		name  string
		creds Credentials
	}{
		{"no client id", Credentials{ClientSecret: "s", PrivateKeyPEM: pemBytes}},
		{"no client secret", Credentials{ClientID: "c", PrivateKeyPEM: pemBytes}},
		{"no private key", Credentials{ClientID: "c", ClientSecret: "s"}},
		{"bad pem", Credentials{ClientID: "c", ClientSecret: "s", PrivateKeyPEM: []byte("not a key")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.creds, "http://unused")
			if !wmerr.IsKind(err, wmerr.Config) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestTokenCacheReuse(t *testing.T) {
	_, pemBytes := testKeyPEM(t)
	var hits int64
	srv := tokenServer(t, "tok-1", 3600, &hits)

	a := newTestAuthority(t, srv.URL, pemBytes)

	h1, err := a.HeadersFor(context.Background(), "POST", "https://api.example.com/v1/snapshot/report")
	if err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}
	h2, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot")
	if err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}

	if hits != 1 {
		t.Fatalf("expected 1 token exchange, got %d", hits)
	}
	if h1[HeaderAuthorization][0] != "Bearer tok-1" || h2[HeaderAuthorization][0] != "Bearer tok-1" {
		t.Fatalf("expected both calls to reuse the cached token")
	}
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	_, pemBytes := testKeyPEM(t)
	var hits int64
	srv := tokenServer(t, "tok-1", 3600, &hits)

	a := newTestAuthority(t, srv.URL, pemBytes)

	now := time.Now()
	a.now = func() time.Time { return now }

	if _, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot"); err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 exchange after first call, got %d", hits)
	}

	// Still fresh: more than 60s of validity left.
	now = now.Add(3500 * time.Second)
	if _, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot"); err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected cached token to be reused, got %d exchanges", hits)
	}

	// Within the 60s slack: must refresh exactly once.
	now = now.Add(45 * time.Second)
	if _, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot"); err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected exactly one refresh, got %d exchanges", hits)
	}
}

func TestTokenExchangeRetriesOnceOnTransientFailure(t *testing.T) {
	_, pemBytes := testKeyPEM(t)
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			http.Error(w, `{"error":"temporarily unavailable"}`, http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok-1","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)

	a := newTestAuthority(t, srv.URL, pemBytes)
	h, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot")
	if err != nil {
		t.Fatalf("expected the single retry to recover, got %v", err)
	}
	if h[HeaderAuthorization][0] != "Bearer tok-1" {
		t.Fatalf("wrong token after retry: %q", h[HeaderAuthorization][0])
	}
	if hits != 2 {
		t.Fatalf("expected 2 exchange attempts, got %d", hits)
	}
}

func TestTokenExchangeGivesUpAfterOneRetry(t *testing.T) {
	_, pemBytes := testKeyPEM(t)
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, `{"error":"still down"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	a := newTestAuthority(t, srv.URL, pemBytes)
	_, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot")
	if !wmerr.IsKind(err, wmerr.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	var e *wmerr.Error
	if !errors.As(err, &e) || e.Status != http.StatusInternalServerError || e.Body == "" {
		t.Fatalf("expected status 500 and body attached, got %+v", e)
	}
	if hits != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", hits)
	}
}

func TestTokenExchangeRejected(t *testing.T) {
	_, pemBytes := testKeyPEM(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	a := newTestAuthority(t, srv.URL, pemBytes)
	_, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot")
	if !wmerr.IsKind(err, wmerr.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestSignatureVerifiesWithHeaderTimestamp(t *testing.T) {
	key, pemBytes := testKeyPEM(t)
	var hits int64
	srv := tokenServer(t, "tok-1", 3600, &hits)

	a := newTestAuthority(t, srv.URL, pemBytes)

	h, err := a.HeadersFor(context.Background(), "post", "https://api.example.com/v1/snapshot/report?x=1")
	if err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}

	// The signature must verify against the exact timestamp the header
	// carries, with the method upper-cased and the query string excluded.
	stringToSign := "client-1\n" + h[HeaderTimestamp][0] + "\nPOST\n/v1/snapshot/report\n"
	digest := sha256.Sum256([]byte(stringToSign))

	sig, err := base64.StdEncoding.DecodeString(h[HeaderSignature][0])
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}

	for _, name := range []string{HeaderAuthorization, HeaderConsumerID, HeaderSignature, HeaderTimestamp, HeaderKeyVersion, HeaderContentType} {
		if len(h[name]) == 0 || h[name][0] == "" {
			t.Fatalf("missing header %s", name)
		}
	}
	if !strings.HasPrefix(h[HeaderAuthorization][0], "Bearer ") {
		t.Fatalf("authorization header is not a bearer token: %q", h[HeaderAuthorization][0])
	}
}

func TestSignaturesNeverReused(t *testing.T) {
	_, pemBytes := testKeyPEM(t)
	var hits int64
	srv := tokenServer(t, "tok-1", 3600, &hits)

	a := newTestAuthority(t, srv.URL, pemBytes)

	now := time.Now()
	a.now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}

	h1, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot")
	if err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}
	h2, err := a.HeadersFor(context.Background(), "POST", "https://api.example.com/v1/snapshot/report")
	if err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}
	// Same method and path, later instant.
	h3, err := a.HeadersFor(context.Background(), "GET", "https://api.example.com/v1/snapshot")
	if err != nil {
		t.Fatalf("HeadersFor: %v", err)
	}

	sigs := map[string]bool{}
	for _, h := range []map[string][]string{h1, h2, h3} {
		sigs[h[HeaderSignature][0]] = true
	}
	if len(sigs) != 3 {
		t.Fatalf("expected 3 distinct signatures, got %d", len(sigs))
	}
}
