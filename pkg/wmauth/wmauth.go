// Package wmauth builds the authentication headers required by the Walmart
// Connect API: an OAuth bearer token (cached across calls) plus a per-request
// RSA signature over the consumer id, timestamp, method and path.
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
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/adnet-tools/wmsnap/internal/utils"
	"github.com/adnet-tools/wmsnap/pkg/whttp"
	"github.com/adnet-tools/wmsnap/pkg/wmerr"
)

// Header names demanded by the API gateway. These are case-sensitive on the
// wire, hence the direct-assignment handling in whttp.
const (
	HeaderAuthorization = "Authorization"
	HeaderConsumerID    = "WM_CONSUMER.ID"
	HeaderSignature     = "WM_SEC.AUTH_SIGNATURE"
	HeaderTimestamp     = "WM_CONSUMER.intimestamp"
	HeaderKeyVersion    = "WM_SEC.KEY_VERSION"
	HeaderContentType   = "Content-Type"
)

// Refresh the token this long before its server-reported expiry.
const tokenExpirySlack = 60 * time.Second

const tokenTimeout = 30 * time.Second

// Credentials is loaded once at startup and never mutated afterwards.
type Credentials struct {
	ClientID       string
	ClientSecret   string
	PrivateKeyPath string
	PrivateKeyPEM  []byte // used instead of PrivateKeyPath when non-empty
	KeyVersion     string
	AdvertiserID   string
}

// Authority produces signed header sets. It owns the token cache; two
// authorities never share state, so tests can run them side by side.
type Authority struct {
	creds    Credentials
	key      *rsa.PrivateKey
	tokenURL string
	http     *retryablehttp.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// New validates the credentials and parses the private key up front, so a
// bad configuration fails before the first network attempt.
func New(creds Credentials, tokenURL string) (*Authority, error) {
	if creds.ClientID == "" {
		return nil, wmerr.New(wmerr.Config, "client id is not set")
	}
	if creds.ClientSecret == "" {
		return nil, wmerr.New(wmerr.Config, "client secret is not set")
	}

	pemBytes := creds.PrivateKeyPEM
	if len(pemBytes) == 0 {
		if creds.PrivateKeyPath == "" {
			return nil, wmerr.New(wmerr.Config, "private key is not set")
		}
		b, err := os.ReadFile(creds.PrivateKeyPath)
		if err != nil {
			return nil, wmerr.Wrap(wmerr.Config, err, "reading private key %s", creds.PrivateKeyPath)
		}
		pemBytes = b
	}

	key, err := parsePrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}

	return &Authority{
		creds:    creds,
		key:      key,
		tokenURL: tokenURL,
		// The token exchange gets exactly one retry on transient failure.
		http: whttp.NewClient(1, tokenTimeout),
		now:  time.Now,
	}, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, wmerr.New(wmerr.Config, "private key is not valid PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, wmerr.Wrap(wmerr.Config, err, "parsing private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, wmerr.New(wmerr.Config, "private key is not RSA")
	}
	return key, nil
}

// HeadersFor returns the six authentication headers for one request. The
// timestamp header and the timestamp inside the signature are generated
// together; a header set is never valid for any other method/path pair.
func (a *Authority) HeadersFor(ctx context.Context, method, rawURL string) (http.Header, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, wmerr.Wrap(wmerr.Config, err, "parsing request URL %q", rawURL)
	}

	timestamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	signature, err := a.sign(method, u.Path, timestamp)
	if err != nil {
		return nil, err
	}

	h := make(http.Header)
	h[HeaderAuthorization] = []string{"Bearer " + token}
	h[HeaderConsumerID] = []string{a.creds.ClientID}
	h[HeaderSignature] = []string{signature}
	h[HeaderTimestamp] = []string{timestamp}
	h[HeaderKeyVersion] = []string{a.creds.KeyVersion}
	h[HeaderContentType] = []string{"application/json"}
	return h, nil
}

// sign builds the canonical string and signs it with RSA PKCS#1 v1.5 / SHA-256.
// Only the path component participates; the query string does not.
func (a *Authority) sign(method, path, timestamp string) (string, error) {
	stringToSign := a.creds.ClientID + "\n" +
		timestamp + "\n" +
		strings.ToUpper(method) + "\n" +
		path + "\n"

	digest := sha256.Sum256([]byte(stringToSign))
	sig, err := rsa.SignPKCS1v15(rand.Reader, a.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", wmerr.Wrap(wmerr.Config, err, "signing request")
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// accessToken returns the cached token, refreshing it when it is absent or
// within 60 seconds of expiry. The check-then-refresh sequence runs under
// the mutex so parallel callers cannot trigger duplicate exchanges.
func (a *Authority) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && now.Before(a.expiresAt.Add(-tokenExpirySlack)) {
		return a.token, nil
	}

	utils.Log.Info("Requesting new OAuth access token")

	basic := base64.StdEncoding.EncodeToString([]byte(a.creds.ClientID + ":" + a.creds.ClientSecret))
	res, err := whttp.Send(ctx, a.http, &whttp.Request{
		Method: "POST",
		URL:    a.tokenURL,
		Header: http.Header{
			"Authorization": {"Basic " + basic},
			"Content-Type":  {"application/x-www-form-urlencoded"},
		},
		Body: []byte("grant_type=client_credentials"),
	})
	if err != nil {
		return "", wmerr.Wrap(wmerr.Auth, err, "token exchange")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", wmerr.HTTPStatus(wmerr.Auth, res.StatusCode, res.Body, "token exchange rejected")
	}

	token := gjson.Get(res.Body, "access_token").Str
	if token == "" {
		return "", wmerr.HTTPStatus(wmerr.Auth, res.StatusCode, res.Body, "no access_token in token response")
	}
	expiresIn := gjson.Get(res.Body, "expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	a.token = token
	a.expiresAt = now.Add(time.Duration(expiresIn) * time.Second)

	utils.Log.Debugf("OAuth token obtained, expires in %ds", expiresIn)
	return a.token, nil
}
