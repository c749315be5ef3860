package webhook

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testKeypair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return key, pemKey
}

func sign(t *testing.T, key *rsa.PrivateKey, messageID, timestamp string, body []byte) string {
	t.Helper()
	msg := messageID + "." + timestamp + "." + string(body)
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func TestVerify(t *testing.T) {
	key, pemKey := testKeypair(t)
	v, err := NewVerifier(pemKey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	body := []byte(`{"event":"channel.followed"}`)
	sig := sign(t, key, "msg-1", "2024-01-01T00:00:00Z", body)

	if err := v.Verify("msg-1", "2024-01-01T00:00:00Z", body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// any tampered component must invalidate the signature
	if err := v.Verify("msg-2", "2024-01-01T00:00:00Z", body, sig); err == nil {
		t.Fatalf("tampered message id accepted")
	}
	if err := v.Verify("msg-1", "2024-01-01T00:00:01Z", body, sig); err == nil {
		t.Fatalf("tampered timestamp accepted")
	}
	if err := v.Verify("msg-1", "2024-01-01T00:00:00Z", []byte(`{}`), sig); err == nil {
		t.Fatalf("tampered body accepted")
	}
	if err := v.Verify("msg-1", "2024-01-01T00:00:00Z", body, "!!not-base64!!"); err == nil {
		t.Fatalf("undecodable signature accepted")
	}
}

func TestNewVerifierDefaultsToEmbeddedKey(t *testing.T) {
	v, err := NewVerifier("")
	if err != nil {
		t.Fatalf("embedded key failed to parse: %v", err)
	}
	if v.key == nil {
		t.Fatalf("no key loaded")
	}
}

func TestNewVerifierRejectsGarbage(t *testing.T) {
	if _, err := NewVerifier("not a pem"); err == nil {
		t.Fatalf("expected error for non-PEM input")
	}
}

func TestHandler(t *testing.T) {
	key, pemKey := testKeypair(t)
	v, err := NewVerifier(pemKey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	var gotType string
	h := NewHandler(v)
	h.OnVerified = func(eventType string, _ []byte) { gotType = eventType }

	body := `{"follower":{"username":"fan"}}`
	sig := sign(t, key, "m-1", "ts", []byte(body))

	newReq := func(withHeaders bool, signature string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/kick", strings.NewReader(body))
		if withHeaders {
			r.Header.Set(headerSignature, signature)
			r.Header.Set(headerMessageID, "m-1")
			r.Header.Set(headerTimestamp, "ts")
			r.Header.Set(headerEventType, "channel.followed")
		}
		return r
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(true, sig))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid delivery got %d: %s", rec.Code, rec.Body.String())
	}
	if gotType != "channel.followed" {
		t.Fatalf("callback not invoked, got %q", gotType)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(false, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing headers got %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(true, base64.StdEncoding.EncodeToString([]byte("bogus"))))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature got %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/kick", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET got %d, want 405", rec.Code)
	}
}
