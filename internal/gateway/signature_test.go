package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"
)

func TestChannelSignatureRoundTrip(t *testing.T) {
	form := url.Values{}
	form.Set("From", "+15550000")
	form.Set("Body", "hello there")

	const token = "auth-token-123"
	const publicURL = "https://fern.example.com/webhooks/whatsapp"

	sig := channelSignature(token, publicURL, form)
	if !verifyChannelSignature(token, publicURL, form, sig) {
		t.Fatal("valid signature rejected")
	}
}

func TestChannelSignatureRejectsTampering(t *testing.T) {
	form := url.Values{}
	form.Set("From", "+15550000")
	form.Set("Body", "hello there")

	const token = "auth-token-123"
	const publicURL = "https://fern.example.com/webhooks/whatsapp"
	sig := channelSignature(token, publicURL, form)

	tests := []struct {
		name   string
		mutate func() (string, url.Values, string)
	}{
		{"body changed", func() (string, url.Values, string) {
			f := url.Values{}
			f.Set("From", "+15550000")
			f.Set("Body", "hello thera")
			return publicURL, f, sig
		}},
		{"url changed", func() (string, url.Values, string) {
			return publicURL + "x", form, sig
		}},
		{"missing signature", func() (string, url.Values, string) {
			return publicURL, form, ""
		}},
		{"wrong token signature", func() (string, url.Values, string) {
			return publicURL, form, channelSignature("other-token", publicURL, form)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, f, s := tt.mutate()
			if verifyChannelSignature(token, u, f, s) {
				t.Error("tampered signature accepted")
			}
		})
	}
}

func githubSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubSignature(t *testing.T) {
	const secret = "webhook-secret"
	body := []byte(`{"ref":"refs/heads/main"}`)

	if !verifyGitHubSignature(secret, body, githubSign(secret, body)) {
		t.Fatal("valid signature rejected")
	}

	// One flipped byte in the body must fail.
	tampered := append([]byte(nil), body...)
	tampered[0] ^= 0x01
	if verifyGitHubSignature(secret, tampered, githubSign(secret, body)) {
		t.Error("tampered body accepted")
	}

	if verifyGitHubSignature(secret, body, "") {
		t.Error("missing header accepted")
	}
	if verifyGitHubSignature(secret, body, "sha1=deadbeef") {
		t.Error("wrong scheme accepted")
	}
	if verifyGitHubSignature(secret, body, "sha256=nothex") {
		t.Error("malformed hex accepted")
	}
}
