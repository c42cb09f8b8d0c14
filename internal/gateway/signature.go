package gateway

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// channelSignature computes the channel library's HMAC: SHA-1 over the
// public webhook URL concatenated with every form field as key+value in
// key-sorted order, base64-encoded. This matches what the channel gateway
// signs every delivery with.
func channelSignature(authToken, publicURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(publicURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifyChannelSignature checks a delivery's X-Channel-Signature header in
// constant time. An empty provided signature never verifies.
func verifyChannelSignature(authToken, publicURL string, form url.Values, provided string) bool {
	if provided == "" {
		return false
	}
	want := channelSignature(authToken, publicURL, form)
	return subtle.ConstantTimeCompare([]byte(want), []byte(provided)) == 1
}

// verifyGitHubSignature checks the X-Hub-Signature-256 header
// ("sha256=<hex>") against HMAC-SHA256 of the raw request body, in
// constant time.
func verifyGitHubSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
