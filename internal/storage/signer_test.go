package storage

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func TestNewCDNSignerRequiresConfig(t *testing.T) {
	_, err := NewCDNSigner("", "KEYID", "pem")
	assert.Error(t, err)

	_, err = NewCDNSigner("https://cdn.example.com", "KEYID", "not a pem key")
	assert.Error(t, err)
}

func TestCDNSignerSignsResourceURL(t *testing.T) {
	signer, err := NewCDNSigner("https://cdn.example.com/", "APKAEXAMPLE", testKeyPEM(t))
	require.NoError(t, err)

	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return frozen }

	signed, err := signer.Sign("audio/doc_1/page_2/voice_nova_x.mp3", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "cdn.example.com", u.Host)
	assert.Equal(t, "/audio/doc_1/page_2/voice_nova_x.mp3", u.Path)

	q := u.Query()
	assert.Equal(t, fmt.Sprint(frozen.Add(time.Hour).Unix()), q.Get("Expires"))
	assert.Equal(t, "APKAEXAMPLE", q.Get("Key-Pair-Id"))
	sig := q.Get("Signature")
	assert.NotEmpty(t, sig)
	// URL-hostile base64 characters must be swapped out.
	assert.NotContains(t, sig, "+")
	assert.NotContains(t, sig, "/")
	assert.NotContains(t, sig, "=")
}

func TestCDNSignerHandlesEscapedNewlines(t *testing.T) {
	escaped := strings.ReplaceAll(testKeyPEM(t), "\n", `\n`)
	_, err := NewCDNSigner("https://cdn.example.com", "APKAEXAMPLE", escaped)
	assert.NoError(t, err)
}

func TestAudioKeyLayout(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

	key := AudioKey("doc-uuid", 3, "nova", ts, "audio/mpeg")
	assert.Equal(t, "audio/doc_doc-uuid/page_3/voice_nova_20260301_123045.mp3", key)

	// The local backend produces WAV; the key has to say so.
	key = AudioKey("doc-uuid", 3, "nova", ts, "audio/wav")
	assert.Equal(t, "audio/doc_doc-uuid/page_3/voice_nova_20260301_123045.wav", key)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".mp3", ExtensionFor("audio/mpeg"))
	assert.Equal(t, ".wav", ExtensionFor("audio/wav"))
	assert.Equal(t, ".wav", ExtensionFor("audio/x-wav"))
	assert.Equal(t, ".ogg", ExtensionFor("audio/ogg"))
	assert.Equal(t, ".mp3", ExtensionFor(""))
}
