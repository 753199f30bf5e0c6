package storage

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"
)

// CDNSigner issues CDN-style signed URLs: a canned access policy signed with
// an RSA key pair registered at the distribution. This is the primary URL
// path; the object-store presigned URL is the fallback.
type CDNSigner struct {
	domain    string // e.g. "https://cdn.example.com"
	keyPairID string
	key       *rsa.PrivateKey
	now       func() time.Time
}

// NewCDNSigner parses a PEM private key and returns a signer for the given
// distribution domain. Keys loaded from env files often carry escaped
// newlines, which are unescaped here.
func NewCDNSigner(domain, keyPairID, privateKeyPEM string) (*CDNSigner, error) {
	if domain == "" || keyPairID == "" || privateKeyPEM == "" {
		return nil, fmt.Errorf("cdn signing is not configured")
	}

	pemData := strings.ReplaceAll(privateKeyPEM, `\n`, "\n")
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("invalid cdn private key: no PEM block found")
	}

	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid cdn private key: %w", err)
	}

	return &CDNSigner{
		domain:    strings.TrimRight(domain, "/"),
		keyPairID: keyPairID,
		key:       key,
		now:       time.Now,
	}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return key, nil
}

// Sign returns a signed URL valid for ttl. The policy and signature ride as
// query parameters the way the CDN expects: Expires, Signature, Key-Pair-Id.
func (s *CDNSigner) Sign(key string, ttl time.Duration) (string, error) {
	resource := s.domain + "/" + strings.TrimLeft(key, "/")
	expires := s.now().Add(ttl).Unix()

	policy := fmt.Sprintf(
		`{"Statement":[{"Resource":%q,"Condition":{"DateLessThan":{"AWS:EpochTime":%d}}}]}`,
		resource, expires)

	digest := sha1.Sum([]byte(policy))
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign cdn policy: %w", err)
	}

	return fmt.Sprintf("%s?Expires=%d&Signature=%s&Key-Pair-Id=%s",
		resource, expires, urlSafeBase64(signature), s.keyPairID), nil
}

// urlSafeBase64 encodes per the CDN convention: standard base64 with the
// URL-hostile characters +, = and / swapped for -, _ and ~.
func urlSafeBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	r := strings.NewReplacer("+", "-", "=", "_", "/", "~")
	return r.Replace(encoded)
}
