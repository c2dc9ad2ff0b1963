// Package signer produces the authentication headers required by the
// catalog API.
package signer

import (
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
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header names sent with every request.
const (
	HeaderConsumerID = "WM_CONSUMER.ID"
	HeaderTimestamp  = "WM_CONSUMER.INTIMESTAMP"
	HeaderKeyVersion = "WM_SEC.KEY_VERSION"
	HeaderSignature  = "WM_SEC.AUTH_SIGNATURE"
)

// ErrSigning marks failures that make every request unauthorizable.
var ErrSigning = errors.New("signer: signing failed")

// Credential identifies the caller and holds its signing key.
type Credential struct {
	ConsumerID string
	KeyVersion string
	PrivateKey *rsa.PrivateKey
}

// Signer builds signed header sets from a credential and a clock.
type Signer struct {
	cred Credential
	now  func() time.Time
}

// New returns a Signer using the wall clock.
func New(cred Credential) (*Signer, error) {
	if strings.TrimSpace(cred.ConsumerID) == "" {
		return nil, fmt.Errorf("%w: consumer id is empty", ErrSigning)
	}
	if strings.TrimSpace(cred.KeyVersion) == "" {
		return nil, fmt.Errorf("%w: key version is empty", ErrSigning)
	}
	if cred.PrivateKey == nil {
		return nil, fmt.Errorf("%w: private key is nil", ErrSigning)
	}
	return &Signer{cred: cred, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Headers signs the current time and returns the header set for one request.
func (s *Signer) Headers() (http.Header, error) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	fields := map[string]string{
		HeaderConsumerID: s.cred.ConsumerID,
		HeaderTimestamp:  ts,
		HeaderKeyVersion: s.cred.KeyVersion,
	}

	signature, err := s.sign(CanonicalPayload(fields))
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	// Header names contain dots and underscores; set them verbatim.
	h[HeaderConsumerID] = []string{s.cred.ConsumerID}
	h[HeaderTimestamp] = []string{ts}
	h[HeaderKeyVersion] = []string{s.cred.KeyVersion}
	h[HeaderSignature] = []string{signature}
	return h, nil
}

func (s *Signer) sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.cred.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// CanonicalPayload joins the field values ordered by field name, one per
// line, with a trailing newline.
func CanonicalPayload(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fields[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// LoadPrivateKey reads an RSA key from path. PEM (PKCS#1 or PKCS#8) and bare
// base64-encoded DER are accepted.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", ErrSigning, err)
	}
	return ParsePrivateKey(raw)
}

// ParsePrivateKey decodes an RSA private key from PEM or base64 DER bytes.
func ParsePrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	var der []byte
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	} else {
		cleaned := strings.Join(strings.Fields(string(raw)), "")
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("%w: private key is neither PEM nor base64: %v", ErrSigning, err)
		}
		der = decoded
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrSigning, key)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrSigning, err)
	}
	return key, nil
}

// KeyFileSigner defers reading the private key until Load, so a bad key can
// be reported as part of a run rather than before one starts.
type KeyFileSigner struct {
	ConsumerID string
	KeyVersion string
	KeyPath    string

	mu     sync.Mutex
	signer *Signer
}

// Load reads and parses the key and builds the underlying Signer. Errors
// wrap ErrSigning.
func (k *KeyFileSigner) Load() error {
	key, err := LoadPrivateKey(k.KeyPath)
	if err != nil {
		return err
	}
	s, err := New(Credential{ConsumerID: k.ConsumerID, KeyVersion: k.KeyVersion, PrivateKey: key})
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.signer = s
	k.mu.Unlock()
	return nil
}

// Headers signs with the loaded key. It fails until Load has succeeded.
func (k *KeyFileSigner) Headers() (http.Header, error) {
	k.mu.Lock()
	s := k.signer
	k.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: private key not loaded", ErrSigning)
	}
	return s.Headers()
}

// Check loads the key and signs once.
func (k *KeyFileSigner) Check() error {
	if err := k.Load(); err != nil {
		return err
	}
	_, err := k.Headers()
	return err
}
