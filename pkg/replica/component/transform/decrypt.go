package transform

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/encoding/unicode/utf32"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// ErrUndecryptable is returned for a value that is not valid ciphertext for the key.
var ErrUndecryptable = errors.New("the value could not be decrypted with the specified key, and may have been modified")

// RSADecryptor decrypts values written by the CryptoAPI RSA provider: the
// plaintext is UTF-32LE, split into OAEP (SHA-1) blocks whose ciphertext is
// byte-reversed and base64-encoded back to back.
type RSADecryptor struct {
	keyDir string

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
}

// NewRSADecryptor loads keys from keyDir/<keyID>.pem on first use.
func NewRSADecryptor(keyDir string) *RSADecryptor {
	return &RSADecryptor{keyDir: keyDir, keys: make(map[string]*rsa.PrivateKey)}
}

// AddKey registers a key without reading it from disk.
func (d *RSADecryptor) AddKey(keyID string, key *rsa.PrivateKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[keyID] = key
}

func (d *RSADecryptor) key(keyID string) (*rsa.PrivateKey, error) {
	if keyID == "" {
		return nil, errors.New("no decryption key id configured")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.keys[keyID]; ok {
		return k, nil
	}
	path := filepath.Join(d.keyDir, keyID+".pem")
	k, err := LoadPrivateKey(path)
	if err != nil {
		return nil, err
	}
	d.keys[keyID] = k
	logger.Infof("Loaded decryption key %s from %s.", keyID, path)
	return k, nil
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s contains no PEM block", path)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s holds a %T, not an RSA key", path, k)
		}
		return rk, nil
	}
	return nil, fmt.Errorf("%s: unsupported PEM block %q", path, block.Type)
}

// Transform implements Transformer.
func (d *RSADecryptor) Transform(ctx context.Context, rows *model.RowSet, keyID string, fields []string) (*model.RowSet, error) {
	if len(fields) == 0 || rows.Len() == 0 {
		return rows, nil
	}
	key, err := d.key(keyID)
	if err != nil {
		return nil, err
	}

	var cols []int
	for _, f := range fields {
		if i := rows.ColumnIndex(f); i >= 0 {
			cols = append(cols, i)
		} else {
			logger.Debugf("Sensitive column %s.%s is not projected; skipping.", rows.Entity, f)
		}
	}
	if len(cols) == 0 {
		return rows, nil
	}

	out := rows.Clone()
	for r := range out.Rows {
		for _, c := range cols {
			v, err := decryptValue(key, out.Rows[r].Values[c])
			if err != nil {
				return nil, fmt.Errorf("%s.%s (row %d): %w", rows.Entity, rows.Columns[c], r, err)
			}
			out.Rows[r].Values[c] = v
		}
	}
	return out, nil
}

func decryptValue(key *rsa.PrivateKey, v any) (any, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return nil, fmt.Errorf("cannot decrypt a %T value", v)
	}
	if s == "" {
		return s, nil
	}
	return Decrypt(key, s)
}

// Base64BlockSize is the length of one encoded ciphertext block for key.
func Base64BlockSize(key *rsa.PrivateKey) int {
	n := key.Size()
	if n%3 != 0 {
		return (n/3)*4 + 4
	}
	return (n / 3) * 4
}

// Decrypt decrypts one value.
func Decrypt(key *rsa.PrivateKey, cipherText string) (string, error) {
	size := Base64BlockSize(key)
	if len(cipherText)%size != 0 {
		return "", ErrUndecryptable
	}
	var plain []byte
	for off := 0; off < len(cipherText); off += size {
		block, err := base64.StdEncoding.DecodeString(cipherText[off : off+size])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
		}
		reverse(block)
		part, err := rsa.DecryptOAEP(sha1.New(), nil, key, block, nil)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
		}
		plain = append(plain, part...)
	}
	text, err := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewDecoder().Bytes(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	return string(text), nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

var _ Transformer = (*RSADecryptor)(nil)
