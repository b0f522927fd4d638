package transform_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode/utf32"

	"github.com/tigerroll/replica/pkg/replica/component/transform"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// encrypt produces ciphertext in the CryptoAPI layout the decryptor expects.
func encrypt(t *testing.T, pub *rsa.PublicKey, plain string) string {
	t.Helper()
	data, err := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewEncoder().Bytes([]byte(plain))
	require.NoError(t, err)
	chunk := pub.Size() - 2*sha1.Size - 2
	var out string
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		block, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, data[off:end], nil)
		require.NoError(t, err)
		for i, j := 0, len(block)-1; i < j; i, j = i+1, j-1 {
			block[i], block[j] = block[j], block[i]
		}
		out += base64.StdEncoding.EncodeToString(block)
	}
	return out
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return k
}

func TestDecrypt_RoundTripMultiBlock(t *testing.T) {
	key := newKey(t)
	long := "someone.with.a.rather.long.address@example.com"
	got, err := transform.Decrypt(key, encrypt(t, &key.PublicKey, long))
	require.NoError(t, err)
	assert.Equal(t, long, got)
}

func TestRSADecryptor_TransformCopiesAndDecrypts(t *testing.T) {
	key := newKey(t)
	d := transform.NewRSADecryptor("")
	d.AddKey("thumb", key)

	in := &model.RowSet{
		Entity:  "Accounts",
		Columns: []string{"Id", "EmailAddress", "PhoneNumber"},
		Rows: []model.RowChangeRecord{
			{Values: []any{int64(1), encrypt(t, &key.PublicKey, "a@example.com"), encrypt(t, &key.PublicKey, "555-0100")}, Op: model.OpNew},
			{Values: []any{int64(2), nil, ""}, Op: model.OpDelete},
		},
	}
	original := in.Rows[0].Values[1]

	out, err := d.Transform(context.Background(), in, "thumb", []string{"emailaddress", "PhoneNumber", "Missing"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", out.Rows[0].Values[1])
	assert.Equal(t, "555-0100", out.Rows[0].Values[2])
	assert.Nil(t, out.Rows[1].Values[1])
	assert.Equal(t, "", out.Rows[1].Values[2])
	assert.Equal(t, original, in.Rows[0].Values[1], "input row set is not mutated")
}

func TestRSADecryptor_MalformedValueFails(t *testing.T) {
	key := newKey(t)
	d := transform.NewRSADecryptor("")
	d.AddKey("thumb", key)
	in := &model.RowSet{
		Entity:  "Accounts",
		Columns: []string{"EmailAddress"},
		Rows:    []model.RowChangeRecord{{Values: []any{"not-ciphertext"}, Op: model.OpNew}},
	}
	_, err := d.Transform(context.Background(), in, "thumb", []string{"EmailAddress"})
	assert.True(t, errors.Is(err, transform.ErrUndecryptable))
}

func TestRSADecryptor_LoadsKeyFromDir(t *testing.T) {
	key := newKey(t)
	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ABC123.pem"), pemBytes, 0o600))

	d := transform.NewRSADecryptor(dir)
	in := &model.RowSet{
		Entity:  "Accounts",
		Columns: []string{"PhoneNumber"},
		Rows:    []model.RowChangeRecord{{Values: []any{encrypt(t, &key.PublicKey, "555-0199")}, Op: model.OpNew}},
	}
	out, err := d.Transform(context.Background(), in, "ABC123", []string{"PhoneNumber"})
	require.NoError(t, err)
	assert.Equal(t, "555-0199", out.Rows[0].Values[0])

	_, err = d.Transform(context.Background(), in, "missing", []string{"PhoneNumber"})
	assert.Error(t, err)
}
