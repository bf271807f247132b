package keys

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretboxKeyring_RoundTrip(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)
	k, err := NewSecretboxKeyring(master)
	require.NoError(t, err)

	_, secret, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ctx := context.Background()
	sealed, err := k.Encrypt(ctx, secret)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(secret))

	opened, err := k.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte(secret), opened)

	again, err := k.Encrypt(ctx, secret)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must be fresh per seal")
}

func TestSecretboxKeyring_Authentication(t *testing.T) {
	ctx := context.Background()
	k, err := NewSecretboxKeyring(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	other, err := NewSecretboxKeyring(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	sealed, err := k.Encrypt(ctx, []byte("secret key material"))
	require.NoError(t, err)

	_, err = other.Decrypt(ctx, sealed)
	assert.ErrorIs(t, err, ErrAuthentication)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = k.Decrypt(ctx, tampered)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = k.Decrypt(ctx, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestParseMasterKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, 32)

	got, err := ParseMasterKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = ParseMasterKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = ParseMasterKey("short")
	assert.Error(t, err)

	_, err = NewSecretboxKeyring([]byte("short"))
	assert.Error(t, err)
}

func TestKMSKeyring(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req kmsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "wallets", req.KeyAlias)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/encrypt":
			// Reversible stand-in for a real seal.
			json.NewEncoder(w).Encode(kmsResponse{Success: true, Ciphertext: req.Plaintext})
		case "/api/v1/decrypt":
			if req.Ciphertext == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			json.NewEncoder(w).Encode(kmsResponse{Success: true, Plaintext: req.Ciphertext})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	k := NewKMSKeyring(KMSConfig{ServiceURL: server.URL, AuthToken: "token", KeyAlias: "wallets"})

	sealed, err := k.Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)
	opened, err := k.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), opened)

	_, err = k.Decrypt(ctx, nil)
	assert.ErrorIs(t, err, ErrAuthentication)

	unauthorized := NewKMSKeyring(KMSConfig{ServiceURL: server.URL, KeyAlias: "wallets"})
	_, err = unauthorized.Decrypt(ctx, sealed)
	assert.ErrorIs(t, err, ErrAuthentication)
}
