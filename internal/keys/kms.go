package keys

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// KMSKeyring delegates sealing to a remote key management service.
type KMSKeyring struct {
	baseURL    string
	authToken  string
	keyAlias   string
	httpClient *http.Client
}

// KMSConfig configures a KMSKeyring.
type KMSConfig struct {
	ServiceURL string
	AuthToken  string
	KeyAlias   string
	Timeout    time.Duration
}

type kmsRequest struct {
	KeyAlias   string `json:"key_alias"`
	Ciphertext string `json:"ciphertext,omitempty"` // base64
	Plaintext  string `json:"plaintext,omitempty"`  // base64
}

type kmsResponse struct {
	Success    bool   `json:"success"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Plaintext  string `json:"plaintext,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewKMSKeyring creates a keyring backed by the key service at cfg.ServiceURL.
func NewKMSKeyring(cfg KMSConfig) *KMSKeyring {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &KMSKeyring{
		baseURL:   cfg.ServiceURL,
		authToken: cfg.AuthToken,
		keyAlias:  cfg.KeyAlias,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Decrypt asks the service to open ciphertext.
func (k *KMSKeyring) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := k.call(ctx, "/api/v1/decrypt", kmsRequest{
		KeyAlias:   k.keyAlias,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, err
	}

	secret, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("decode kms plaintext: %w", err)
	}
	return secret, nil
}

// Encrypt asks the service to seal secret.
func (k *KMSKeyring) Encrypt(ctx context.Context, secret []byte) ([]byte, error) {
	resp, err := k.call(ctx, "/api/v1/encrypt", kmsRequest{
		KeyAlias:  k.keyAlias,
		Plaintext: base64.StdEncoding.EncodeToString(secret),
	})
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(resp.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode kms ciphertext: %w", err)
	}
	return sealed, nil
}

// call posts a request. Rejected credentials and failed unsealing map to ErrAuthentication.
func (k *KMSKeyring) call(ctx context.Context, path string, body kmsRequest) (*kmsResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal kms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create kms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if k.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+k.authToken)
	}

	httpResp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kms request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read kms response: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: kms status %d", ErrAuthentication, httpResp.StatusCode)
	case httpResp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: kms rejected ciphertext", ErrAuthentication)
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		return nil, fmt.Errorf("kms status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp kmsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse kms response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("kms: %s", resp.Error)
	}
	return &resp, nil
}

var _ Keyring = (*KMSKeyring)(nil)
