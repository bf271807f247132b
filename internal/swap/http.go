package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	sol "github.com/gagliardetto/solana-go"
)

// HTTPBuilder asks an instruction service for swap instructions.
type HTTPBuilder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPBuilder creates a builder for the service at baseURL.
func NewHTTPBuilder(baseURL, apiKey string, timeout time.Duration) *HTTPBuilder {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBuilder{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type swapRequest struct {
	Owner       string `json:"owner"`
	Mint        string `json:"mint"`
	Pool        string `json:"pool"`
	Dex         string `json:"dex"`
	Side        string `json:"side"`
	AmountIn    string `json:"amountIn"`
	SlippageBps int    `json:"slippageBps"`
}

type swapResponse struct {
	Instructions []instructionJSON `json:"instructions"`
	Error        string            `json:"error,omitempty"`
}

type instructionJSON struct {
	ProgramID string        `json:"programId"`
	Accounts  []accountJSON `json:"accounts"`
	Data      string        `json:"data"` // base64
}

type accountJSON struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// BuildSwap posts the request to /swap-instructions and decodes the result.
func (b *HTTPBuilder) BuildSwap(ctx context.Context, req Request) ([]sol.Instruction, error) {
	body, err := json.Marshal(swapRequest{
		Owner:       req.Owner,
		Mint:        req.Mint,
		Pool:        req.Pool,
		Dex:         req.Dex,
		Side:        string(req.Side),
		AmountIn:    strconv.FormatUint(req.AmountIn, 10),
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/swap-instructions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}

	var parsed swapResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse swap response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		return nil, fmt.Errorf("swap service status %d: %s", resp.StatusCode, parsed.Error)
	}
	if len(parsed.Instructions) == 0 {
		return nil, fmt.Errorf("swap service returned no instructions")
	}

	instrs := make([]sol.Instruction, 0, len(parsed.Instructions))
	for i, ix := range parsed.Instructions {
		decoded, err := ix.decode()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		instrs = append(instrs, decoded)
	}
	return instrs, nil
}

func (ix instructionJSON) decode() (sol.Instruction, error) {
	programID, err := sol.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}

	accounts := make(sol.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		pk, err := sol.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.Pubkey, err)
		}
		accounts = append(accounts, sol.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}

	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}

	return sol.NewInstruction(programID, accounts, data), nil
}

var _ Builder = (*HTTPBuilder)(nil)
