package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/executor"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/keys"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/solana"
	"solana-volume-engine/internal/solana/stub"
	"solana-volume-engine/internal/storage"
	"solana-volume-engine/internal/storage/memory"
	"solana-volume-engine/internal/swap"
)

const (
	testCampaign = "camp-1"
	testRun      = "run-1"
	testUser     = "user-1"
	testWallet   = "w1"
	testFunding  = "funding"
)

var fastExec = executor.Config{
	Commitment:     solana.CommitmentConfirmed,
	ConfirmTimeout: 500 * time.Millisecond,
	PollInterval:   5 * time.Millisecond,
}

// flakyBroker fails the first failures publishes to one queue.
type flakyBroker struct {
	*queue.MemoryBroker
	queue    string
	failures int
}

func (b *flakyBroker) Publish(ctx context.Context, q string, body []byte, opts queue.PublishOptions) error {
	if q == b.queue && b.failures > 0 {
		b.failures--
		return errors.New("broker connection reset")
	}
	return b.MemoryBroker.Publish(ctx, q, body, opts)
}

// failPublishes routes the env's dispatches through a broker that fails the
// first n publishes to queueName.
func (e *env) failPublishes(queueName string, n int) {
	e.deps.Dispatcher = jobs.NewDispatcher(&flakyBroker{MemoryBroker: e.broker, queue: queueName, failures: n}, e.stores.Jobs)
}

// fakeSwap builds a transfer of AmountIn lamports to the pool as the swap.
type fakeSwap struct {
	mu       sync.Mutex
	requests []swap.Request
	err      error
}

func (f *fakeSwap) BuildSwap(_ context.Context, req swap.Request) ([]sol.Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	owner, err := sol.PublicKeyFromBase58(req.Owner)
	if err != nil {
		return nil, err
	}
	pool, err := sol.PublicKeyFromBase58(req.Pool)
	if err != nil {
		return nil, err
	}
	return []sol.Instruction{system.NewTransferInstruction(req.AmountIn, owner, pool).Build()}, nil
}

func (f *fakeSwap) last() swap.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type env struct {
	stores     storage.Stores
	broker     *queue.MemoryBroker
	dispatcher *jobs.Dispatcher
	ledger     *jobs.Ledger
	rpc        *stub.RPCClient
	keyring    *keys.SecretboxKeyring
	swap       *fakeSwap
	deps       *Deps
	mint       string
	keys       map[string]sol.PrivateKey // wallet id -> key
}

func newEnv(t *testing.T, status domain.CampaignStatus) *env {
	t.Helper()
	ctx := context.Background()

	keyring, err := keys.NewSecretboxKeyring(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	stores := memory.NewStores()
	ledger, err := jobs.NewLedger(100, stores.Executions)
	require.NoError(t, err)

	broker := queue.NewMemoryBroker(queue.WithBackoff(func(int) time.Duration { return time.Millisecond }))
	t.Cleanup(func() { broker.Close() })

	rpc := stub.NewRPCClient()
	direct := executor.NewDirect(rpc, fastExec)
	selector := executor.NewSelector(rpc, direct, fastExec, func(string, string) solana.BundleClient { return rpc }, rand.New(rand.NewPCG(1, 2)), nil)

	e := &env{
		stores:     stores,
		broker:     broker,
		dispatcher: jobs.NewDispatcher(broker, stores.Jobs, jobs.WithMaxAttempts(domain.QueueTradeSell, 3)),
		ledger:     ledger,
		rpc:        rpc,
		keyring:    keyring,
		swap:       &fakeSwap{},
		keys:       make(map[string]sol.PrivateKey),
	}

	mint := newKey(t).PublicKey().String()
	e.mint = mint
	require.NoError(t, stores.Tokens.Insert(ctx, &domain.Token{ID: "tok-1", Mint: mint, Symbol: "TST", Decimals: 6}))
	require.NoError(t, stores.Pools.Insert(ctx, &domain.Pool{ID: "pool-1", TokenID: "tok-1", Address: newKey(t).PublicKey().String(), Dex: "raydium"}))

	e.addWallet(t, testFunding, true)
	e.addWallet(t, testWallet, true)

	now := time.Now().UTC()
	require.NoError(t, stores.Campaigns.Insert(ctx, &domain.Campaign{
		ID:              testCampaign,
		UserID:          testUser,
		TokenID:         "tok-1",
		PoolID:          "pool-1",
		FundingWalletID: testFunding,
		Params: domain.CampaignParams{
			MinTxSOL:       decimal.RequireFromString("0.01"),
			MaxTxSOL:       decimal.RequireFromString("0.05"),
			MinIntervalSec: 10,
			MaxIntervalSec: 30,
		},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, stores.Runs.Insert(ctx, &domain.CampaignRun{ID: testRun, CampaignID: testCampaign, Status: domain.RunRunning, StartedAt: now}))

	e.deps = &Deps{
		Stores:     stores,
		Dispatcher: e.dispatcher,
		RPC:        rpc,
		Executors:  selector,
		Transfers:  direct,
		Keyring:    keyring,
		Swap:       e.swap,
		Defaults: settings.Defaults{
			MinAmountSOL:  decimal.RequireFromString("0.01"),
			MaxAmountSOL:  decimal.RequireFromString("0.02"),
			MinInterval:   5 * time.Second,
			MaxInterval:   10 * time.Second,
			SlippageBps:   100,
			SellTimes:     5,
			StepDelay:     5 * time.Second,
			MaxBundleSize: 5,
		},
		Timing: DefaultTiming(),
		Rand:   rand.New(rand.NewPCG(3, 4)),
	}
	return e
}

func newKey(t *testing.T) sol.PrivateKey {
	t.Helper()
	k, err := sol.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

// addWallet stores a wallet of the test user with an encrypted fresh key.
func (e *env) addWallet(t *testing.T, id string, active bool) *domain.Wallet {
	t.Helper()
	key := newKey(t)
	sealed, err := e.keyring.Encrypt(context.Background(), key)
	require.NoError(t, err)

	w := &domain.Wallet{
		ID:                  id,
		UserID:              testUser,
		Address:             key.PublicKey().String(),
		EncryptedPrivateKey: sealed,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, e.stores.Wallets.Insert(context.Background(), w))
	if active {
		require.NoError(t, e.stores.Wallets.SetActive(context.Background(), []string{id}, true))
	}
	e.keys[id] = key
	return w
}

// rotateBlockhash moves the stub to a new recent blockhash.
func (e *env) rotateBlockhash(t *testing.T) {
	t.Helper()
	e.rpc.Blockhash = &solana.Blockhash{Hash: sol.Hash(newKey(t).PublicKey()).String(), LastValidBlockHeight: 2000}
}

func (e *env) wallet(t *testing.T, id string) *domain.Wallet {
	t.Helper()
	w, err := e.stores.Wallets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (e *env) setCampaignStatus(t *testing.T, status domain.CampaignStatus) {
	t.Helper()
	require.NoError(t, e.stores.Campaigns.UpdateStatus(context.Background(), testCampaign, status))
}

// message persists a queued job for payload and returns its first delivery.
func (e *env) message(t *testing.T, queueName, jobType string, payload jobs.Payload) *queue.Message {
	t.Helper()
	id := uuid.NewString()
	payload.SetDBJobID(id)
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NoError(t, e.stores.Jobs.Insert(context.Background(), &domain.Job{
		ID:      id,
		RunID:   testRun,
		Queue:   queueName,
		Type:    jobType,
		Payload: body,
		Status:  domain.JobQueued,
	}))
	return &queue.Message{ID: id, Queue: queueName, Body: body, Attempt: 1, MaxAttempts: 3, PublishedAt: time.Now()}
}

// deliver runs w on msg outside a Runner.
func (e *env) deliver(t *testing.T, w jobs.Worker, msg *queue.Message) (any, error) {
	t.Helper()
	var ref domain.JobRef
	require.NoError(t, json.Unmarshal(msg.Body, &ref))
	jc := jobs.NewJobContext(msg, ref.DBJobID, e.stores.Jobs, e.ledger, nil)
	return w.Execute(context.Background(), jc)
}

func (e *env) executions(t *testing.T) []*domain.Execution {
	t.Helper()
	list, err := e.stores.Executions.ListByRun(context.Background(), testRun)
	require.NoError(t, err)
	return list
}

// pending decodes the payloads waiting on a queue.
func pending[T any](t *testing.T, b *queue.MemoryBroker, queueName string) []T {
	t.Helper()
	var out []T
	for _, m := range b.Pending(queueName) {
		var v T
		require.NoError(t, json.Unmarshal(m.Body, &v))
		out = append(out, v)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
