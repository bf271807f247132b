package executor

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/solana"
)

// RelayFactory creates a relay client for a relay URL and auth key.
type RelayFactory func(relayURL, authKey string) solana.BundleClient

// Selector returns the executor matching resolved execution settings.
type Selector struct {
	rpc      solana.RPCClient
	direct   *Direct
	cfg      Config
	newRelay RelayFactory
	rng      *rand.Rand
	log      *logrus.Entry

	mu     sync.Mutex
	relays map[string]solana.BundleClient
}

// NewSelector creates a Selector. Relay clients are created lazily and cached
// per relay URL and credential.
func NewSelector(rpc solana.RPCClient, direct *Direct, cfg Config, newRelay RelayFactory, rng *rand.Rand, log *logrus.Entry) *Selector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{
		rpc:      rpc,
		direct:   direct,
		cfg:      cfg,
		newRelay: newRelay,
		rng:      rng,
		log:      log,
		relays:   make(map[string]solana.BundleClient),
	}
}

// Direct returns the direct executor, used for transfers regardless of settings.
func (s *Selector) Direct() *Direct {
	return s.direct
}

// Select returns the strategy for exec.
func (s *Selector) Select(exec settings.Execution) (Executor, error) {
	switch exec.Kind {
	case settings.KindDirect, "":
		if exec.PriorityFee > 0 {
			return s.direct.WithPriorityFee(exec.PriorityFee), nil
		}
		return s.direct, nil
	case settings.KindBundle:
		if exec.RelayURL == "" || exec.AuthKey == "" {
			return nil, fmt.Errorf("%w: bundle execution requires relay url and auth key", settings.ErrConfiguration)
		}
		relay := s.relay(exec.RelayURL, exec.AuthKey)
		// Each bundle gets its own generator seeded from the shared one.
		s.mu.Lock()
		rng := rand.New(rand.NewPCG(s.rng.Uint64(), s.rng.Uint64()))
		s.mu.Unlock()
		return NewBundle(s.rpc, relay, s.cfg, BundleOptions{
			TipLamports:   exec.TipLamports,
			MaxBundleSize: exec.MaxBundleSize,
			PriorityFee:   exec.PriorityFee,
		}, rng, s.log), nil
	}
	return nil, fmt.Errorf("%w: unknown execution kind %q", settings.ErrConfiguration, exec.Kind)
}

func (s *Selector) relay(url, key string) solana.BundleClient {
	cacheKey := url + "\x00" + key

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.relays[cacheKey]; ok {
		return c
	}
	c := s.newRelay(url, key)
	s.relays[cacheKey] = c
	return c
}
