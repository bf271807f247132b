// Package settings resolves effective trading settings from user overrides,
// campaign parameters and environment defaults.
package settings

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"solana-volume-engine/internal/domain"
)

// ErrConfiguration is returned when the resolved settings cannot be executed.
var ErrConfiguration = errors.New("configuration error")

// ExecutionKind selects the transaction submission strategy.
type ExecutionKind string

const (
	KindDirect ExecutionKind = "direct"
	KindBundle ExecutionKind = "bundle"
)

// DefaultMaxBundleSize is the relay's bundle transaction limit.
const DefaultMaxBundleSize = 5

// Defaults are the environment-level values, the lowest precedence tier.
type Defaults struct {
	MinAmountSOL  decimal.Decimal
	MaxAmountSOL  decimal.Decimal
	MinInterval   time.Duration
	MaxInterval   time.Duration
	SlippageBps   int
	SellTimes     int
	StepDelay     time.Duration
	UseJito       bool
	TipLamports   uint64
	PriorityFee   uint64
	RelayURL      string
	AuthKey       string
	MaxBundleSize int
	StrictPairing bool
}

// Execution is the resolved submission strategy.
type Execution struct {
	Kind          ExecutionKind
	TipLamports   uint64
	PriorityFee   uint64 // micro-lamports per compute unit, 0 for none
	RelayURL      string
	AuthKey       string
	MaxBundleSize int
}

// Trading is the resolved sizing and pacing of trade steps.
type Trading struct {
	MinAmountSOL  decimal.Decimal
	MaxAmountSOL  decimal.Decimal
	MinInterval   time.Duration
	MaxInterval   time.Duration
	SlippageBps   int
	StrictPairing bool
}

// Sell is the resolved sell-down behaviour.
type Sell struct {
	TotalTimes int
	StepDelay  time.Duration
}

// Effective is the settings a trade step runs with.
type Effective struct {
	Execution Execution
	Trading   Trading
	Sell      Sell
}

// Resolve merges user settings (may be nil), campaign parameters and defaults.
// Precedence is user > campaign > defaults for every field.
// Bundle execution without relay URL or auth key returns ErrConfiguration.
func Resolve(user *domain.UserSettings, params domain.CampaignParams, defaults Defaults) (Effective, error) {
	if user == nil {
		user = &domain.UserSettings{}
	}

	eff := Effective{
		Trading: Trading{
			MinAmountSOL:  pickDecimal(user.Trading.MinAmountSOL, params.MinTxSOL, defaults.MinAmountSOL),
			MaxAmountSOL:  pickDecimal(user.Trading.MaxAmountSOL, params.MaxTxSOL, defaults.MaxAmountSOL),
			MinInterval:   pickSeconds(user.Trading.MinIntervalSec, params.MinIntervalSec, defaults.MinInterval),
			MaxInterval:   pickSeconds(user.Trading.MaxIntervalSec, params.MaxIntervalSec, defaults.MaxInterval),
			SlippageBps:   pickInt(user.Trading.SlippageBps, params.SlippageBps, defaults.SlippageBps),
			StrictPairing: defaults.StrictPairing,
		},
		Sell: Sell{
			TotalTimes: pickInt(user.Sell.TotalTimes, params.SellTimes, defaults.SellTimes),
			StepDelay:  pickSeconds(user.Sell.StepDelaySec, 0, defaults.StepDelay),
		},
	}

	if eff.Trading.MaxAmountSOL.LessThan(eff.Trading.MinAmountSOL) {
		eff.Trading.MaxAmountSOL = eff.Trading.MinAmountSOL
	}
	if eff.Trading.MaxInterval < eff.Trading.MinInterval {
		eff.Trading.MaxInterval = eff.Trading.MinInterval
	}
	if eff.Sell.TotalTimes < 1 {
		eff.Sell.TotalTimes = 1
	}

	useJito := defaults.UseJito
	if params.UseJito != nil {
		useJito = *params.UseJito
	}
	if user.Jito.Enabled != nil {
		useJito = *user.Jito.Enabled
	}

	exec := Execution{
		Kind:          KindDirect,
		PriorityFee:   pickUint64(user.Jito.PriorityFee, 0, defaults.PriorityFee),
		TipLamports:   pickUint64(user.Jito.TipLamports, params.JitoTipLamports, defaults.TipLamports),
		RelayURL:      pickString(user.Jito.RelayURL, defaults.RelayURL),
		AuthKey:       pickString(user.Jito.AuthKey, defaults.AuthKey),
		MaxBundleSize: pickInt(user.Jito.MaxBundleSize, 0, defaults.MaxBundleSize),
	}
	if exec.MaxBundleSize <= 0 || exec.MaxBundleSize > DefaultMaxBundleSize {
		exec.MaxBundleSize = DefaultMaxBundleSize
	}

	if useJito {
		exec.Kind = KindBundle
		if exec.RelayURL == "" || exec.AuthKey == "" {
			return Effective{}, fmt.Errorf("%w: bundle execution requires relay url and auth key", ErrConfiguration)
		}
	}
	eff.Execution = exec

	return eff, nil
}

func pickDecimal(user *decimal.Decimal, campaign, def decimal.Decimal) decimal.Decimal {
	if user != nil {
		return *user
	}
	if campaign.IsPositive() {
		return campaign
	}
	return def
}

func pickInt(user *int, campaign, def int) int {
	if user != nil {
		return *user
	}
	if campaign > 0 {
		return campaign
	}
	return def
}

func pickUint64(user *uint64, campaign, def uint64) uint64 {
	if user != nil {
		return *user
	}
	if campaign > 0 {
		return campaign
	}
	return def
}

func pickSeconds(user *int, campaign int, def time.Duration) time.Duration {
	if user != nil {
		return time.Duration(*user) * time.Second
	}
	if campaign > 0 {
		return time.Duration(campaign) * time.Second
	}
	return def
}

func pickString(user, def string) string {
	if user != "" {
		return user
	}
	return def
}
