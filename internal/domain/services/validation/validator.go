package validation

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// Config holds validator thresholds.
type Config struct {
	MinRRRatio         decimal.Decimal
	MaxRRRatio         decimal.Decimal
	StaleAfter         time.Duration
	MaxFutureSkew      time.Duration
	DuplicateTolerance decimal.Decimal // percent of entry
	MaxRiskPct         map[entities.AssetClass]decimal.Decimal
	MaxDecimals        map[entities.AssetClass]int32
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinRRRatio:         decimal.NewFromInt(1),
		MaxRRRatio:         decimal.NewFromInt(10),
		StaleAfter:         300 * time.Second,
		MaxFutureSkew:      60 * time.Second,
		DuplicateTolerance: decimal.RequireFromString("0.1"),
		MaxRiskPct: map[entities.AssetClass]decimal.Decimal{
			entities.AssetClassFutures: decimal.NewFromInt(3),
			entities.AssetClassForex:   decimal.NewFromInt(2),
			entities.AssetClassCrypto:  decimal.NewFromInt(15),
			entities.AssetClassStocks:  decimal.NewFromInt(5),
			entities.AssetClassOther:   decimal.NewFromInt(10),
		},
		MaxDecimals: map[entities.AssetClass]int32{
			entities.AssetClassFutures: 2,
			entities.AssetClassForex:   5,
			entities.AssetClassCrypto:  8,
			entities.AssetClassStocks:  2,
			entities.AssetClassOther:   5,
		},
	}
}

// Result is the outcome of validating one signal.
type Result struct {
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Confidence int      `json:"confidence"`
}

// Valid reports whether the signal had no hard errors.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Confidence scores a signal from 100 down by 15 per error and 5 per warning.
func Confidence(errors, warnings int) int {
	score := 100 - 15*errors - 5*warnings
	if score < 0 {
		return 0
	}
	return score
}

// Validator applies economic and timing checks to a normalized signal.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MinRRRatio.IsZero() {
		cfg.MinRRRatio = def.MinRRRatio
	}
	if cfg.MaxRRRatio.IsZero() {
		cfg.MaxRRRatio = def.MaxRRRatio
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = def.MaxFutureSkew
	}
	if cfg.DuplicateTolerance.IsZero() {
		cfg.DuplicateTolerance = def.DuplicateTolerance
	}
	if cfg.MaxRiskPct == nil {
		cfg.MaxRiskPct = def.MaxRiskPct
	}
	if cfg.MaxDecimals == nil {
		cfg.MaxDecimals = def.MaxDecimals
	}
	return &Validator{cfg: cfg}
}

// Validate checks sig and merges the normalizer findings into the result.
// open holds the provider's currently open signals for duplicate detection.
func (v *Validator) Validate(sig *entities.Signal, prior Findings, open []*entities.Signal, now time.Time) Result {
	f := Findings{
		Errors:   append([]string(nil), prior.Errors...),
		Warnings: append([]string(nil), prior.Warnings...),
	}

	levelsOK := v.checkPrices(sig, &f)
	if levelsOK {
		v.checkOrdering(sig, &f)
		v.checkRisk(sig, &f)
		v.checkRR(sig, &f)
		v.checkPrecision(sig, &f)
		v.checkDuplicates(sig, open, &f)
	}
	if !sig.TakeProfit2.Valid {
		f.warnf("take_profit_2 not set")
	}
	if !sig.TakeProfit3.Valid {
		f.warnf("take_profit_3 not set")
	}
	v.checkTiming(sig, now, &f)

	return Result{
		Errors:     f.Errors,
		Warnings:   f.Warnings,
		Confidence: Confidence(len(f.Errors), len(f.Warnings)),
	}
}

// Stamp writes the result onto the signal. Invalid signals are never
// scheduled; valid ones are due immediately.
func (v *Validator) Stamp(sig *entities.Signal, r Result, now time.Time) {
	sig.ValidationErrors = pq.StringArray(nonNil(r.Errors))
	sig.ValidationWarnings = pq.StringArray(nonNil(r.Warnings))
	sig.ValidationConfidence = r.Confidence
	if r.Valid() {
		sig.Status = entities.SignalStatusPending
		at := now.UTC()
		sig.NextPollAt = &at
		return
	}
	sig.Status = entities.SignalStatusInvalid
	sig.NextPollAt = nil
}

// checkPrices returns false when a required level is missing or not positive,
// in which case relative checks are skipped.
func (v *Validator) checkPrices(sig *entities.Signal, f *Findings) bool {
	ok := true
	required := []struct {
		field string
		value decimal.Decimal
	}{
		{"entry_price", sig.EntryPrice},
		{"stop_loss", sig.StopLoss},
		{"take_profit_1", sig.TakeProfit1},
	}
	for _, r := range required {
		if r.value.Sign() > 0 {
			continue
		}
		ok = false
		if !f.mentions(r.field + " is required") {
			f.errorf("%s must be positive, got %s", r.field, r.value)
		}
	}
	for level := 2; level <= 3; level++ {
		if tp, set := sig.TakeProfit(level); set && tp.Sign() <= 0 {
			ok = false
			f.errorf("take_profit_%d must be positive, got %s", level, tp)
		}
	}
	if !ok {
		return false
	}
	if sig.RiskDistance.Sign() <= 0 {
		f.errorf("risk_distance must be positive: stop_loss equals entry_price")
		return false
	}
	return true
}

func (v *Validator) checkOrdering(sig *entities.Signal, f *Findings) {
	long := sig.Direction == entities.DirectionLong
	if long {
		if !sig.StopLoss.LessThan(sig.EntryPrice) {
			f.errorf("stop_loss %s must be below entry_price %s for LONG", sig.StopLoss, sig.EntryPrice)
		}
		if !sig.TakeProfit1.GreaterThan(sig.EntryPrice) {
			f.errorf("take_profit_1 %s must be above entry_price %s for LONG", sig.TakeProfit1, sig.EntryPrice)
		}
	} else {
		if !sig.StopLoss.GreaterThan(sig.EntryPrice) {
			f.errorf("stop_loss %s must be above entry_price %s for SHORT", sig.StopLoss, sig.EntryPrice)
		}
		if !sig.TakeProfit1.LessThan(sig.EntryPrice) {
			f.errorf("take_profit_1 %s must be below entry_price %s for SHORT", sig.TakeProfit1, sig.EntryPrice)
		}
	}

	prev := sig.TakeProfit1
	for level := 2; level <= 3; level++ {
		tp, set := sig.TakeProfit(level)
		if !set {
			continue
		}
		beyond := tp.GreaterThan(prev)
		if !long {
			beyond = tp.LessThan(prev)
		}
		if !beyond {
			f.errorf("take_profit_%d %s must be beyond take_profit_%d %s for %s", level, tp, level-1, prev, sig.Direction)
		}
		prev = tp
	}
}

func (v *Validator) checkRisk(sig *entities.Signal, f *Findings) {
	ceiling, ok := v.cfg.MaxRiskPct[sig.AssetClass]
	if !ok {
		ceiling = v.cfg.MaxRiskPct[entities.AssetClassOther]
	}
	pct := sig.RiskDistance.Div(sig.EntryPrice).Mul(decimal.NewFromInt(100)).Round(2)
	if !ceiling.IsZero() && pct.GreaterThan(ceiling) {
		f.errorf("risk %s%% of entry exceeds %s%% ceiling for %s", pct, ceiling, sig.AssetClass)
	}
}

func (v *Validator) checkRR(sig *entities.Signal, f *Findings) {
	switch {
	case sig.RRRatio.LessThan(v.cfg.MinRRRatio):
		f.warnf("rr_ratio %s below minimum %s", sig.RRRatio, v.cfg.MinRRRatio)
	case sig.RRRatio.GreaterThan(v.cfg.MaxRRRatio):
		f.warnf("rr_ratio %s unusually high (> %s)", sig.RRRatio, v.cfg.MaxRRRatio)
	}
}

func (v *Validator) checkPrecision(sig *entities.Signal, f *Findings) {
	limit, ok := v.cfg.MaxDecimals[sig.AssetClass]
	if !ok {
		return
	}
	check := func(name string, p decimal.Decimal) {
		if n := decimalPlaces(p); n > limit {
			f.warnf("%s has %d decimals (max %d for %s)", name, n, limit, sig.AssetClass)
		}
	}
	check("entry_price", sig.EntryPrice)
	check("stop_loss", sig.StopLoss)
	check("take_profit_1", sig.TakeProfit1)
	if sig.TakeProfit2.Valid {
		check("take_profit_2", sig.TakeProfit2.Decimal)
	}
	if sig.TakeProfit3.Valid {
		check("take_profit_3", sig.TakeProfit3.Decimal)
	}
}

func (v *Validator) checkDuplicates(sig *entities.Signal, open []*entities.Signal, f *Findings) {
	hundred := decimal.NewFromInt(100)
	for _, o := range open {
		if o == nil || o.ID == sig.ID || o.Symbol != sig.Symbol || o.Direction != sig.Direction {
			continue
		}
		if o.EntryPrice.Sign() <= 0 {
			continue
		}
		diff := sig.EntryPrice.Sub(o.EntryPrice).Abs().Div(o.EntryPrice).Mul(hundred)
		if diff.LessThanOrEqual(v.cfg.DuplicateTolerance) {
			f.warnf("possible duplicate of open signal %s (entry %s)", o.ID, o.EntryPrice)
			return
		}
	}
}

func (v *Validator) checkTiming(sig *entities.Signal, now time.Time, f *Findings) {
	age := now.Sub(sig.EntryTime)
	switch {
	case age < -v.cfg.MaxFutureSkew:
		f.errorf("entry_time %s is %s in the future", sig.EntryTime.Format(time.RFC3339), (-age).Round(time.Second))
	case age > v.cfg.StaleAfter:
		f.warnf("entry_time is stale (%s old)", age.Round(time.Second))
	}
}

func (f *Findings) mentions(s string) bool {
	for _, e := range f.Errors {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

func decimalPlaces(p decimal.Decimal) int32 {
	s := p.String()
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int32(len(s) - i - 1)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
