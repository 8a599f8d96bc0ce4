package presale

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Schedule is a parsed sale definition file.
type Schedule struct {
	TokenSymbol   string
	TokenDecimals uint8
	StageDuration time.Duration
	ClaimDelay    time.Duration
	MaxQuoteAge   time.Duration
	Stages        []StageSpec
	Currencies    []Currency
}

type fileSchedule struct {
	Token         string         `json:"token" toml:"token"`
	Decimals      *uint8         `json:"decimals" toml:"decimals"`
	StageDuration string         `json:"stageDuration" toml:"stageDuration"`
	ClaimDelay    string         `json:"claimDelay" toml:"claimDelay"`
	MaxQuoteAge   string         `json:"maxQuoteAge" toml:"maxQuoteAge"`
	Stages        []fileStage    `json:"stages" toml:"stages"`
	Currencies    []fileCurrency `json:"currencies" toml:"currencies"`
}

type fileStage struct {
	Price string `json:"price" toml:"price"`
	// Allocation is expressed in whole tokens and may carry a fraction.
	Allocation string `json:"allocation" toml:"allocation"`
}

type fileCurrency struct {
	Symbol   string `json:"symbol" toml:"symbol"`
	Decimals uint8  `json:"decimals" toml:"decimals"`
	Native   bool   `json:"native" toml:"native"`
	Feed     string `json:"feed" toml:"feed"`
}

// DefaultSaleSchedule returns the built-in GEPS schedule with no currencies.
func DefaultSaleSchedule() *Schedule {
	return &Schedule{
		TokenSymbol:   DefaultTokenSymbol,
		TokenDecimals: DefaultTokenDecimals,
		StageDuration: DefaultStageDuration,
		ClaimDelay:    DefaultClaimDelay,
		MaxQuoteAge:   DefaultMaxQuoteAge,
		Stages:        DefaultSchedule(DefaultTokenDecimals),
	}
}

// LoadSchedule reads a TOML or JSON sale definition. Omitted durations and
// token settings fall back to the GEPS defaults.
func LoadSchedule(path string) (*Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("presale: schedule path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("presale: read schedule: %w", err)
	}
	var parsed fileSchedule
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("presale: decode schedule json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.DecodeReader(bytes.NewReader(data), &parsed)
		if err != nil {
			return nil, fmt.Errorf("presale: decode schedule toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("presale: unknown schedule fields %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("presale: unsupported schedule format %q", ext)
	}
	return parsed.build()
}

func (f fileSchedule) build() (*Schedule, error) {
	out := DefaultSaleSchedule()
	if token := strings.TrimSpace(f.Token); token != "" {
		out.TokenSymbol = token
	}
	if f.Decimals != nil {
		out.TokenDecimals = *f.Decimals
	}
	var err error
	if out.StageDuration, err = parseDuration("stageDuration", f.StageDuration, out.StageDuration); err != nil {
		return nil, err
	}
	if out.ClaimDelay, err = parseDuration("claimDelay", f.ClaimDelay, out.ClaimDelay); err != nil {
		return nil, err
	}
	if out.MaxQuoteAge, err = parseDuration("maxQuoteAge", f.MaxQuoteAge, out.MaxQuoteAge); err != nil {
		return nil, err
	}
	if len(f.Stages) == 0 {
		out.Stages = DefaultSchedule(out.TokenDecimals)
	} else {
		out.Stages = make([]StageSpec, len(f.Stages))
		for i, stage := range f.Stages {
			price, err := decimal.NewFromString(strings.TrimSpace(stage.Price))
			if err != nil {
				return nil, fmt.Errorf("%w: stage %d price: %v", ErrInvalidSchedule, i, err)
			}
			whole, err := decimal.NewFromString(strings.TrimSpace(stage.Allocation))
			if err != nil {
				return nil, fmt.Errorf("%w: stage %d allocation: %v", ErrInvalidSchedule, i, err)
			}
			units := whole.Shift(int32(out.TokenDecimals))
			if !units.IsInteger() {
				return nil, fmt.Errorf("%w: stage %d allocation exceeds %d decimals", ErrInvalidSchedule, i, out.TokenDecimals)
			}
			out.Stages[i] = StageSpec{Price: price, Allocation: units.BigInt()}
		}
	}
	if err := validateSpecs(out.Stages); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(f.Currencies))
	for i, cur := range f.Currencies {
		symbol := normalizeSymbol(cur.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("%w: currency %d symbol required", ErrInvalidSchedule, i)
		}
		if _, dup := seen[symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate currency %s", ErrInvalidSchedule, symbol)
		}
		seen[symbol] = struct{}{}
		out.Currencies = append(out.Currencies, Currency{
			Symbol:   symbol,
			Decimals: cur.Decimals,
			Native:   cur.Native,
			Feed:     strings.TrimSpace(cur.Feed),
		})
	}
	return out, nil
}

// Params returns engine parameters for the schedule using vault as the token
// holder.
func (s *Schedule) Params(vault common.Address) Params {
	return Params{
		TokenSymbol:   s.TokenSymbol,
		TokenDecimals: s.TokenDecimals,
		StageDuration: s.StageDuration,
		ClaimDelay:    s.ClaimDelay,
		MaxQuoteAge:   s.MaxQuoteAge,
		Vault:         vault,
	}
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, field, err)
	}
	return d, nil
}
