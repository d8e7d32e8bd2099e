package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

var allocationRe = regexp.MustCompile(`^\d+(\.\d+)?%?$`)

// ParsePairs parses the pair list grammar:
//
//	SYMBOL@TF=ALLOC[,avg=ema|sma][,avg_period=N][,rsi=N][,signal=live|closed][,slip=PCT]; ...
//
// ALLOC is an absolute quote amount or a percentage such as 10%.
// Fragments without '=' and unknown attributes are ignored.
func ParsePairs(raw string) ([]domain.PairConfig, error) {
	var out []domain.PairConfig

	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		pc, err := parsePairEntry(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pair entry %q", entry)
		}
		out = append(out, pc)
	}

	return out, nil
}

func parsePairEntry(entry string) (domain.PairConfig, error) {
	frags := strings.Split(entry, ",")

	pairTF, alloc, ok := strings.Cut(strings.TrimSpace(frags[0]), "=")
	if !ok {
		return domain.PairConfig{}, errors.New("expected SYMBOL@TF=ALLOC")
	}
	symbol, tfRaw, ok := strings.Cut(strings.TrimSpace(pairTF), "@")
	if !ok {
		return domain.PairConfig{}, errors.New("expected SYMBOL@TF=ALLOC")
	}

	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return domain.PairConfig{}, err
	}
	tf, err := domain.ParseTimeframe(tfRaw)
	if err != nil {
		return domain.PairConfig{}, err
	}
	allocation, err := parseAllocation(strings.TrimSpace(alloc))
	if err != nil {
		return domain.PairConfig{}, err
	}

	pc := domain.PairConfig{
		Pair:       pair,
		Timeframe:  tf,
		Allocation: allocation,
		Smoothing:  domain.SmoothingEMA,
		Timing:     domain.TimingClosed,
	}

	for _, frag := range frags[1:] {
		k, v, ok := strings.Cut(frag, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))

		switch k {
		case "avg":
			if v != string(domain.SmoothingEMA) && v != string(domain.SmoothingSMA) {
				return domain.PairConfig{}, errors.Errorf("avg must be ema or sma, got %q", v)
			}
			pc.Smoothing = domain.SmoothingKind(v)
		case "avg_period":
			n, err := positiveInt(v)
			if err != nil {
				return domain.PairConfig{}, errors.Wrap(err, "avg_period")
			}
			pc.SmoothPeriod = n
		case "rsi":
			n, err := positiveInt(v)
			if err != nil {
				return domain.PairConfig{}, errors.Wrap(err, "rsi")
			}
			pc.RSIPeriod = n
		case "signal":
			if v != string(domain.TimingLive) && v != string(domain.TimingClosed) {
				return domain.PairConfig{}, errors.Errorf("signal must be live or closed, got %q", v)
			}
			pc.Timing = domain.SignalTiming(v)
		case "slip":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return domain.PairConfig{}, errors.Errorf("slip must be a percentage, got %q", v)
			}
			pc.Slippage = &f
		}
	}

	return pc, nil
}

func parseAllocation(s string) (domain.Allocation, error) {
	if !allocationRe.MatchString(s) {
		return domain.Allocation{}, errors.Errorf("invalid allocation %q", s)
	}

	percent := strings.HasSuffix(s, "%")
	amount, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
	if err != nil {
		return domain.Allocation{}, errors.Wrapf(err, "invalid allocation %q", s)
	}

	return domain.Allocation{Amount: amount, Percent: percent}, nil
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("expected an integer, got %q", s)
	}
	if n <= 0 {
		return 0, errors.Errorf("must be > 0, got %d", n)
	}
	return n, nil
}
