package presale

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSchedule(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write schedule: %v", err)
	}
	return path
}

func TestLoadScheduleTOML(t *testing.T) {
	path := writeSchedule(t, "sale.toml", `
token = "GEPS"
decimals = 18
stageDuration = "2m"
claimDelay = "5m"
maxQuoteAge = "30s"

[[stages]]
price = "0.010"
allocation = "2222224"

[[stages]]
price = "0.012"
allocation = "2222222.5"

[[currencies]]
symbol = "bnb"
decimals = 18
native = true

[[currencies]]
symbol = "BUSD"
decimals = 18
feed = "0x9331b55D9830EF609A2aBCfAc0FBCE050A52fdEa"
`)
	schedule, err := LoadSchedule(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if schedule.StageDuration != 2*time.Minute || schedule.ClaimDelay != 5*time.Minute || schedule.MaxQuoteAge != 30*time.Second {
		t.Fatalf("unexpected durations %+v", schedule)
	}
	if len(schedule.Stages) != 2 {
		t.Fatalf("stages = %d", len(schedule.Stages))
	}
	want, _ := new(big.Int).SetString("2222222500000000000000000", 10)
	if schedule.Stages[1].Allocation.Cmp(want) != 0 {
		t.Fatalf("allocation = %s, want %s", schedule.Stages[1].Allocation, want)
	}
	if len(schedule.Currencies) != 2 || schedule.Currencies[0].Symbol != "BNB" || !schedule.Currencies[0].Native {
		t.Fatalf("unexpected currencies %+v", schedule.Currencies)
	}
	params := schedule.Params(newTestAddress(0xAA))
	if params.TokenDecimals != 18 || params.StageDuration != 2*time.Minute {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestLoadScheduleJSONDefaults(t *testing.T) {
	path := writeSchedule(t, "sale.json", `{"currencies":[{"symbol":"BNB","decimals":18,"native":true}]}`)
	schedule, err := LoadSchedule(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if schedule.StageDuration != DefaultStageDuration || schedule.ClaimDelay != DefaultClaimDelay {
		t.Fatalf("expected default durations, got %+v", schedule)
	}
	if len(schedule.Stages) != 9 || schedule.TokenSymbol != DefaultTokenSymbol {
		t.Fatalf("expected default stages, got %d", len(schedule.Stages))
	}
}

func TestLoadScheduleRejectsInvalidInput(t *testing.T) {
	cases := map[string]struct {
		name string
		body string
	}{
		"unknown toml field": {"a.toml", "bogus = 1\n"},
		"unknown json field": {"a.json", `{"bogus":1}`},
		"zero price":         {"a.toml", "[[stages]]\nprice = \"0\"\nallocation = \"1\"\n"},
		"too many decimals":  {"a.toml", "decimals = 0\n[[stages]]\nprice = \"1\"\nallocation = \"1.5\"\n"},
		"bad duration":       {"a.toml", "stageDuration = \"soon\"\n"},
		"duplicate currency": {"a.json", `{"currencies":[{"symbol":"BNB"},{"symbol":"bnb"}]}`},
		"unsupported format": {"a.yaml", "token: GEPS\n"},
	}
	for label, tc := range cases {
		path := writeSchedule(t, tc.name, tc.body)
		if _, err := LoadSchedule(path); err == nil {
			t.Fatalf("%s: expected error", label)
		}
	}
	if _, err := LoadSchedule(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	path := writeSchedule(t, "b.toml", "[[stages]]\nprice = \"0.01\"\nallocation = \"0\"\n")
	if _, err := LoadSchedule(path); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
}
