package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	ownerHex    = "0x00000000000000000000000000000000000000a1"
	vaultHex    = "0x00000000000000000000000000000000000000b2"
	treasuryHex = "0x00000000000000000000000000000000000000c3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presaled.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
owner: `+ownerHex+`
vault: `+vaultHex+`
treasury: `+treasuryHex+`
auth:
  jwt_secret: s3cret
oracle:
  refresh: 45s
feeds:
  - currency: usdt
    type: static
    rate: "1"
genesis:
  - address: `+vaultHex+`
    asset: GEPS
    amount: "20000000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8085" {
		t.Fatalf("unexpected listen %q", cfg.ListenAddress)
	}
	if cfg.State.Driver != "leveldb" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected drivers %q/%q", cfg.State.Driver, cfg.Database.Driver)
	}
	if cfg.Oracle.Refresh.Duration != 45*time.Second {
		t.Fatalf("unexpected refresh %s", cfg.Oracle.Refresh)
	}
	if cfg.Auth.Leeway.Duration != 30*time.Second || cfg.Auth.Issuer != "presaled" {
		t.Fatalf("unexpected auth defaults %+v", cfg.Auth)
	}
	if cfg.RateLimit.RPS != 5 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Export.Dir != "/var/data/presale-exports" {
		t.Fatalf("unexpected export dir %q", cfg.Export.Dir)
	}
	if len(cfg.Feeds) != 1 || len(cfg.Genesis) != 1 {
		t.Fatalf("expected feeds and genesis to decode")
	}
	if Address(cfg.Owner).Hex() != "0x00000000000000000000000000000000000000A1" {
		t.Fatalf("unexpected owner %s", Address(cfg.Owner).Hex())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
owner: `+ownerHex+`
vault: `+vaultHex+`
treasury: `+treasuryHex+`
listen: ":9000"
auth:
  jwt_secret: from-file
`)
	t.Setenv("PRESALE_LISTEN_ADDRESS", ":9100")
	t.Setenv("PRESALE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("PRESALE_STATE_DRIVER", "memory")
	t.Setenv("PRESALE_ORACLE_REFRESH", "2m")
	t.Setenv("PRESALE_EXPORT_DIR", "/tmp/exports")
	t.Setenv("PRESALE_RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9100" {
		t.Fatalf("expected env listen, got %q", cfg.ListenAddress)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env secret")
	}
	if cfg.State.Driver != "memory" {
		t.Fatalf("expected memory state driver")
	}
	if cfg.Oracle.Refresh.Duration != 2*time.Minute {
		t.Fatalf("unexpected refresh %s", cfg.Oracle.Refresh)
	}
	if cfg.Export.Dir != "/tmp/exports" {
		t.Fatalf("unexpected export dir %q", cfg.Export.Dir)
	}
	if len(cfg.RateLimit.TrustedProxies) != 2 || cfg.RateLimit.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("unexpected trusted proxies %v", cfg.RateLimit.TrustedProxies)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	base := `
owner: ` + ownerHex + `
vault: ` + vaultHex + `
treasury: ` + treasuryHex + `
auth:
  jwt_secret: s3cret
`
	cases := map[string]string{
		"zero owner":     "owner: 0x0000000000000000000000000000000000000000\nvault: " + vaultHex + "\ntreasury: " + treasuryHex + "\nauth:\n  jwt_secret: x\n",
		"missing secret": "owner: " + ownerHex + "\nvault: " + vaultHex + "\ntreasury: " + treasuryHex + "\n",
		"bad state":      base + "state:\n  driver: redis\n",
		"postgres dsn":   base + "database:\n  driver: postgres\n",
		"duplicate feed": base + "feeds:\n  - currency: bnb\n    type: static\n  - currency: BNB\n    type: static\n",
		"bad genesis":    base + "genesis:\n  - address: nope\n    asset: GEPS\n    amount: \"1\"\n",
		"unknown field":  base + "surprise: true\n",
		"bad duration":   base + "oracle:\n  refresh: soon\n",
		"bad proxy":      base + "rate_limit:\n  trusted_proxies: [\"10.0.0.0/33\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
