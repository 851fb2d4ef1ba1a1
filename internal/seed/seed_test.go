package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/store"
)

func TestBuiltinsVisibleAndFlushProof(t *testing.T) {
	reg := store.NewRegistry()
	Builtins(reg)

	tok, ok := reg.Table("tokens").Get("tok_visa")
	if !ok {
		t.Fatal("tok_visa should be resolvable")
	}
	card, _ := tok["card"].(map[string]any)
	if card["brand"] != "visa" {
		t.Errorf("brand = %v", card["brand"])
	}

	if _, ok := reg.Table("payment_methods").Get("pm_card_mastercard"); !ok {
		t.Error("pm_card_mastercard should be resolvable")
	}

	reg.ClearAll()
	if _, ok := reg.Table("tokens").Get("tok_visa"); !ok {
		t.Error("global tokens should survive a flush")
	}
}

func TestLoadFile(t *testing.T) {
	reg := store.NewRegistry()
	clk := clock.New()

	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	body := `
customers:
  - id: cus_seeded
    email: seed@example.com
  - email: anon@example.com
products:
  - id: prod_seeded
    name: Starter
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}

	if err := LoadFile(path, reg, clk, zerolog.Nop()); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cust, ok := reg.Table("customers").Get("cus_seeded")
	if !ok {
		t.Fatal("cus_seeded missing")
	}
	if cust.GetString("email") != "seed@example.com" {
		t.Errorf("email = %q", cust.GetString("email"))
	}
	if cust.GetString("object") != "customer" {
		t.Errorf("object = %q, want filled in", cust.GetString("object"))
	}
	if cust.Created() == 0 {
		t.Error("created should be filled in")
	}
	if got := reg.Table("customers").Count(); got != 2 {
		t.Errorf("customers = %d, want 2", got)
	}
	if _, ok := reg.Table("products").Get("prod_seeded"); !ok {
		t.Error("prod_seeded missing")
	}
}

func TestLoadFileRejectsUnknownTable(t *testing.T) {
	reg := store.NewRegistry()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("widgets:\n  - id: w_1\n"), 0o600); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	if err := LoadFile(path, reg, clock.New(), zerolog.Nop()); err == nil {
		t.Error("unknown table should be rejected")
	}
}
