// Package seed loads initial data: the built-in global test tokens and
// payment methods every namespace can see, plus optional YAML fixtures.
package seed

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/PaperTiger/server/internal/store"
)

// builtinCards maps the well-known test card tokens to their brands. Each
// gets a tok_ entry and a matching pm_card_ entry in the global namespace.
var builtinCards = []struct {
	suffix string
	brand  string
	last4  string
}{
	{"visa", "visa", "4242"},
	{"visa_debit", "visa", "5556"},
	{"mastercard", "mastercard", "4444"},
	{"mastercard_debit", "mastercard", "3222"},
	{"amex", "amex", "8431"},
	{"discover", "discover", "1117"},
	{"chargeDeclined", "visa", "0002"},
	{"chargeDeclinedInsufficientFunds", "visa", "9995"},
	{"chargeDeclinedExpiredCard", "visa", "0069"},
}

// Builtins registers the global card fixtures. They survive data flushes
// and are visible from every key namespace.
func Builtins(reg *store.Registry) {
	tokens := reg.Table("tokens")
	methods := reg.Table("payment_methods")

	for _, card := range builtinCards {
		cardDetail := map[string]any{
			"brand":     card.brand,
			"last4":     card.last4,
			"exp_month": int64(12),
			"exp_year":  int64(2040),
		}
		tokens.SeedGlobal(store.Resource{
			"id":       "tok_" + card.suffix,
			"object":   "token",
			"type":     "card",
			"card":     cardDetail,
			"used":     false,
			"livemode": false,
		})
		methods.SeedGlobal(store.Resource{
			"id":       "pm_card_" + card.suffix,
			"object":   "payment_method",
			"type":     "card",
			"card":     cardDetail,
			"livemode": false,
		})
	}
}

// LoadFile reads a YAML fixture file mapping table names to resource lists
// and inserts everything into the corresponding stores. Missing ids are
// generated from the store's prefix; object and created are filled in.
func LoadFile(path string, reg *store.Registry, clk interface{ Now() int64 }, log zerolog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var fixtures map[string][]map[string]any
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	total := 0
	for table, rows := range fixtures {
		s := reg.Table(table)
		if s == nil {
			return fmt.Errorf("seed file %s: unknown table %q", path, table)
		}
		for _, row := range rows {
			res := store.Resource(row)
			if res.GetString("id") == "" {
				res["id"] = store.NewID(s.IDPrefix())
			}
			if res.GetString("object") == "" {
				res["object"] = s.ObjectName()
			}
			if res.Created() == 0 {
				res["created"] = clk.Now()
			}
			s.Insert(res)
			total++
		}
	}

	log.Info().Str("file", path).Int("resources", total).Msg("seed fixtures loaded")
	return nil
}
