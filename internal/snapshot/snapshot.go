// Package snapshot dumps and restores store contents as JSON files, one per
// store. It is a development convenience, not a durability contract.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/store"
)

// Save writes every non-empty store to <dir>/<table>.json.
func Save(dir string, reg *store.Registry, log zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	saved := 0
	for _, s := range reg.All() {
		items := s.Snapshot()
		if len(items) == 0 {
			continue
		}
		raw, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s snapshot: %w", s.TableName(), err)
		}
		path := filepath.Join(dir, s.TableName()+".json")
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return fmt.Errorf("write %s snapshot: %w", s.TableName(), err)
		}
		saved++
	}

	log.Info().Str("dir", dir).Int("stores", saved).Msg("snapshot saved")
	return nil
}

// Load flushes the stores and restores them from <dir>/<table>.json files.
// Stores without a snapshot file are left empty. Global fixtures survive.
func Load(dir string, reg *store.Registry, log zerolog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}

	reg.ClearAll()

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		table := entry.Name()[:len(entry.Name())-len(".json")]
		s := reg.Table(table)
		if s == nil {
			log.Warn().Str("file", entry.Name()).Msg("snapshot file for unknown table skipped")
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s snapshot: %w", table, err)
		}
		var items []store.Resource
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("parse %s snapshot: %w", table, err)
		}
		for _, res := range items {
			s.Insert(res)
		}
		loaded++
	}

	log.Info().Str("dir", dir).Int("stores", loaded).Msg("snapshot loaded")
	return nil
}
