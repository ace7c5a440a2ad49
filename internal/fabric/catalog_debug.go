package fabric

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// DumpCatalog snapshots the current tool and capability catalog into a
// fresh sqlite file at path, for offline inspection only. It is a
// one-shot export: Initialize/Shutdown never read from this store, so
// it cannot drift the in-memory catalog it was taken from.
func (f *Fabric) DumpCatalog(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open catalog debug store: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tools (
			tool_key TEXT PRIMARY KEY,
			protocol TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			parameters TEXT
		)`); err != nil {
		return fmt.Errorf("create tools table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS capabilities (
			protocol TEXT NOT NULL,
			name TEXT NOT NULL,
			metadata TEXT
		)`); err != nil {
		return fmt.Errorf("create capabilities table: %w", err)
	}

	f.mu.RLock()
	tools := make([]UnifiedTool, 0, len(f.toolOrder))
	for _, key := range f.toolOrder {
		if t, ok := f.tools[key]; ok {
			tools = append(tools, t)
		}
	}
	caps := make(map[ProtocolId][]ProtocolCapability, len(f.capabilities))
	for p, c := range f.capabilities {
		caps[p] = c
	}
	f.mu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tools`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM capabilities`); err != nil {
		return err
	}

	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tools (tool_key, protocol, name, description, parameters) VALUES (?, ?, ?, ?, ?)`,
			t.Key(), string(t.Protocol), t.Name, t.Description, string(params),
		); err != nil {
			return fmt.Errorf("insert tool %q: %w", t.Key(), err)
		}
	}

	for protocol, list := range caps {
		for _, c := range list {
			meta, _ := json.Marshal(c.Metadata)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO capabilities (protocol, name, metadata) VALUES (?, ?, ?)`,
				string(protocol), c.Name, string(meta),
			); err != nil {
				return fmt.Errorf("insert capability %s/%s: %w", protocol, c.Name, err)
			}
		}
	}

	return tx.Commit()
}
