package syncer

import (
	"sort"

	"schemasync/internal/ledger"
	"schemasync/internal/migration"
)

func statusRows(files []migration.File, rows []migration.Record, tracked []migration.Migration) []MigrationStatus {
	latest := ledger.Latest(rows)
	byID := map[string]*MigrationStatus{}
	get := func(id string) *MigrationStatus {
		if s, ok := byID[id]; ok {
			return s
		}
		s := &MigrationStatus{ID: id}
		byID[id] = s
		return s
	}

	for _, f := range files {
		s := get(f.ID)
		s.OnDisk = true
		s.HasRollback = f.HasRollback
		s.Checksum = f.Checksum
	}
	for _, m := range tracked {
		s := get(m.ID)
		s.Tracked = m.Status
		s.Error = m.Error
		if s.Checksum == "" {
			s.Checksum = m.Checksum
		}
	}
	for id := range latest {
		get(id)
	}

	out := make([]MigrationStatus, 0, len(byID))
	for id, s := range byID {
		row, ok := latest[id]
		s.Ledger = ledgerState(row, ok)
		if ok && s.Error == "" && row.Logs != "" && !row.Applied() {
			s.Error = row.Logs
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
