package main

import (
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MapFilters narrows the map to allocations of one tenant cluster and/or
// one allocation type. Both axes AND together; an empty string leaves that
// axis unconstrained.
type MapFilters struct {
	Cluster string `json:"cluster,omitempty"`
	Type    string `json:"type,omitempty"`
}

func (f MapFilters) Active() bool {
	return f.Cluster != "" || f.Type != ""
}

func parseMapFilters(values url.Values) MapFilters {
	var out MapFilters
	if raw := strings.TrimSpace(values.Get("filter_cluster")); raw != "" {
		out.Cluster = raw
	}
	if raw := strings.TrimSpace(values.Get("filter_type")); raw == AllocTypeNodes || raw == AllocTypeLoadBalancer {
		out.Type = raw
	}
	return out
}

func mapFiltersFromContext(c *gin.Context) MapFilters {
	return parseMapFilters(c.Request.URL.Query())
}

func mapFiltersQuery(filters MapFilters) string {
	values := url.Values{}
	if filters.Cluster != "" {
		values.Set("filter_cluster", filters.Cluster)
	}
	if filters.Type != "" {
		values.Set("filter_type", filters.Type)
	}
	return values.Encode()
}

func normalizeMapFilterQuery(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	return mapFiltersQuery(parseMapFilters(values))
}

func allocMatchesFilter(a allocSpan, filters MapFilters) bool {
	if filters.Cluster != "" && a.cluster != filters.Cluster {
		return false
	}
	if filters.Type != "" && a.allocType != filters.Type {
		return false
	}
	return true
}

// spanMatchesFilter reports whether at least one allocation overlapping the
// interval satisfies both filter axes. Unallocated space never matches, so
// callers must check Active before using this for dimming.
func spanMatchesFilter(start, end uint32, allocs []allocSpan, filters MapFilters) bool {
	for _, a := range allocs {
		if !rangesOverlap(start, end, a.start, a.end) {
			continue
		}
		if allocMatchesFilter(a, filters) {
			return true
		}
	}
	return false
}

// applyDimming marks non-matching blocks; classification is untouched.
func applyDimming(blocks []Block, allocs []allocSpan, filters MapFilters) {
	if !filters.Active() {
		return
	}
	for i := range blocks {
		if !spanMatchesFilter(blocks[i].start, blocks[i].end, allocs, filters) {
			blocks[i].Dimmed = true
		}
	}
}

type FilterPreset struct {
	ID        int64  `json:"id"`
	PoolID    int64  `json:"poolId"`
	Name      string `json:"name"`
	Query     string `json:"query"`
	CreatedAt string `json:"createdAt"`
}

func listFilterPresets(db *sql.DB, poolID int64) ([]FilterPreset, error) {
	if poolID <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT id, pool_id, name, query, created_at
		FROM filter_presets
		WHERE pool_id=?
		ORDER BY created_at DESC, id DESC
	`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilterPreset
	for rows.Next() {
		var preset FilterPreset
		if err := rows.Scan(&preset.ID, &preset.PoolID, &preset.Name, &preset.Query, &preset.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, preset)
	}
	return out, rows.Err()
}

func saveFilterPreset(db *sql.DB, poolID int64, name, query string) error {
	if poolID <= 0 {
		return nil
	}
	_, err := db.Exec(`
		INSERT INTO filter_presets(pool_id, name, query, created_at)
		VALUES(?, ?, ?, ?)
	`, poolID, name, query, time.Now().UTC().Format(time.RFC3339))
	return err
}

func deleteFilterPreset(db *sql.DB, poolID, presetID int64) error {
	if poolID <= 0 || presetID <= 0 {
		return nil
	}
	_, err := db.Exec(`DELETE FROM filter_presets WHERE id=? AND pool_id=?`, presetID, poolID)
	return err
}
