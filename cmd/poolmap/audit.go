package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type AuditEntry struct {
	ID          int64
	PoolID      sql.NullInt64
	Actor       string
	Action      string
	EntityType  string
	EntityID    sql.NullInt64
	EntityLabel sql.NullString
	Reason      sql.NullString
	BeforeJSON  sql.NullString
	AfterJSON   sql.NullString
	CreatedAt   string
}

type AuditView struct {
	ID          int64  `json:"id"`
	PoolID      int64  `json:"poolId,omitempty"`
	Actor       string `json:"actor"`
	Action      string `json:"action"`
	EntityType  string `json:"entityType"`
	EntityID    int64  `json:"entityId,omitempty"`
	EntityLabel string `json:"entityLabel,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func auditViews(entries []AuditEntry) []AuditView {
	out := make([]AuditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditView{
			ID:          e.ID,
			PoolID:      e.PoolID.Int64,
			Actor:       e.Actor,
			Action:      e.Action,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID.Int64,
			EntityLabel: nullString(e.EntityLabel),
			Reason:      nullString(e.Reason),
			Before:      nullString(e.BeforeJSON),
			After:       nullString(e.AfterJSON),
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}

type auditRecord struct {
	PoolID      int64
	Actor       string
	Action      string
	EntityType  string
	EntityID    sql.NullInt64
	EntityLabel sql.NullString
	Reason      sql.NullString
	Before      any
	After       any
}

type auditPoolSnapshot struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CIDR        string `json:"cidr"`
	Description string `json:"description,omitempty"`
}

type auditReservedSnapshot struct {
	ID          int64  `json:"id"`
	Pool        string `json:"pool"`
	CIDR        string `json:"cidr"`
	Description string `json:"description,omitempty"`
}

type auditAllocationSnapshot struct {
	ID           int64  `json:"id"`
	Pool         string `json:"pool"`
	Name         string `json:"name"`
	Cluster      string `json:"cluster,omitempty"`
	Type         string `json:"type"`
	StartAddress string `json:"start_address,omitempty"`
	EndAddress   string `json:"end_address,omitempty"`
}

type auditImportSummary struct {
	Source           string   `json:"source"`
	PoolsAdded       int      `json:"pools_added,omitempty"`
	ReservedAdded    int      `json:"reserved_added,omitempty"`
	AllocationsAdded int      `json:"allocations_added,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

func snapshotPool(p Pool) auditPoolSnapshot {
	return auditPoolSnapshot{ID: p.ID, Name: p.Name, CIDR: p.CIDR, Description: nullString(p.Description)}
}

func snapshotReserved(poolName string, r ReservedRow) auditReservedSnapshot {
	return auditReservedSnapshot{ID: r.ID, Pool: poolName, CIDR: r.CIDR, Description: nullString(r.Description)}
}

func snapshotAllocation(poolName string, a AllocationRow) auditAllocationSnapshot {
	return auditAllocationSnapshot{
		ID:           a.ID,
		Pool:         poolName,
		Name:         a.Name,
		Cluster:      nullString(a.ClusterName),
		Type:         normalizeAllocType(a.AllocType),
		StartAddress: nullString(a.StartAddress),
		EndAddress:   nullString(a.EndAddress),
	}
}

func auditActor(c *gin.Context) string {
	actor := strings.TrimSpace(c.GetHeader("X-Actor"))
	if actor == "" {
		actor = strings.TrimSpace(c.GetHeader("X-User"))
	}
	if actor == "" {
		actor = c.ClientIP()
	}
	if actor == "" {
		actor = "unknown"
	}
	return actor
}

func writeAudit(db *sql.DB, c *gin.Context, record auditRecord) {
	if strings.TrimSpace(record.Actor) == "" {
		record.Actor = auditActor(c)
	}
	if !record.Reason.Valid {
		if reason := strings.TrimSpace(c.Query("reason")); reason != "" {
			record.Reason = sql.NullString{String: reason, Valid: true}
		}
	}
	if err := insertAuditRecord(db, record); err != nil {
		log.Printf("audit log error: %v", err)
	}
}

func insertAuditRecord(db *sql.DB, record auditRecord) error {
	before, err := marshalAuditPayload(record.Before)
	if err != nil {
		return err
	}
	after, err := marshalAuditPayload(record.After)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO audit_log(
			pool_id, actor, action, entity_type, entity_id, entity_label, reason, before_json, after_json, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64ToAny(record.PoolID),
		record.Actor,
		record.Action,
		record.EntityType,
		nullIntToAny(record.EntityID),
		nullStringToAny(record.EntityLabel),
		nullStringToAny(record.Reason),
		nullStringToAny(parseNullString(before)),
		nullStringToAny(parseNullString(after)),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func listAuditEntries(db *sql.DB, poolID int64) ([]AuditEntry, error) {
	query := `
		SELECT id, pool_id, actor, action, entity_type, entity_id, entity_label, reason, before_json, after_json, created_at
		FROM audit_log
	`
	var args []any
	if poolID > 0 {
		query += " WHERE pool_id=?"
		args = append(args, poolID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.PoolID,
			&entry.Actor,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.EntityLabel,
			&entry.Reason,
			&entry.BeforeJSON,
			&entry.AfterJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func marshalAuditPayload(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
