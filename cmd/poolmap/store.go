package main

import (
	"database/sql"
	"strings"
)

type Pool struct {
	ID          int64
	Name        string
	CIDR        string
	Description sql.NullString
	CreatedAt   string
}

type ReservedRow struct {
	ID          int64
	PoolID      int64
	CIDR        string
	Description sql.NullString
}

type AllocationRow struct {
	ID           int64
	PoolID       int64
	Name         string
	ClusterName  sql.NullString
	AllocType    string
	StartAddress sql.NullString
	EndAddress   sql.NullString
	CreatedAt    string
}

func listPools(db *sql.DB) ([]Pool, error) {
	rows, err := db.Query(`
		SELECT id, name, cidr, description, created_at
		FROM pools ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.ID, &p.Name, &p.CIDR, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func poolByID(db *sql.DB, id int64) (Pool, bool) {
	if id <= 0 {
		return Pool{}, false
	}
	var p Pool
	err := db.QueryRow(`
		SELECT id, name, cidr, description, created_at
		FROM pools WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.CIDR, &p.Description, &p.CreatedAt)
	if err != nil {
		return Pool{}, false
	}
	return p, true
}

func poolByName(db *sql.DB, name string) (Pool, bool) {
	var p Pool
	err := db.QueryRow(`
		SELECT id, name, cidr, description, created_at
		FROM pools WHERE name=?`, name).
		Scan(&p.ID, &p.Name, &p.CIDR, &p.Description, &p.CreatedAt)
	if err != nil {
		return Pool{}, false
	}
	return p, true
}

func insertPool(db *sql.DB, name, cidr string, description sql.NullString) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO pools(name, cidr, description, created_at)
		VALUES(?, ?, ?, ?)`,
		name, cidr, nullStringToAny(description), nowRFC3339())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// isUniqueViolation matches the sqlite driver's UNIQUE constraint error
// text; database/sql exposes no typed error for it.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func deletePool(db *sql.DB, poolID int64) error {
	if poolID <= 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM filter_presets WHERE pool_id=?`,
		`DELETE FROM allocations WHERE pool_id=?`,
		`DELETE FROM reserved_ranges WHERE pool_id=?`,
		`DELETE FROM pools WHERE id=?`,
	} {
		if _, err := tx.Exec(stmt, poolID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func listReserved(db *sql.DB, poolID int64) ([]ReservedRow, error) {
	rows, err := db.Query(`
		SELECT id, pool_id, cidr, description
		FROM reserved_ranges WHERE pool_id=? ORDER BY id`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReservedRow
	for rows.Next() {
		var r ReservedRow
		if err := rows.Scan(&r.ID, &r.PoolID, &r.CIDR, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func reservedByID(db *sql.DB, id int64) (ReservedRow, bool) {
	var r ReservedRow
	err := db.QueryRow(`
		SELECT id, pool_id, cidr, description
		FROM reserved_ranges WHERE id=?`, id).
		Scan(&r.ID, &r.PoolID, &r.CIDR, &r.Description)
	if err != nil {
		return ReservedRow{}, false
	}
	return r, true
}

func insertReserved(db *sql.DB, poolID int64, cidr string, description sql.NullString) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO reserved_ranges(pool_id, cidr, description)
		VALUES(?, ?, ?)`,
		poolID, cidr, nullStringToAny(description))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func deleteReserved(db *sql.DB, id int64) error {
	if id <= 0 {
		return nil
	}
	_, err := db.Exec(`DELETE FROM reserved_ranges WHERE id=?`, id)
	return err
}

func listAllocations(db *sql.DB, poolID int64) ([]AllocationRow, error) {
	rows, err := db.Query(`
		SELECT id, pool_id, name, cluster_name, alloc_type, start_address, end_address, created_at
		FROM allocations WHERE pool_id=? ORDER BY id`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AllocationRow
	for rows.Next() {
		var a AllocationRow
		if err := rows.Scan(&a.ID, &a.PoolID, &a.Name, &a.ClusterName, &a.AllocType, &a.StartAddress, &a.EndAddress, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func allocationByID(db *sql.DB, id int64) (AllocationRow, bool) {
	var a AllocationRow
	err := db.QueryRow(`
		SELECT id, pool_id, name, cluster_name, alloc_type, start_address, end_address, created_at
		FROM allocations WHERE id=?`, id).
		Scan(&a.ID, &a.PoolID, &a.Name, &a.ClusterName, &a.AllocType, &a.StartAddress, &a.EndAddress, &a.CreatedAt)
	if err != nil {
		return AllocationRow{}, false
	}
	return a, true
}

func insertAllocation(db *sql.DB, row AllocationRow) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO allocations(pool_id, name, cluster_name, alloc_type, start_address, end_address, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		row.PoolID, row.Name,
		nullStringToAny(row.ClusterName),
		normalizeAllocType(row.AllocType),
		nullStringToAny(row.StartAddress),
		nullStringToAny(row.EndAddress),
		nowRFC3339())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func deleteAllocation(db *sql.DB, id int64) error {
	if id <= 0 {
		return nil
	}
	_, err := db.Exec(`DELETE FROM allocations WHERE id=?`, id)
	return err
}

// reservedEntries and allocationObjects bridge inventory rows into the
// engine's input shapes.
func reservedEntries(rows []ReservedRow) []ReservedEntry {
	out := make([]ReservedEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReservedEntry{CIDR: r.CIDR, Description: nullString(r.Description)})
	}
	return out
}

func allocationObjects(rows []AllocationRow) []IPAllocation {
	out := make([]IPAllocation, 0, len(rows))
	for _, a := range rows {
		obj := IPAllocation{
			Metadata: AllocationMetadata{Name: a.Name},
			Spec:     AllocationSpec{Type: normalizeAllocType(a.AllocType)},
			Status: AllocationStatus{
				StartAddress: nullString(a.StartAddress),
				EndAddress:   nullString(a.EndAddress),
			},
		}
		if a.ClusterName.Valid && a.ClusterName.String != "" {
			obj.Spec.TenantClusterRef = &ClusterRef{Name: a.ClusterName.String}
		}
		out = append(out, obj)
	}
	return out
}
