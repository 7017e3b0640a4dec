package main

import (
	"database/sql"
	"embed"
	"log"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migFS embed.FS

func mustEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func sqliteDSN(raw string) string {
	if strings.Contains(raw, "_pragma=foreign_keys") {
		return raw
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "_pragma=foreign_keys(1)"
}

func main() {
	dbPath := mustEnv("DB_PATH", "./poolmap.sqlite")
	listen := mustEnv("LISTEN_ADDR", "0.0.0.0:8080")

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := migrate(db); err != nil {
		log.Fatal(err)
	}

	r := newRouter(db)
	if err := r.Run(listen); err != nil {
		log.Fatal(err)
	}
}

type poolRequest struct {
	Name        string `json:"name"`
	CIDR        string `json:"cidr"`
	Description string `json:"description"`
}

type reservedRequest struct {
	CIDR        string `json:"cidr"`
	Description string `json:"description"`
}

type allocationRequest struct {
	Name         string `json:"name"`
	ClusterName  string `json:"clusterName"`
	Type         string `json:"type"`
	StartAddress string `json:"startAddress"`
	EndAddress   string `json:"endAddress"`
}

type presetRequest struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

type deleteRequest struct {
	ID int64 `json:"id"`
}

// PoolMapRequest is the stateless render contract: one pool CIDR, its
// reserved sub-ranges, and the live allocation objects.
type PoolMapRequest struct {
	CIDR        string          `json:"cidr"`
	Reserved    []ReservedEntry `json:"reserved"`
	Allocations []IPAllocation  `json:"allocations"`
}

type PoolView struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	CIDR         string       `json:"cidr"`
	Description  string       `json:"description,omitempty"`
	CreatedAt    string       `json:"createdAt"`
	Granularity  int          `json:"granularity"`
	CanDrillDown bool         `json:"canDrillDown"`
	Summary      StatusCounts `json:"summary"`
}

func newRouter(db *sql.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	r.GET("/api/pools", func(c *gin.Context) {
		pools, err := listPools(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views := make([]PoolView, 0, len(pools))
		for _, p := range pools {
			views = append(views, buildPoolView(db, p))
		}
		c.JSON(200, gin.H{"pools": views})
	})

	r.POST("/api/pools", func(c *gin.Context) {
		var req poolRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		prefix, ok := parseIPv4Prefix(req.CIDR)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool cidr: " + req.CIDR})
			return
		}
		id, err := insertPool(db, name, prefix.String(), parseNullString(req.Description))
		if err != nil {
			status := http.StatusInternalServerError
			if isUniqueViolation(err) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		pool, _ := poolByID(db, id)
		writeAudit(db, c, auditRecord{
			PoolID:      id,
			Action:      "create",
			EntityType:  "pool",
			EntityID:    sql.NullInt64{Int64: id, Valid: true},
			EntityLabel: sql.NullString{String: pool.Name, Valid: true},
			After:       snapshotPool(pool),
		})
		c.JSON(http.StatusCreated, buildPoolView(db, pool))
	})

	r.POST("/api/pools/delete", func(c *gin.Context) {
		var req deleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		pool, ok := poolByID(db, req.ID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		writeAudit(db, c, auditRecord{
			PoolID:      pool.ID,
			Action:      "delete",
			EntityType:  "pool",
			EntityID:    sql.NullInt64{Int64: pool.ID, Valid: true},
			EntityLabel: sql.NullString{String: pool.Name, Valid: true},
			Before:      snapshotPool(pool),
		})
		if err := deletePool(db, pool.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"deleted": pool.ID})
	})

	r.GET("/api/pools/:id", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		reserved, _ := listReserved(db, pool.ID)
		allocations, _ := listAllocations(db, pool.ID)
		c.JSON(200, gin.H{
			"pool":        buildPoolView(db, pool),
			"reserved":    reservedEntries(reserved),
			"allocations": allocationObjects(allocations),
		})
	})

	r.GET("/api/pools/:id/map", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		reserved, err := listReserved(db, pool.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		allocations, err := listAllocations(db, pool.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		expanded := strings.TrimSpace(c.Query("block"))
		if expanded != "" {
			if _, ok := parseIPv4Prefix(expanded); !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block: " + expanded})
				return
			}
		}
		view := renderPoolMap(pool.CIDR, reservedEntries(reserved), allocationObjects(allocations), mapFiltersFromContext(c), expanded)
		c.JSON(200, view)
	})

	r.POST("/api/poolmap", func(c *gin.Context) {
		var req PoolMapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if _, ok := parseIPv4Prefix(req.CIDR); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool cidr: " + req.CIDR})
			return
		}
		for _, res := range req.Reserved {
			if _, ok := parseIPv4Prefix(res.CIDR); !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reserved cidr: " + res.CIDR})
				return
			}
		}
		expanded := strings.TrimSpace(c.Query("block"))
		if expanded != "" {
			if _, ok := parseIPv4Prefix(expanded); !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block: " + expanded})
				return
			}
		}
		view := renderPoolMap(req.CIDR, req.Reserved, req.Allocations, mapFiltersFromContext(c), expanded)
		c.JSON(200, view)
	})

	r.GET("/api/pools/:id/reserved", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		reserved, err := listReserved(db, pool.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"reserved": reservedEntries(reserved)})
	})

	r.POST("/api/pools/:id/reserved", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		var req reservedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		prefix, ok := parseIPv4Prefix(req.CIDR)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reserved cidr: " + req.CIDR})
			return
		}
		poolRange := parsePoolCIDR(pool.CIDR)
		sub := parsePoolCIDR(prefix.String())
		if !rangeContains(poolRange, sub.Start, sub.End) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reserved range outside pool " + pool.CIDR})
			return
		}
		id, err := insertReserved(db, pool.ID, prefix.String(), parseNullString(req.Description))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		row, _ := reservedByID(db, id)
		writeAudit(db, c, auditRecord{
			PoolID:      pool.ID,
			Action:      "create",
			EntityType:  "reserved_range",
			EntityID:    sql.NullInt64{Int64: id, Valid: true},
			EntityLabel: sql.NullString{String: row.CIDR, Valid: true},
			After:       snapshotReserved(pool.Name, row),
		})
		c.JSON(http.StatusCreated, gin.H{"id": id, "cidr": row.CIDR})
	})

	r.POST("/api/pools/:id/reserved/delete", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		var req deleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		row, ok := reservedByID(db, req.ID)
		if !ok || row.PoolID != pool.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "reserved range not found"})
			return
		}
		writeAudit(db, c, auditRecord{
			PoolID:      pool.ID,
			Action:      "delete",
			EntityType:  "reserved_range",
			EntityID:    sql.NullInt64{Int64: row.ID, Valid: true},
			EntityLabel: sql.NullString{String: row.CIDR, Valid: true},
			Before:      snapshotReserved(pool.Name, row),
		})
		if err := deleteReserved(db, row.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"deleted": row.ID})
	})

	r.GET("/api/pools/:id/allocations", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		allocations, err := listAllocations(db, pool.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"allocations": allocationObjects(allocations)})
	})

	r.POST("/api/pools/:id/allocations", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		var req allocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		row := AllocationRow{
			PoolID:      pool.ID,
			Name:        name,
			ClusterName: parseNullString(req.ClusterName),
			AllocType:   normalizeAllocType(strings.TrimSpace(req.Type)),
		}
		startRaw := strings.TrimSpace(req.StartAddress)
		endRaw := strings.TrimSpace(req.EndAddress)
		if (startRaw == "") != (endRaw == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "startAddress and endAddress must be set together"})
			return
		}
		if startRaw != "" {
			start, okStart := parseIPv4Addr(startRaw)
			end, okEnd := parseIPv4Addr(endRaw)
			if !okStart || !okEnd {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid allocation address range"})
				return
			}
			startU, endU := ipv4ToU32(start), ipv4ToU32(end)
			poolRange := parsePoolCIDR(pool.CIDR)
			if startU > endU || !rangeContains(poolRange, startU, endU) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "allocation range outside pool " + pool.CIDR})
				return
			}
			row.StartAddress = sql.NullString{String: start.String(), Valid: true}
			row.EndAddress = sql.NullString{String: end.String(), Valid: true}
		}
		id, err := insertAllocation(db, row)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		stored, _ := allocationByID(db, id)
		writeAudit(db, c, auditRecord{
			PoolID:      pool.ID,
			Action:      "create",
			EntityType:  "allocation",
			EntityID:    sql.NullInt64{Int64: id, Valid: true},
			EntityLabel: sql.NullString{String: stored.Name, Valid: true},
			After:       snapshotAllocation(pool.Name, stored),
		})
		c.JSON(http.StatusCreated, gin.H{"id": id, "name": stored.Name})
	})

	r.POST("/api/pools/:id/allocations/delete", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		var req deleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		row, ok := allocationByID(db, req.ID)
		if !ok || row.PoolID != pool.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "allocation not found"})
			return
		}
		writeAudit(db, c, auditRecord{
			PoolID:      pool.ID,
			Action:      "delete",
			EntityType:  "allocation",
			EntityID:    sql.NullInt64{Int64: row.ID, Valid: true},
			EntityLabel: sql.NullString{String: row.Name, Valid: true},
			Before:      snapshotAllocation(pool.Name, row),
		})
		if err := deleteAllocation(db, row.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"deleted": row.ID})
	})

	r.GET("/api/pools/:id/presets", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		presets, err := listFilterPresets(db, pool.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"presets": presets})
	})

	r.POST("/api/pools/:id/presets", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		var req presetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		name := strings.TrimSpace(req.Name)
		query := normalizeMapFilterQuery(req.Query)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "preset name is required"})
			return
		}
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no active filters to save"})
			return
		}
		if err := saveFilterPreset(db, pool.ID, name, query); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"name": name, "query": query})
	})

	r.POST("/api/pools/:id/presets/delete", func(c *gin.Context) {
		pool, ok := poolByID(db, parseID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			return
		}
		var req deleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := deleteFilterPreset(db, pool.ID, req.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"deleted": req.ID})
	})

	r.GET("/api/audit", func(c *gin.Context) {
		entries, err := listAuditEntries(db, parseID(c.Query("pool_id")))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"entries": auditViews(entries)})
	})

	r.GET("/api/export/json", func(c *gin.Context) {
		if err := exportJSON(c, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
	r.GET("/api/export/yaml", func(c *gin.Context) {
		if err := exportYAML(c, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
	r.GET("/api/export/csv", func(c *gin.Context) {
		if err := exportCSV(c, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
	r.GET("/api/export/xlsx", func(c *gin.Context) {
		if err := exportXLSX(c, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
	r.GET("/api/export/audit/csv", func(c *gin.Context) {
		if err := exportAuditCSV(c, db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	r.POST("/api/import/yaml", func(c *gin.Context) {
		report, err := importYAML(c, db)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, report)
	})

	return r
}

func buildPoolView(db *sql.DB, p Pool) PoolView {
	view := PoolView{
		ID:          p.ID,
		Name:        p.Name,
		CIDR:        p.CIDR,
		Description: nullString(p.Description),
		CreatedAt:   p.CreatedAt,
	}
	reserved, _ := listReserved(db, p.ID)
	allocations, _ := listAllocations(db, p.ID)
	rendered := renderPoolMap(p.CIDR, reservedEntries(reserved), allocationObjects(allocations), MapFilters{}, "")
	view.Granularity = rendered.Granularity
	view.CanDrillDown = rendered.CanDrillDown
	view.Summary = rendered.Summary
	return view
}

func parseIPv4Prefix(raw string) (netip.Prefix, bool) {
	p, err := netip.ParsePrefix(strings.TrimSpace(raw))
	if err != nil || !p.Addr().Is4() {
		return netip.Prefix{}, false
	}
	return p.Masked(), true
}

func parseIPv4Addr(raw string) (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil || !a.Is4() {
		return netip.Addr{}, false
	}
	return a, true
}

func parseID(raw string) int64 {
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func parseNullString(raw string) sql.NullString {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: raw, Valid: true}
}

func nullStringToAny(v sql.NullString) any {
	if v.Valid && v.String != "" {
		return v.String
	}
	return nil
}

func nullIntToAny(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}

func nullInt64ToAny(v int64) any {
	if v > 0 {
		return v
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
