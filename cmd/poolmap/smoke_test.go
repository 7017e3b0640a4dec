package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)

	poolID, err := insertPool(db, "tenant-pool", "10.0.0.0/16", parseNullString("tenant address space"))
	if err != nil {
		t.Fatal(err)
	}
	pool, ok := poolByID(db, poolID)
	if !ok || pool.CIDR != "10.0.0.0/16" {
		t.Fatalf("pool lookup: ok=%v cidr=%s", ok, pool.CIDR)
	}
	if _, ok := poolByName(db, "tenant-pool"); !ok {
		t.Fatal("lookup by name failed")
	}

	if _, err := insertReserved(db, poolID, "10.0.0.0/24", parseNullString("infra")); err != nil {
		t.Fatal(err)
	}
	if _, err := insertAllocation(db, AllocationRow{
		PoolID:       poolID,
		Name:         "web-cluster-nodes",
		ClusterName:  parseNullString("web-cluster"),
		AllocType:    AllocTypeNodes,
		StartAddress: sql.NullString{String: "10.0.1.0", Valid: true},
		EndAddress:   sql.NullString{String: "10.0.1.50", Valid: true},
	}); err != nil {
		t.Fatal(err)
	}

	reserved, err := listReserved(db, poolID)
	if err != nil || len(reserved) != 1 {
		t.Fatalf("reserved: err=%v len=%d", err, len(reserved))
	}
	allocations, err := listAllocations(db, poolID)
	if err != nil || len(allocations) != 1 {
		t.Fatalf("allocations: err=%v len=%d", err, len(allocations))
	}

	view := renderPoolMap(pool.CIDR, reservedEntries(reserved), allocationObjects(allocations), MapFilters{}, "")
	if view.Granularity != 24 || !view.CanDrillDown {
		t.Fatalf("granularity=%d canDrillDown=%v", view.Granularity, view.CanDrillDown)
	}
	if view.Summary.Reserved != 1 {
		t.Errorf("summary.Reserved=%d", view.Summary.Reserved)
	}
	if view.Summary.AllocatedNodes != 1 {
		t.Errorf("summary.AllocatedNodes=%d", view.Summary.AllocatedNodes)
	}

	if err := deletePool(db, poolID); err != nil {
		t.Fatal(err)
	}
	if rows, _ := listReserved(db, poolID); len(rows) != 0 {
		t.Error("reserved rows survived pool delete")
	}
	if rows, _ := listAllocations(db, poolID); len(rows) != 0 {
		t.Error("allocation rows survived pool delete")
	}
}

func TestFilterPresetStore(t *testing.T) {
	db := openTestDB(t)
	poolID, err := insertPool(db, "p", "10.0.0.0/24", sql.NullString{})
	if err != nil {
		t.Fatal(err)
	}
	if err := saveFilterPreset(db, poolID, "team-a nodes", "filter_cluster=team-a&filter_type=nodes"); err != nil {
		t.Fatal(err)
	}
	presets, err := listFilterPresets(db, poolID)
	if err != nil || len(presets) != 1 {
		t.Fatalf("err=%v len=%d", err, len(presets))
	}
	if presets[0].Query != "filter_cluster=team-a&filter_type=nodes" {
		t.Errorf("query=%s", presets[0].Query)
	}
	if err := deleteFilterPreset(db, poolID, presets[0].ID); err != nil {
		t.Fatal(err)
	}
	if presets, _ = listFilterPresets(db, poolID); len(presets) != 0 {
		t.Error("preset survived delete")
	}
}

func TestAuditTrail(t *testing.T) {
	db := openTestDB(t)
	poolID, err := insertPool(db, "audited", "10.0.0.0/24", sql.NullString{})
	if err != nil {
		t.Fatal(err)
	}
	pool, _ := poolByID(db, poolID)
	record := auditRecord{
		PoolID:      poolID,
		Actor:       "tester",
		Action:      "create",
		EntityType:  "pool",
		EntityID:    sql.NullInt64{Int64: poolID, Valid: true},
		EntityLabel: sql.NullString{String: pool.Name, Valid: true},
		After:       snapshotPool(pool),
	}
	if err := insertAuditRecord(db, record); err != nil {
		t.Fatal(err)
	}
	entries, err := listAuditEntries(db, poolID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("err=%v len=%d", err, len(entries))
	}
	e := entries[0]
	if e.Actor != "tester" || e.Action != "create" || e.EntityType != "pool" {
		t.Errorf("entry=%+v", e)
	}
	if !strings.Contains(nullString(e.AfterJSON), "10.0.0.0/24") {
		t.Errorf("after snapshot missing cidr: %s", nullString(e.AfterJSON))
	}
	views := auditViews(entries)
	if len(views) != 1 || views[0].EntityLabel != "audited" {
		t.Errorf("views=%+v", views)
	}
}

func TestImportYAMLBundle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	r := newRouter(db)

	body := `
pools:
  - name: imported
    cidr: 10.8.0.0/16
    description: from bundle
    reserved:
      - cidr: 10.8.0.0/24
        description: infra
    allocations:
      - metadata:
          name: web-nodes
        spec:
          type: nodes
          tenantClusterRef:
            name: web
        status:
          startAddress: 10.8.1.0
          endAddress: 10.8.1.20
      - metadata:
          name: out-of-pool
        status:
          startAddress: 10.9.0.0
          endAddress: 10.9.0.5
`
	req := httptest.NewRequest(http.MethodPost, "/api/import/yaml", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var report ImportReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.PoolsAdded != 1 || report.ReservedAdded != 1 || report.AllocationsAdded != 1 {
		t.Fatalf("report=%+v", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected one error for the out-of-pool allocation, got %v", report.Errors)
	}

	pool, ok := poolByName(db, "imported")
	if !ok {
		t.Fatal("imported pool missing")
	}
	allocations, _ := listAllocations(db, pool.ID)
	if len(allocations) != 1 || allocations[0].Name != "web-nodes" {
		t.Fatalf("allocations=%+v", allocations)
	}
}

func TestExportBundleFreePercent(t *testing.T) {
	db := openTestDB(t)
	poolID, err := insertPool(db, "pct", "10.50.0.0/16", sql.NullString{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := insertReserved(db, poolID, "10.50.0.0/24", sql.NullString{}); err != nil {
		t.Fatal(err)
	}
	bundle, err := buildExportBundle(db, poolID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bundle.Pools) != 1 {
		t.Fatalf("pools=%d", len(bundle.Pools))
	}
	p := bundle.Pools[0]
	if p.Summary.Free != 255 || p.Summary.Total != 256 {
		t.Fatalf("summary=%+v", p.Summary)
	}
	if want := 255.0 / 256 * 100; p.FreePercent != want {
		t.Errorf("freePercent=%v, want %v", p.FreePercent, want)
	}
}

func TestCreatePoolDuplicateName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	r := newRouter(db)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/pools", strings.NewReader(`{"name":"dup","cidr":"10.30.0.0/24"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	if w := post(); w.Code != http.StatusCreated {
		t.Fatalf("first create: status=%d body=%s", w.Code, w.Body.String())
	}
	if w := post(); w.Code != http.StatusConflict {
		t.Fatalf("duplicate name: status=%d, want 409", w.Code)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	if _, err := insertPool(db, "unique-check", "10.31.0.0/24", sql.NullString{}); err != nil {
		t.Fatal(err)
	}
	_, err := insertPool(db, "unique-check", "10.31.1.0/24", sql.NullString{})
	if !isUniqueViolation(err) {
		t.Fatalf("duplicate insert error not recognized: %v", err)
	}
	if isUniqueViolation(nil) {
		t.Error("nil error flagged as unique violation")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := openTestDB(t)
	poolID, err := insertPool(src, "roundtrip", "10.40.0.0/16", parseNullString("source pool"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := insertReserved(src, poolID, "10.40.0.0/24", parseNullString("infra")); err != nil {
		t.Fatal(err)
	}
	if _, err := insertAllocation(src, AllocationRow{
		PoolID:       poolID,
		Name:         "web-nodes",
		ClusterName:  parseNullString("web"),
		AllocType:    AllocTypeNodes,
		StartAddress: sql.NullString{String: "10.40.1.0", Valid: true},
		EndAddress:   sql.NullString{String: "10.40.1.20", Valid: true},
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/export/yaml", nil)
	w := httptest.NewRecorder()
	newRouter(src).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("export: status=%d body=%s", w.Code, w.Body.String())
	}

	dstName := t.Name() + "_dst"
	dst, err := sql.Open("sqlite", sqliteDSN("file:"+dstName+"?mode=memory&cache=shared"))
	if err != nil {
		t.Fatal(err)
	}
	dst.SetMaxOpenConns(1)
	t.Cleanup(func() { dst.Close() })
	if err := migrate(dst); err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/import/yaml", bytes.NewReader(w.Body.Bytes()))
	w = httptest.NewRecorder()
	newRouter(dst).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("import: status=%d body=%s", w.Code, w.Body.String())
	}
	var report ImportReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.PoolsAdded != 1 || report.ReservedAdded != 1 || report.AllocationsAdded != 1 || len(report.Errors) != 0 {
		t.Fatalf("report=%+v", report)
	}
	pool, ok := poolByName(dst, "roundtrip")
	if !ok || pool.CIDR != "10.40.0.0/16" {
		t.Fatalf("pool=%+v ok=%v", pool, ok)
	}
}

func TestPoolMapEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	r := newRouter(db)

	payload := PoolMapRequest{
		CIDR:     "10.0.0.0/16",
		Reserved: []ReservedEntry{{CIDR: "10.0.0.0/24", Description: "infra"}},
		Allocations: []IPAllocation{
			testAllocation("web", "team-a", AllocTypeNodes, "10.0.1.0", "10.0.1.50"),
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/poolmap?filter_cluster=team-a", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var view PoolMapView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Granularity != 24 || len(view.Blocks) != 256 {
		t.Fatalf("granularity=%d blocks=%d", view.Granularity, len(view.Blocks))
	}
	if view.Filtered == nil || view.Filtered.MatchingAllocations != 1 {
		t.Fatalf("filtered=%+v", view.Filtered)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/poolmap", strings.NewReader(`{"cidr":"not-a-cidr"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad cidr: status=%d", w.Code)
	}
}

func TestPoolLifecycleHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	r := newRouter(db)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Actor", "smoke")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/api/pools", `{"name":"lifecycle","cidr":"10.20.0.0/16"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool: status=%d body=%s", w.Code, w.Body.String())
	}
	var created PoolView
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Granularity != 24 || !created.CanDrillDown {
		t.Fatalf("view=%+v", created)
	}

	if w := post("/api/pools", `{"name":"bad","cidr":"10.0.0.0/40"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid cidr accepted: status=%d", w.Code)
	}

	poolPath := "/api/pools/" + itoa64(created.ID)
	if w := post(poolPath+"/reserved", `{"cidr":"10.21.0.0/24"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("out-of-pool reserved accepted: status=%d", w.Code)
	}
	if w := post(poolPath+"/reserved", `{"cidr":"10.20.0.0/24","description":"infra"}`); w.Code != http.StatusCreated {
		t.Fatalf("reserved: status=%d body=%s", w.Code, w.Body.String())
	}
	if w := post(poolPath+"/allocations", `{"name":"web","clusterName":"team-a","type":"nodes","startAddress":"10.20.1.0","endAddress":"10.20.1.50"}`); w.Code != http.StatusCreated {
		t.Fatalf("allocation: status=%d body=%s", w.Code, w.Body.String())
	}
	if w := post(poolPath+"/allocations", `{"name":"half","startAddress":"10.20.1.0"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("half-addressed allocation accepted: status=%d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, poolPath+"/map?filter_cluster=team-a&block=10.20.1.0/24", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("map: status=%d body=%s", w.Code, w.Body.String())
	}
	var view PoolMapView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.DrillDown == nil || view.DrillDown.Summary.AllocatedNodes != 51 {
		t.Fatalf("drill-down=%+v", view.DrillDown)
	}

	entries, err := listAuditEntries(db, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit entries=%d, want 3", len(entries))
	}
	for _, e := range entries {
		if e.Actor != "smoke" {
			t.Errorf("actor=%s", e.Actor)
		}
	}
}
