package main

import (
	"database/sql"
	"encoding/csv"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

type ExportBundle struct {
	ExportedAt string       `json:"exportedAt" yaml:"exportedAt"`
	Pools      []ExportPool `json:"pools" yaml:"pools"`
}

type ExportPool struct {
	Name         string          `json:"name" yaml:"name"`
	CIDR         string          `json:"cidr" yaml:"cidr"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Granularity  int             `json:"granularity" yaml:"granularity"`
	CanDrillDown bool            `json:"canDrillDown" yaml:"canDrillDown"`
	Summary      StatusCounts    `json:"summary" yaml:"summary"`
	FreePercent  float64         `json:"freePercent" yaml:"freePercent"`
	Reserved     []ReservedEntry `json:"reserved,omitempty" yaml:"reserved,omitempty"`
	Allocations  []IPAllocation  `json:"allocations,omitempty" yaml:"allocations,omitempty"`
}

// buildExportBundle collects every pool, or just one when poolID > 0.
func buildExportBundle(db *sql.DB, poolID int64) (ExportBundle, error) {
	bundle := ExportBundle{ExportedAt: nowRFC3339()}
	pools, err := listPools(db)
	if err != nil {
		return bundle, err
	}
	for _, p := range pools {
		if poolID > 0 && p.ID != poolID {
			continue
		}
		reservedRows, err := listReserved(db, p.ID)
		if err != nil {
			return bundle, err
		}
		allocationRows, err := listAllocations(db, p.ID)
		if err != nil {
			return bundle, err
		}
		reserved := reservedEntries(reservedRows)
		allocations := allocationObjects(allocationRows)
		rendered := renderPoolMap(p.CIDR, reserved, allocations, MapFilters{}, "")
		bundle.Pools = append(bundle.Pools, ExportPool{
			Name:         p.Name,
			CIDR:         p.CIDR,
			Description:  nullString(p.Description),
			Granularity:  rendered.Granularity,
			CanDrillDown: rendered.CanDrillDown,
			Summary:      rendered.Summary,
			FreePercent:  rendered.Summary.Percent(rendered.Summary.Free),
			Reserved:     reserved,
			Allocations:  allocations,
		})
	}
	return bundle, nil
}

func exportJSON(c *gin.Context, db *sql.DB) error {
	bundle, err := buildExportBundle(db, parseID(c.Query("pool_id")))
	if err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="poolmap.json"`)
	c.IndentedJSON(http.StatusOK, bundle)
	return nil
}

func exportYAML(c *gin.Context, db *sql.DB) error {
	bundle, err := buildExportBundle(db, parseID(c.Query("pool_id")))
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(bundle)
	if err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="poolmap.yaml"`)
	c.Data(http.StatusOK, "application/x-yaml", out)
	return nil
}

func exportCSV(c *gin.Context, db *sql.DB) error {
	bundle, err := buildExportBundle(db, parseID(c.Query("pool_id")))
	if err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="poolmap.csv"`)
	c.Header("Content-Type", "text/csv")
	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"pool", "cidr", "kind", "name", "cluster", "type", "start", "end", "description"})
	for _, p := range bundle.Pools {
		_ = w.Write([]string{p.Name, p.CIDR, "pool", "", "", "", "", "", p.Description})
		for _, res := range p.Reserved {
			_ = w.Write([]string{p.Name, res.CIDR, "reserved", "", "", "", "", "", res.Description})
		}
		for _, a := range p.Allocations {
			cluster := ""
			if a.Spec.TenantClusterRef != nil {
				cluster = a.Spec.TenantClusterRef.Name
			}
			_ = w.Write([]string{p.Name, "", "allocation", a.Metadata.Name, cluster, a.Spec.Type, a.Status.StartAddress, a.Status.EndAddress, ""})
		}
	}
	w.Flush()
	return w.Error()
}

func exportXLSX(c *gin.Context, db *sql.DB) error {
	bundle, err := buildExportBundle(db, parseID(c.Query("pool_id")))
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	poolSheet := "Pools"
	f.SetSheetName("Sheet1", poolSheet)
	_ = f.SetSheetRow(poolSheet, "A1", &[]any{"Name", "CIDR", "Description", "Granularity", "Free", "Reserved", "Nodes", "LoadBalancer", "Mixed", "Gateway", "Total", "Free %"})
	for i, p := range bundle.Pools {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(poolSheet, cell, &[]any{
			p.Name, p.CIDR, p.Description, p.Granularity,
			p.Summary.Free, p.Summary.Reserved, p.Summary.AllocatedNodes,
			p.Summary.AllocatedLB, p.Summary.Mixed, p.Summary.Gateway, p.Summary.Total,
			p.FreePercent,
		})
	}

	resSheet := "Reserved"
	_, _ = f.NewSheet(resSheet)
	_ = f.SetSheetRow(resSheet, "A1", &[]any{"Pool", "CIDR", "Description"})
	row := 2
	for _, p := range bundle.Pools {
		for _, res := range p.Reserved {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			_ = f.SetSheetRow(resSheet, cell, &[]any{p.Name, res.CIDR, res.Description})
			row++
		}
	}

	allocSheet := "Allocations"
	_, _ = f.NewSheet(allocSheet)
	_ = f.SetSheetRow(allocSheet, "A1", &[]any{"Pool", "Name", "Cluster", "Type", "Start", "End"})
	row = 2
	for _, p := range bundle.Pools {
		for _, a := range p.Allocations {
			cluster := ""
			if a.Spec.TenantClusterRef != nil {
				cluster = a.Spec.TenantClusterRef.Name
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			_ = f.SetSheetRow(allocSheet, cell, &[]any{p.Name, a.Metadata.Name, cluster, a.Spec.Type, a.Status.StartAddress, a.Status.EndAddress})
			row++
		}
	}

	c.Header("Content-Disposition", `attachment; filename="poolmap.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return f.Write(c.Writer)
}

func exportAuditCSV(c *gin.Context, db *sql.DB) error {
	entries, err := listAuditEntries(db, parseID(c.Query("pool_id")))
	if err != nil {
		return err
	}
	c.Header("Content-Disposition", `attachment; filename="poolmap-audit.csv"`)
	c.Header("Content-Type", "text/csv")
	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"created_at", "actor", "action", "entity_type", "entity_label", "reason", "before", "after"})
	for _, e := range entries {
		_ = w.Write([]string{
			e.CreatedAt, e.Actor, e.Action, e.EntityType,
			nullString(e.EntityLabel), nullString(e.Reason),
			nullString(e.BeforeJSON), nullString(e.AfterJSON),
		})
	}
	w.Flush()
	return w.Error()
}

func nullString(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
