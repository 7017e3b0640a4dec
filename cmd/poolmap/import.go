package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

// ImportReport summarizes a bundle import. Rows that fail validation are
// skipped and reported, they never abort the rest of the bundle.
type ImportReport struct {
	PoolsAdded       int      `json:"poolsAdded"`
	ReservedAdded    int      `json:"reservedAdded"`
	AllocationsAdded int      `json:"allocationsAdded"`
	Warnings         []string `json:"warnings,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

func importYAML(c *gin.Context, db *sql.DB) (ImportReport, error) {
	var report ImportReport
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		return report, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return report, errors.New("empty import body")
	}
	var bundle ExportBundle
	if err := yaml.Unmarshal(body, &bundle); err != nil {
		return report, fmt.Errorf("parse yaml: %w", err)
	}
	if len(bundle.Pools) == 0 {
		return report, errors.New("bundle has no pools")
	}

	for _, in := range bundle.Pools {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			report.Errors = append(report.Errors, "pool with empty name skipped")
			continue
		}
		prefix, ok := parseIPv4Prefix(in.CIDR)
		if !ok {
			report.Errors = append(report.Errors, "pool "+name+": invalid cidr "+in.CIDR)
			continue
		}
		pool, exists := poolByName(db, name)
		if exists {
			if pool.CIDR != prefix.String() {
				report.Errors = append(report.Errors, "pool "+name+": cidr mismatch with existing pool, skipped")
				continue
			}
			report.Warnings = append(report.Warnings, "pool "+name+" already exists, merging entries")
		} else {
			id, err := insertPool(db, name, prefix.String(), parseNullString(in.Description))
			if err != nil {
				report.Errors = append(report.Errors, "pool "+name+": "+err.Error())
				continue
			}
			pool, _ = poolByID(db, id)
			report.PoolsAdded++
		}
		poolRange := parsePoolCIDR(pool.CIDR)

		for _, res := range in.Reserved {
			sub, ok := parseIPv4Prefix(res.CIDR)
			if !ok {
				report.Errors = append(report.Errors, "pool "+name+": invalid reserved cidr "+res.CIDR)
				continue
			}
			subRange := parsePoolCIDR(sub.String())
			if !rangeContains(poolRange, subRange.Start, subRange.End) {
				report.Errors = append(report.Errors, "pool "+name+": reserved "+res.CIDR+" outside pool")
				continue
			}
			if _, err := insertReserved(db, pool.ID, sub.String(), parseNullString(res.Description)); err != nil {
				report.Errors = append(report.Errors, "pool "+name+": "+err.Error())
				continue
			}
			report.ReservedAdded++
		}

		for _, a := range in.Allocations {
			row, err := allocationRowFromObject(pool, a)
			if err != nil {
				report.Errors = append(report.Errors, "pool "+name+": "+err.Error())
				continue
			}
			if _, err := insertAllocation(db, row); err != nil {
				report.Errors = append(report.Errors, "pool "+name+": "+err.Error())
				continue
			}
			report.AllocationsAdded++
		}

		writeAudit(db, c, auditRecord{
			PoolID:     pool.ID,
			Action:     "import",
			EntityType: "pool",
			EntityID:   sql.NullInt64{Int64: pool.ID, Valid: true},
			EntityLabel: sql.NullString{
				String: pool.Name, Valid: true,
			},
			After: auditImportSummary{
				Source:           "yaml",
				PoolsAdded:       report.PoolsAdded,
				ReservedAdded:    report.ReservedAdded,
				AllocationsAdded: report.AllocationsAdded,
				Warnings:         report.Warnings,
				Errors:           report.Errors,
			},
		})
	}
	return report, nil
}

func allocationRowFromObject(pool Pool, a IPAllocation) (AllocationRow, error) {
	name := strings.TrimSpace(a.Metadata.Name)
	if name == "" {
		return AllocationRow{}, errors.New("allocation with empty name")
	}
	row := AllocationRow{
		PoolID:    pool.ID,
		Name:      name,
		AllocType: normalizeAllocType(a.Spec.Type),
	}
	if a.Spec.TenantClusterRef != nil {
		row.ClusterName = parseNullString(a.Spec.TenantClusterRef.Name)
	}
	startRaw := strings.TrimSpace(a.Status.StartAddress)
	endRaw := strings.TrimSpace(a.Status.EndAddress)
	if (startRaw == "") != (endRaw == "") {
		return AllocationRow{}, errors.New("allocation " + name + ": start and end must be set together")
	}
	if startRaw != "" {
		start, okStart := parseIPv4Addr(startRaw)
		end, okEnd := parseIPv4Addr(endRaw)
		if !okStart || !okEnd {
			return AllocationRow{}, errors.New("allocation " + name + ": invalid address range")
		}
		startU, endU := ipv4ToU32(start), ipv4ToU32(end)
		if startU > endU || !rangeContains(parsePoolCIDR(pool.CIDR), startU, endU) {
			return AllocationRow{}, errors.New("allocation " + name + ": range outside pool")
		}
		row.StartAddress = sql.NullString{String: start.String(), Valid: true}
		row.EndAddress = sql.NullString{String: end.String(), Valid: true}
	}
	return row, nil
}
