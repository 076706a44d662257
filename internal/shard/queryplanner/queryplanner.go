// Package queryplanner decides whether a raw search query is worth running
// against the store, and if so how expensive a scan to allow it. It mirrors
// the shape of the platform's earlier hand-rolled query parser but replaces
// boolean AND/OR/NOT parsing with a cost-classification pass, since the
// store itself (FTS5) now owns boolean matching.
package queryplanner

import (
	"strings"

	"github.com/distshard/shardcore/internal/shard/contentfilter"
)

// CostBucket classifies how expensive a query is expected to be to run,
// based on how much of it is made up of common terms.
type CostBucket string

const (
	CostLow    CostBucket = "low"
	CostMedium CostBucket = "medium"
	CostHigh   CostBucket = "high"
)

// MaxRequestedMax is the ceiling every caller-provided requestedMax is
// clamped to before it ever reaches Plan.
const MaxRequestedMax = 100

// commonRatioRejectThreshold is the fraction of common tokens above which a
// query is rejected outright as too unselective to be worth running.
const commonRatioRejectThreshold = 0.80

// Plan is the planner's decision for one query.
type Plan struct {
	Accepted   bool
	Reason     string
	Processed  string
	CostBucket CostBucket
	RowCap     int
}

// ClampRequestedMax enforces the caller-side ceiling on requestedMax before
// it is handed to Plan.
func ClampRequestedMax(requestedMax int) int {
	if requestedMax <= 0 {
		return MaxRequestedMax
	}
	if requestedMax > MaxRequestedMax {
		return MaxRequestedMax
	}
	return requestedMax
}

// PlanQuery classifies raw and produces a decision on whether, and how, to
// run it. requestedMax must already have been passed through
// ClampRequestedMax.
func PlanQuery(raw string, requestedMax int) Plan {
	processed := contentfilter.FilterQuery(raw)
	if strings.TrimSpace(processed) == "" {
		return Plan{Accepted: false, Reason: "only stop words", Processed: processed}
	}

	tokens := strings.Fields(processed)
	total := len(tokens)
	common := 0
	for _, tok := range tokens {
		if contentfilter.IsCommonToken(tok) {
			common++
		}
	}
	ratio := float64(common) / float64(total)

	if ratio > commonRatioRejectThreshold {
		return Plan{Accepted: false, Reason: "too common", Processed: processed}
	}

	var bucket CostBucket
	switch {
	case ratio == 0:
		bucket = CostLow
	case ratio < 0.5:
		bucket = CostMedium
	default:
		bucket = CostHigh
	}

	var rowCap int
	switch bucket {
	case CostHigh:
		rowCap = min(requestedMax, 50)
	case CostMedium:
		rowCap = min(requestedMax, 200)
	default:
		rowCap = requestedMax
	}

	return Plan{
		Accepted:   true,
		Processed:  processed,
		CostBucket: bucket,
		RowCap:     rowCap,
	}
}
