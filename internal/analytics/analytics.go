// Package analytics computes summary statistics over the reproduction
// event log: stage durations, run outcomes, and cache effectiveness.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryStageDurations returns average and percentile durations per
// stage. Each stage_completed/stage_failed event is paired with the
// most recent prior stage_started event for the same session and stage.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT e1.session_id, e1.stage, e1.timestamp as end_ts,
			(SELECT MAX(e2.timestamp) FROM reproduction_events e2
			 WHERE e2.session_id = e1.session_id
			 AND e2.stage = e1.stage
			 AND e2.event = 'stage_started'
			 AND e2.id < e1.id) as start_ts
		FROM reproduction_events e1
		WHERE e1.event IN ('stage_completed', 'stage_failed')
		AND e1.stage != ''`

	args := []interface{}{}
	if since != "" {
		query += ` AND e1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var sessionID, stage, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&sessionID, &stage, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		seconds := end.Sub(start).Seconds()
		if seconds >= 0 {
			stageDurations[stage] = append(stageDurations[stage], seconds)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// RunSummary aggregates run outcomes across sessions.
type RunSummary struct {
	Runs          int     `json:"runs"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	SuccessPct    float64 `json:"success_pct"`
	CacheHits     int     `json:"cache_hits"`
	ResumedRuns   int     `json:"resumed_runs"`
	StageFailures int     `json:"stage_failures"`
}

// QuerySummary counts completed runs and their outcomes. The outcome
// rides in the run_completed event's detail as "success=true|false".
func QuerySummary(database DB, since string) (RunSummary, error) {
	query := `
		SELECT event, COALESCE(detail, '')
		FROM reproduction_events
		WHERE event IN ('run_completed', 'cache_hit', 'resumed', 'stage_failed')`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return RunSummary{}, fmt.Errorf("query run summary: %w", err)
	}
	defer rows.Close()

	var s RunSummary
	for rows.Next() {
		var event, detail string
		if err := rows.Scan(&event, &detail); err != nil {
			return RunSummary{}, fmt.Errorf("scan run summary: %w", err)
		}
		switch event {
		case "run_completed":
			s.Runs++
			if strings.Contains(detail, "success=true") {
				s.Succeeded++
			} else {
				s.Failed++
			}
		case "cache_hit":
			s.CacheHits++
		case "resumed":
			s.ResumedRuns++
		case "stage_failed":
			s.StageFailures++
		}
	}
	if err := rows.Err(); err != nil {
		return RunSummary{}, err
	}

	if s.Runs > 0 {
		s.SuccessPct = round1(float64(s.Succeeded) / float64(s.Runs) * 100)
	}
	return s, nil
}

// FailureCount is how often a stage ended a run.
type FailureCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// QueryFailuresByStage returns stage_failed counts per stage, most
// frequent first.
func QueryFailuresByStage(database DB, since string) ([]FailureCount, error) {
	query := `
		SELECT stage, COUNT(*)
		FROM reproduction_events
		WHERE event = 'stage_failed' AND stage != ''`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage ORDER BY COUNT(*) DESC, stage ASC`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures by stage: %w", err)
	}
	defer rows.Close()

	var results []FailureCount
	for rows.Next() {
		var fc FailureCount
		if err := rows.Scan(&fc.Stage, &fc.Count); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		results = append(results, fc)
	}
	return results, rows.Err()
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return round1(sum / float64(len(values)))
}

// percentile computes the p-th percentile of sorted values using
// nearest-rank.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(p)/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return round1(sorted[rank])
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
