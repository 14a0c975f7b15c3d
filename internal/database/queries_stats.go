package database

import (
	"context"
	"time"
)

// StatsSnapshot backs /api/stats and the hub's stats_update frames.
type StatsSnapshot struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	CallsLastHour   int            `json:"calls_last_hour"`
	CallsLast24h    int            `json:"calls_last_24h"`
	ActiveCalls     int            `json:"active_calls"`
	MergedCalls24h  int            `json:"merged_calls_24h"`
	ByCallType      map[string]int `json:"by_call_type"`
	ActiveHospital  int            `json:"active_hospital_conversations"`
	UnreadAlerts    int            `json:"unread_alerts"`
	AvgConfidence   float64        `json:"avg_confidence_24h"`
	GeocodedPct     float64        `json:"geocoded_pct_24h"`
}

func (db *DB) Stats(ctx context.Context) (*StatsSnapshot, error) {
	s := &StatsSnapshot{
		GeneratedAt: time.Now().UTC(),
		ByCallType:  map[string]int{},
	}

	err := db.Pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE start_time >= now() - interval '1 hour' AND status <> 'merged'),
			count(*) FILTER (WHERE start_time >= now() - interval '24 hours' AND status <> 'merged'),
			count(*) FILTER (WHERE status = 'active' AND start_time >= now() - interval '24 hours'),
			count(*) FILTER (WHERE status = 'merged' AND start_time >= now() - interval '24 hours'),
			COALESCE(avg(confidence) FILTER (WHERE start_time >= now() - interval '24 hours' AND transcript <> ''), 0),
			COALESCE(
				count(*) FILTER (WHERE latitude IS NOT NULL AND start_time >= now() - interval '24 hours')::float
				/ NULLIF(count(*) FILTER (WHERE location <> '' AND start_time >= now() - interval '24 hours'), 0), 0)
		FROM calls
	`).Scan(&s.CallsLastHour, &s.CallsLast24h, &s.ActiveCalls, &s.MergedCalls24h,
		&s.AvgConfidence, &s.GeocodedPct)
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT call_type, count(*)
		FROM calls
		WHERE start_time >= now() - interval '24 hours' AND status <> 'merged'
		GROUP BY call_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ct string
		var n int
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, err
		}
		s.ByCallType[ct] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM hospital_conversations WHERE status = 'active'`,
	).Scan(&s.ActiveHospital); err != nil {
		return nil, err
	}
	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM alerts WHERE NOT read AND (expires_at IS NULL OR expires_at >= now())`,
	).Scan(&s.UnreadAlerts); err != nil {
		return nil, err
	}

	return s, nil
}

// ComplaintTrend is one chief complaint's 30-day trend for the
// medical-director insights endpoint.
type ComplaintTrend struct {
	CallType   string  `json:"call_type"`
	Total30d   int     `json:"total_30d"`
	Yesterday  int     `json:"yesterday"`
	DailyMean  float64 `json:"daily_mean"`
	DailyStdev float64 `json:"daily_stdev"`
	ZScore     float64 `json:"z_score"`
	IsSpike    bool    `json:"is_spike"`
}

// MedicalDirectorInsights aggregates SOR activity and complaint trends.
type MedicalDirectorInsights struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	SORConversations []ConversationRow `json:"sor_conversations"`
	PhysicianCounts  map[string]int    `json:"physician_counts"`
	ComplaintTrends  []ComplaintTrend  `json:"complaint_trends"`
}
