package database

import (
	"context"
	"encoding/json"
	"time"
)

// Alert types and severities (checked by schema constraints).
const (
	AlertTypeInfo     = "info"
	AlertTypeWarning  = "warning"
	AlertTypeCritical = "critical"
	AlertTypeSystem   = "system"
	AlertTypeAnomaly  = "anomaly"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

type AlertRow struct {
	ID              int64           `json:"id"`
	Type            string          `json:"type"`
	Severity        string          `json:"severity"`
	Category        string          `json:"category,omitempty"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	RelatedCallID   *int64          `json:"related_call_id,omitempty"`
	RelatedData     json.RawMessage `json:"related_data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	Acknowledged    bool            `json:"acknowledged"`
	Read            bool            `json:"read"`
	SoundEnabled    bool            `json:"sound_enabled"`
	VisualHighlight bool            `json:"visual_highlight"`
}

// AlertRuleRow mirrors alert_rules. Conditions is a typed union keyed by
// RuleType; Actions templates the Alert the rule produces.
type AlertRuleRow struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	RuleType     string          `json:"rule_type"`
	Conditions   json.RawMessage `json:"conditions"`
	Actions      json.RawMessage `json:"actions"`
	Priority     int             `json:"priority"`
	Active       bool            `json:"active"`
	TriggerCount int64           `json:"trigger_count"`
}

func (db *DB) InsertAlert(ctx context.Context, a *AlertRow) (int64, error) {
	related := a.RelatedData
	if len(related) == 0 {
		related = json.RawMessage(`{}`)
	}
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO alerts
			(type, severity, category, title, message, related_call_id, related_data,
			 expires_at, sound_enabled, visual_highlight)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, a.Type, a.Severity, a.Category, a.Title, a.Message, a.RelatedCallID, related,
		a.ExpiresAt, a.SoundEnabled, a.VisualHighlight).Scan(&id)
	return id, err
}

// DeleteExpiredAlerts removes alerts whose expiry has passed.
func (db *DB) DeleteExpiredAlerts(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM alerts WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *DB) ListUnreadAlerts(ctx context.Context, limit int) ([]AlertRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, type, severity, category, title, message, related_call_id,
			related_data, created_at, expires_at, acknowledged, read,
			sound_enabled, visual_highlight
		FROM alerts
		WHERE NOT read AND (expires_at IS NULL OR expires_at >= now())
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []AlertRow{}
	for rows.Next() {
		var a AlertRow
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Category, &a.Title,
			&a.Message, &a.RelatedCallID, &a.RelatedData, &a.CreatedAt, &a.ExpiresAt,
			&a.Acknowledged, &a.Read, &a.SoundEnabled, &a.VisualHighlight); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ActiveRules returns active alert rules ordered by priority (highest first).
func (db *DB) ActiveRules(ctx context.Context) ([]AlertRuleRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, rule_type, conditions, actions, priority, active, trigger_count
		FROM alert_rules
		WHERE active
		ORDER BY priority DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []AlertRuleRow
	for rows.Next() {
		var r AlertRuleRow
		if err := rows.Scan(&r.ID, &r.Name, &r.RuleType, &r.Conditions, &r.Actions,
			&r.Priority, &r.Active, &r.TriggerCount); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (db *DB) IncrementRuleTriggerCount(ctx context.Context, ruleID int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE alert_rules SET trigger_count = trigger_count + 1 WHERE id = $1`, ruleID)
	return err
}
