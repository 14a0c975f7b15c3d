package database

import (
	"context"
)

// UnitTagAPI represents a unit tag for API responses. (unit_type,
// unit_number) is unique.
type UnitTagAPI struct {
	ID          int    `json:"id"`
	UnitType    string `json:"unit_type"`
	UnitNumber  int    `json:"unit_number"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"color,omitempty"`
	Active      bool   `json:"active"`
}

// GetOrCreateUnitTag returns the unit tag for (unitType, unitNumber),
// creating it on demand.
func (db *DB) GetOrCreateUnitTag(ctx context.Context, unitType string, unitNumber int, displayName, color string) (*UnitTagAPI, error) {
	var u UnitTagAPI
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO unit_tags (unit_type, unit_number, display_name, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (unit_type, unit_number) DO UPDATE SET active = unit_tags.active
		RETURNING id, unit_type, unit_number, display_name, color, active
	`, unitType, unitNumber, displayName, color).Scan(
		&u.ID, &u.UnitType, &u.UnitNumber, &u.DisplayName, &u.Color, &u.Active)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AttachUnitToCall links a unit tag to a call. Idempotent.
func (db *DB) AttachUnitToCall(ctx context.Context, callID int64, unitTagID int) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO call_units (call_id, unit_tag_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, callID, unitTagID)
	return err
}

// UnitsForCall returns the unit tags attached to a call.
func (db *DB) UnitsForCall(ctx context.Context, callID int64) ([]UnitTagAPI, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT u.id, u.unit_type, u.unit_number, u.display_name, u.color, u.active
		FROM call_units cu
		JOIN unit_tags u ON u.id = cu.unit_tag_id
		WHERE cu.call_id = $1
		ORDER BY u.unit_type, u.unit_number
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []UnitTagAPI{}
	for rows.Next() {
		var u UnitTagAPI
		if err := rows.Scan(&u.ID, &u.UnitType, &u.UnitNumber, &u.DisplayName, &u.Color, &u.Active); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
