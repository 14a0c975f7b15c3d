package units

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
)

// Default display colors per apparatus type. Fire apparatus red, EMS blue,
// command white.
var typeColors = map[string]string{
	"ambulance": "#3b82f6",
	"ems":       "#3b82f6",
	"medic":     "#3b82f6",
	"squad":     "#3b82f6",
	"engine":    "#ef4444",
	"ladder":    "#ef4444",
	"rescue":    "#ef4444",
	"truck":     "#ef4444",
	"battalion": "#f8fafc",
	"chief":     "#f8fafc",
}

// Tagger resolves parsed units to persistent tags and attaches them to calls.
type Tagger struct {
	db  *database.DB
	log zerolog.Logger
}

func NewTagger(db *database.DB, log zerolog.Logger) *Tagger {
	return &Tagger{
		db:  db,
		log: log.With().Str("component", "unit-tagger").Logger(),
	}
}

// Tag parses the transcript and attaches every recognized unit to the call.
// Missing tags are created on demand. Returns the units that were attached.
func (t *Tagger) Tag(ctx context.Context, callID int64, transcript string) ([]Unit, error) {
	parsed := Parse(transcript)
	if len(parsed) == 0 {
		return nil, nil
	}

	for _, u := range parsed {
		tag, err := t.db.GetOrCreateUnitTag(ctx, u.Type, u.Number, u.DisplayName(), typeColors[u.Type])
		if err != nil {
			return nil, fmt.Errorf("unit tag %s: %w", u.DisplayName(), err)
		}
		if err := t.db.AttachUnitToCall(ctx, callID, tag.ID); err != nil {
			return nil, fmt.Errorf("attach unit %s to call %d: %w", u.DisplayName(), callID, err)
		}
	}

	t.log.Debug().Int64("call_id", callID).Int("units", len(parsed)).Msg("units tagged")
	return parsed, nil
}
