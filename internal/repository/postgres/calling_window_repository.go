package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
)

// CallingWindowRepository persists campaign calling windows.
type CallingWindowRepository struct {
	db *sqlx.DB
}

// NewCallingWindowRepository creates a new repository.
func NewCallingWindowRepository(db *sqlx.DB) *CallingWindowRepository {
	return &CallingWindowRepository{db: db}
}

// Replace replaces all calling windows for a campaign.
func (r *CallingWindowRepository) Replace(ctx context.Context, campaignID uuid.UUID, windows []domain.CallingWindow) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_calling_windows WHERE campaign_id = $1`, campaignID); err != nil {
			return fmt.Errorf("calling windows: delete existing: %w", err)
		}

		if len(windows) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, `INSERT INTO campaign_calling_windows (campaign_id, day_of_week, start_minute, end_minute) VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return fmt.Errorf("calling windows: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, w := range windows {
			start := w.Start.Hour()*60 + w.Start.Minute()
			end := w.End.Hour()*60 + w.End.Minute()
			if _, err := stmt.ExecContext(ctx, campaignID, int(w.DayOfWeek), start, end); err != nil {
				return fmt.Errorf("calling windows: insert: %w", err)
			}
		}
		return nil
	})
}

// List retrieves calling windows for a campaign.
func (r *CallingWindowRepository) List(ctx context.Context, campaignID uuid.UUID) ([]domain.CallingWindow, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT day_of_week, start_minute, end_minute
		FROM campaign_calling_windows WHERE campaign_id = $1 ORDER BY day_of_week, start_minute`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("calling windows: query: %w", err)
	}
	defer rows.Close()

	var windows []domain.CallingWindow
	for rows.Next() {
		var row struct {
			Day      int `db:"day_of_week"`
			StartMin int `db:"start_minute"`
			EndMin   int `db:"end_minute"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("calling windows: scan: %w", err)
		}

		windows = append(windows, domain.CallingWindow{
			DayOfWeek: time.Weekday(row.Day),
			Start:     minuteToTime(row.StartMin),
			End:       minuteToTime(row.EndMin),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calling windows: rows err: %w", err)
	}

	return windows, nil
}

func minuteToTime(min int) time.Time {
	hour := min / 60
	minute := min % 60
	return time.Date(2000, time.January, 1, hour, minute, 0, 0, time.UTC)
}
