// repository.go provides history record inserts and queries.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// promptPreviewLen caps the stored prompt text. Full prompts can be
// large and the history store only needs enough to identify a request.
const promptPreviewLen = 200

// GenerationRecord is one row in the generation_history table, written
// once per completed request whether it succeeded or failed.
type GenerationRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	PromptPreview string    `json:"prompt_preview"`
	Style         string    `json:"style,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	DurationMS    int       `json:"duration_ms"`
	ImageCount    int       `json:"image_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository provides access to the generation history table.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// TruncatePrompt shortens a prompt to the stored preview length.
func TruncatePrompt(prompt string) string {
	if len(prompt) <= promptPreviewLen {
		return prompt
	}
	return prompt[:promptPreviewLen]
}

// InsertGeneration records one completed request. Returns the row ID.
func (r *Repository) InsertGeneration(ctx context.Context, rec GenerationRecord) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	query := `
		INSERT INTO generation_history (
			correlation_id, provider, model, prompt_preview, style,
			success, error_message, duration_ms, image_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rec.CorrelationID,
		rec.Provider,
		rec.Model,
		TruncatePrompt(rec.PromptPreview),
		rec.Style,
		rec.Success,
		rec.ErrorMessage,
		rec.DurationMS,
		rec.ImageCount,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generation record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// RecentGenerations returns the most recent records, newest first.
func (r *Repository) RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, correlation_id, provider, model,
			   COALESCE(prompt_preview, ''), COALESCE(style, ''),
			   success, COALESCE(error_message, ''),
			   COALESCE(duration_ms, 0), COALESCE(image_count, 0),
			   created_at
		FROM generation_history
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	return scanGenerations(rows)
}

// GenerationsByCorrelationID returns records for one request trace.
func (r *Repository) GenerationsByCorrelationID(ctx context.Context, correlationID string) ([]GenerationRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := `
		SELECT id, correlation_id, provider, model,
			   COALESCE(prompt_preview, ''), COALESCE(style, ''),
			   success, COALESCE(error_message, ''),
			   COALESCE(duration_ms, 0), COALESCE(image_count, 0),
			   created_at
		FROM generation_history
		WHERE correlation_id = ?
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	return scanGenerations(rows)
}

func scanGenerations(rows *sql.Rows) ([]GenerationRecord, error) {
	var records []GenerationRecord
	for rows.Next() {
		var rec GenerationRecord
		var createdAt string

		err := rows.Scan(
			&rec.ID,
			&rec.CorrelationID,
			&rec.Provider,
			&rec.Model,
			&rec.PromptPreview,
			&rec.Style,
			&rec.Success,
			&rec.ErrorMessage,
			&rec.DurationMS,
			&rec.ImageCount,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation row: %w", err)
		}

		rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation rows: %w", err)
	}
	return records, nil
}
