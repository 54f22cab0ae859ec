package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitewise/sitewise/internal/db"
)

// Reader queries the audit log. Write and read paths are kept separate so the
// writer stays dependency-free.
type Reader struct {
	db *db.DB
}

func NewReader(database *db.DB) *Reader {
	return &Reader{db: database}
}

// ListItem is one audit entry joined with the actor's identity.
type ListItem struct {
	ID          uuid.UUID      `json:"id"`
	Action      string         `json:"action"`
	ProjectID   *uuid.UUID     `json:"project_id,omitempty"`
	ActorUserID *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorName   string         `json:"actor_name,omitempty"`
	ActorEmail  string         `json:"actor_email,omitempty"`
	Meta        map[string]any `json:"meta"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ListByProject returns the most recent audit entries for a project.
func (r *Reader) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]ListItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT
		  al.id,
		  al.action,
		  al.project_id,
		  al.actor_user_id,
		  COALESCE(u.name, '') AS actor_name,
		  COALESCE(u.email, '') AS actor_email,
		  al.meta,
		  al.created_at
		FROM audit_log al
		LEFT JOIN users u ON u.id = al.actor_user_id
		WHERE al.project_id = $1
		ORDER BY al.created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var item ListItem
		var metaJSON []byte
		err := rows.Scan(
			&item.ID,
			&item.Action,
			&item.ProjectID,
			&item.ActorUserID,
			&item.ActorName,
			&item.ActorEmail,
			&metaJSON,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &item.Meta); err != nil {
				item.Meta = map[string]any{}
			}
		} else {
			item.Meta = map[string]any{}
		}

		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return items, nil
}
