package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
)

// UpsertArtifact inserts or updates the artifact row for (task, artifact)
// and replaces its parts atomically: existing parts for the artifact and
// context are deleted, then the new parts inserted in order, all in one
// transaction.
func (s *Store) UpsertArtifact(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, art a2a.Artifact) error {
	if art.ArtifactID == "" {
		return &InvalidDataError{Field: "artifact_id", Reason: "empty"}
	}
	if len(art.Parts) == 0 {
		return &InvalidDataError{Field: "parts", Reason: "artifact must have at least one part"}
	}
	metaJSON, err := json.Marshal(art.Metadata)
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}
	partRows := make([]string, len(art.Parts))
	for i, p := range art.Parts {
		raw, err := a2a.EncodePart(p)
		if err != nil {
			return fmt.Errorf("encode artifact part %d: %w", i, err)
		}
		partRows[i] = string(raw)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_artifacts (artifact_id, task_id, context_id, name, description, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (task_id, artifact_id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				metadata_json = excluded.metadata_json,
				updated_at = CURRENT_TIMESTAMP;
		`, art.ArtifactID, taskID, contextID, art.Name, art.Description, string(metaJSON)); err != nil {
			return fmt.Errorf("upsert artifact: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM artifact_parts WHERE artifact_id = ? AND context_id = ?;
		`, art.ArtifactID, contextID); err != nil {
			return fmt.Errorf("delete artifact parts: %w", err)
		}
		for i, raw := range partRows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO artifact_parts (artifact_id, context_id, position, part_json)
				VALUES (?, ?, ?, ?);
			`, art.ArtifactID, contextID, i, raw); err != nil {
				return fmt.Errorf("insert artifact part %d: %w", i, err)
			}
		}
		return nil
	})
}

// DeleteArtifact removes an artifact and cascades its parts.
func (s *Store) DeleteArtifact(ctx context.Context, artifactID ids.ArtifactID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM task_artifacts WHERE artifact_id = ?;`, artifactID)
		if err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}
		if err := requireRow(res, "artifact "+artifactID.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_parts WHERE artifact_id = ?;`, artifactID); err != nil {
			return fmt.Errorf("delete artifact parts: %w", err)
		}
		return nil
	})
}

// ListArtifactsByTask returns a task's artifacts in creation order with
// parts restored in position order.
func (s *Store) ListArtifactsByTask(ctx context.Context, taskID ids.TaskID) ([]a2a.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, context_id, name, description, metadata_json
		FROM task_artifacts WHERE task_id = ? ORDER BY created_at ASC, artifact_id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	type head struct {
		art       a2a.Artifact
		contextID ids.ContextID
	}
	var heads []head
	for rows.Next() {
		var (
			h        head
			metaJSON string
		)
		if err := rows.Scan(&h.art.ArtifactID, &h.contextID, &h.art.Name, &h.art.Description, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &h.art.Metadata); err != nil {
			return nil, fmt.Errorf("decode artifact metadata: %w", err)
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact rows: %w", err)
	}

	out := make([]a2a.Artifact, 0, len(heads))
	for _, h := range heads {
		parts, err := s.loadParts(ctx, h.art.ArtifactID, h.contextID)
		if err != nil {
			return nil, err
		}
		h.art.Parts = parts
		out = append(out, h.art)
	}
	return out, nil
}

func (s *Store) loadParts(ctx context.Context, artifactID ids.ArtifactID, contextID ids.ContextID) ([]a2a.Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT part_json FROM artifact_parts
		WHERE artifact_id = ? AND context_id = ?
		ORDER BY position ASC;
	`, artifactID, contextID)
	if err != nil {
		return nil, fmt.Errorf("load artifact parts: %w", err)
	}
	defer rows.Close()

	var parts []a2a.Part
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan artifact part: %w", err)
		}
		p, err := a2a.DecodePart([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode artifact part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact part rows: %w", err)
	}
	return parts, nil
}
