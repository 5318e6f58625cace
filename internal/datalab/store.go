// Package datalab reads conversations out of a datalab Postgres database and
// presents each one as a dialogue document. It never writes.
package datalab

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Hyrsta/AiSpea/internal/dialogue"
)

// pgUndefinedTable is the SQLSTATE Postgres reports for a missing relation.
const pgUndefinedTable = "42P01"

// ListParams filters ListConversationIDs. Zero fields do not filter.
type ListParams struct {
	DatasetName string
	Split       Split
	Status      ConversationStatus
	Limit       int
}

// GetDocument loads one conversation and its messages as a document.
func GetDocument(ctx context.Context, db *sql.DB, conversationID int64) (*dialogue.Document, error) {
	c, err := getConversation(ctx, db, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := loadMessages(ctx, db, conversationID)
	if err != nil {
		return nil, err
	}
	return buildDocument(c, msgs)
}

// ListConversationIDs returns matching conversation ids in ascending order.
func ListConversationIDs(ctx context.Context, db *sql.DB, p ListParams) ([]int64, error) {
	p, err := normalizeListParams(p)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
SELECT c.id
FROM conversations c
JOIN datasets d ON d.id = c.dataset_id
WHERE ($1 = '' OR d.name = $1)
  AND ($2 = '' OR c.split = $2)
  AND ($3 = '' OR c.status = $3)
ORDER BY c.id ASC
LIMIT NULLIF($4::int, 0)
`, p.DatasetName, string(p.Split), string(p.Status), p.Limit)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan conversation id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list conversations", err)
	}
	return out, nil
}

// normalizeListParams validates p and canonicalises its split and status.
func normalizeListParams(p ListParams) (ListParams, error) {
	if p.Split != "" {
		split, ok := NormalizeSplit(string(p.Split))
		if !ok {
			return ListParams{}, fmt.Errorf("%w: split %q", ErrInvalidInput, p.Split)
		}
		p.Split = split
	}
	if p.Status != "" {
		st, ok := NormalizeStatus(string(p.Status))
		if !ok {
			return ListParams{}, fmt.Errorf("%w: status %q", ErrInvalidInput, p.Status)
		}
		p.Status = st
	}
	if p.Limit < 0 {
		return ListParams{}, fmt.Errorf("%w: limit %d", ErrInvalidInput, p.Limit)
	}
	return p, nil
}

// getConversation reads the labels column through to_jsonb so databases
// without it still work.
func getConversation(ctx context.Context, db *sql.DB, id int64) (conversation, error) {
	var c conversation
	var tagsRaw, labelsRaw []byte
	err := db.QueryRowContext(ctx, `
SELECT c.id, d.name, c.split, c.status, c.tags, c.source, c.notes,
  COALESCE(to_jsonb(c) -> 'labels', '{}'::jsonb)
FROM conversations c
JOIN datasets d ON d.id = c.dataset_id
WHERE c.id = $1
`, id).Scan(&c.ID, &c.Dataset, &c.Split, &c.Status, &tagsRaw, &c.Source, &c.Notes, &labelsRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation{}, fmt.Errorf("%w: conversation %d", ErrNotFound, id)
		}
		return conversation{}, wrapErr("get conversation", err)
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &c.Tags); err != nil {
			return conversation{}, fmt.Errorf("datalab: conversation %d tags: %w", id, err)
		}
	}
	c.Labels = labelsRaw
	return c, nil
}

func loadMessages(ctx context.Context, db *sql.DB, conversationID int64) ([]message, error) {
	rows, err := db.QueryContext(ctx, `
SELECT role, name, content, meta
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY idx ASC
`, conversationID)
	if err != nil {
		return nil, wrapErr("load messages", err)
	}
	defer rows.Close()

	var out []message
	for rows.Next() {
		var m message
		var meta []byte
		if err := rows.Scan(&m.Role, &m.Name, &m.Content, &meta); err != nil {
			return nil, wrapErr("scan message", err)
		}
		m.Meta = meta
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("load messages", err)
	}
	return out, nil
}

func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("datalab: %s: %w: %w", op, ErrSchemaMissing, err)
	}
	return fmt.Errorf("datalab: %s: %w", op, err)
}
