package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/store"
)

// PostgresStore is a store.Gateway backed by the conversations and messages tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ store.Gateway = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const conversationColumns = "id, owner_id, title, created_at, updated_at"

func (s *PostgresStore) CreateConversation(ctx context.Context, ownerID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, store.Wrap("create conversation", errors.New("owner id is required"))
	}

	const query = `INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
RETURNING ` + conversationColumns

	conv, err := scanConversation(s.pool.QueryRow(ctx, query, uuid.NewString(), ownerID, store.NormalizeTitle(title)))
	if err != nil {
		return nil, store.Wrap("create conversation", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	const query = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv, err := scanConversation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, store.Wrap("get conversation", translate(err))
	}
	return conv, nil
}

func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	const query = `UPDATE conversations
SET title = $2, updated_at = GREATEST(NOW(), updated_at)
WHERE id = $1
RETURNING ` + conversationColumns

	conv, err := scanConversation(s.pool.QueryRow(ctx, query, id, store.NormalizeTitle(title)))
	if err != nil {
		return nil, store.Wrap("update conversation title", translate(err))
	}
	return conv, nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET updated_at = GREATEST(NOW(), updated_at) WHERE id = $1`, id)
	if err != nil {
		return store.Wrap("touch conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Wrap("touch conversation", store.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return store.Wrap("delete conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Wrap("delete conversation", store.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	const query = `SELECT ` + conversationColumns + `
FROM conversations
WHERE owner_id = $1
ORDER BY updated_at DESC, id`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, store.Wrap("list conversations", err)
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, store.Wrap("list conversations", err)
		}
		result = append(result, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list conversations", err)
	}
	return result, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg store.NewMessage) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, store.Wrap("append message", err)
	}

	// created_at never precedes the conversation's latest message, so (created_at, seq) keeps
	// insertion order even if the server clock steps backwards.
	const query = `INSERT INTO messages (id, conversation_id, role, content, model_id, created_at)
SELECT $1, $2, $3, $4, $5, GREATEST(
    clock_timestamp(),
    COALESCE((SELECT MAX(created_at) FROM messages WHERE conversation_id = $2), '-infinity'::timestamptz)
)
RETURNING created_at`

	stored := models.Message{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		ModelID:        msg.ModelID,
	}

	err := s.pool.QueryRow(ctx, query, stored.ID, stored.ConversationID, string(stored.Role), stored.Content, stored.ModelID).
		Scan(&stored.CreatedAt)
	if err != nil {
		return nil, store.Wrap("append message", translate(err))
	}
	return &stored, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists); err != nil {
		return nil, store.Wrap("list messages", err)
	}
	if !exists {
		return nil, store.Wrap("list messages", store.ErrNotFound)
	}

	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}

	const query = `SELECT id, conversation_id, role, content, model_id, created_at FROM (
    SELECT id, conversation_id, role, content, model_id, created_at, seq
    FROM messages
    WHERE conversation_id = $1
    ORDER BY created_at DESC, seq DESC
    LIMIT $2
) recent
ORDER BY created_at, seq`

	rows, err := s.pool.Query(ctx, query, conversationID, lim)
	if err != nil {
		return nil, store.Wrap("list messages", err)
	}
	defer rows.Close()

	result := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg  models.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.ModelID, &msg.CreatedAt); err != nil {
			return nil, store.Wrap("list messages", err)
		}
		msg.Role = models.Role(role)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list messages", err)
	}
	return result, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conv models.Conversation
	if err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

// translate maps driver errors that mean "no such conversation" onto store.ErrNotFound.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return store.ErrNotFound
		case pgerrcode.InvalidTextRepresentation, pgerrcode.CheckViolation:
			return fmt.Errorf("%w: %s", store.ErrInvalidMessage, pgErr.Message)
		}
	}
	return err
}
