package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
)

const conversationColumns = `id, agent_id, agent_version_id, title, status, started_at, ended_at, extra_data`

const messageColumns = `id, conversation_id, role, content, parent_message_id, created_at, extra_data`

func (s *Store) CreateConversation(ctx context.Context, req conversation.CreateRequest) (*conversation.Conversation, error) {
	extra, err := marshalJSONObject(req.ExtraData)
	if err != nil {
		return nil, fmt.Errorf("marshal extra data: %w", err)
	}
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`INSERT INTO conversations (agent_id, agent_version_id, title, extra_data)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+conversationColumns,
		req.AgentID, nullIfEmpty(req.AgentVersionID), req.Title, extra))
	if err != nil {
		return nil, mapPgError(err, "create conversation")
	}
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, agentID string, opts conversation.ListOptions) ([]conversation.Conversation, error) {
	var q queryBuilder
	q.eq("agent_id", agentID)
	sql := `SELECT ` + conversationColumns + ` FROM conversations` + q.clause() +
		` ORDER BY started_at DESC, id` + q.page(opts.Limit, opts.Skip)

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, mapPgError(err, "list conversations")
	}
	defer rows.Close()

	var result []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return orEmpty(result), rows.Err()
}

func (s *Store) CompleteConversation(ctx context.Context, id string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2, ended_at = $3 WHERE id = $1`,
		id, conversation.StatusCompleted, endedAt)
	return execExpectOne(tag, err, "complete conversation %s", id)
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete conversation %s", id)
}

func (s *Store) CreateMessage(ctx context.Context, conversationID string, req conversation.MessageCreateRequest) (*conversation.Message, error) {
	extra, err := marshalJSONObject(req.ExtraData)
	if err != nil {
		return nil, fmt.Errorf("marshal extra data: %w", err)
	}
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content, parent_message_id, extra_data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+messageColumns,
		conversationID, req.Role, req.Content, nullIfEmpty(req.ParentMessageID), extra))
	if err != nil {
		return nil, mapPgError(err, "create message")
	}
	return &m, nil
}

// AppendMessages inserts msgs in slice order within one transaction. A
// zero CreatedAt takes the database clock; the bigserial seq keeps
// insertion order when timestamps tie.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs []conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range msgs {
			extra, err := marshalJSONObject(msgs[i].ExtraData)
			if err != nil {
				return fmt.Errorf("marshal extra data: %w", err)
			}
			batch.Queue(
				`INSERT INTO messages (conversation_id, role, content, parent_message_id, extra_data, created_at)
				 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
				 RETURNING id, created_at`,
				conversationID, msgs[i].Role, msgs[i].Content, nullIfEmpty(msgs[i].ParentMessageID), extra,
				nullTime(msgs[i].CreatedAt),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range msgs {
			if err := br.QueryRow().Scan(&msgs[i].ID, &msgs[i].CreatedAt); err != nil {
				_ = br.Close()
				return mapPgError(err, fmt.Sprintf("insert message %d", i))
			}
			msgs[i].ConversationID = conversationID
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("append messages to %s: %w", conversationID, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY created_at, seq`,
		conversationID)
	if err != nil {
		return nil, mapPgError(err, "list messages")
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return orEmpty(result), rows.Err()
}

func scanConversation(row scannable) (conversation.Conversation, error) {
	var c conversation.Conversation
	var versionID *string
	var extraJSON []byte
	err := row.Scan(&c.ID, &c.AgentID, &versionID, &c.Title, &c.Status, &c.StartedAt, &c.EndedAt, &extraJSON)
	if err != nil {
		return c, err
	}
	c.AgentVersionID = deref(versionID)
	return c, unmarshalJSON(extraJSON, &c.ExtraData, "extra data")
}

func scanMessage(row scannable) (conversation.Message, error) {
	var m conversation.Message
	var parentID *string
	var extraJSON []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &parentID, &m.CreatedAt, &extraJSON)
	if err != nil {
		return m, err
	}
	m.ParentMessageID = deref(parentID)
	return m, unmarshalJSON(extraJSON, &m.ExtraData, "extra data")
}
