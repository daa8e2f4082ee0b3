package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
)

const groupChatColumns = `id, title, description, selection_strategy, max_rounds, allow_repeated_speaker,
	termination_config, status, created_at, updated_at`

const participantColumns = `id, group_chat_id, agent_id, agent_version_id, speaking_order, constraints, created_at`

const linkColumns = `id, group_chat_id, conversation_id, round_number, current_speaker_id, created_at`

func (s *Store) ListGroupChats(ctx context.Context, skip, limit int) ([]groupchat.GroupChat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupChatColumns+` FROM group_chats ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list group chats: %w", err)
	}
	defer rows.Close()

	var out []groupchat.GroupChat
	for rows.Next() {
		g, err := scanGroupChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group chat: %w", err)
		}
		out = append(out, g)
	}
	return orEmpty(out), rows.Err()
}

// GetGroupChat returns the group chat with its participants in speaking order.
func (s *Store) GetGroupChat(ctx context.Context, id string) (*groupchat.GroupChat, error) {
	g, err := scanGroupChat(s.pool.QueryRow(ctx, `SELECT `+groupChatColumns+` FROM group_chats WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get group chat %s", id)
	}
	g.Participants, err = s.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGroupChat inserts the chat and its initial participants in one
// transaction. Participants take their list position as speaking order.
func (s *Store) CreateGroupChat(ctx context.Context, req groupchat.CreateRequest) (*groupchat.GroupChat, error) {
	term, err := marshalJSON(req.TerminationConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal termination config: %w", err)
	}

	var created groupchat.GroupChat
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		g, err := scanGroupChat(tx.QueryRow(ctx,
			`INSERT INTO group_chats (title, description, selection_strategy, max_rounds, allow_repeated_speaker, termination_config)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+groupChatColumns,
			req.Title, req.Description, req.SelectionStrategy, req.MaxRounds, req.AllowRepeatedSpeaker, term))
		if err != nil {
			return mapPgError(err, "insert group chat")
		}
		for i, agentID := range req.ParticipantAgentIDs {
			order := i
			p, err := insertParticipant(ctx, tx, g.ID, groupchat.AddParticipantRequest{AgentID: agentID, SpeakingOrder: &order})
			if err != nil {
				return err
			}
			g.Participants = append(g.Participants, *p)
		}
		created = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create group chat: %w", err)
	}
	return &created, nil
}

func (s *Store) UpdateGroupChat(ctx context.Context, g *groupchat.GroupChat) error {
	term, err := marshalJSON(g.TerminationConfig)
	if err != nil {
		return fmt.Errorf("marshal termination config: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`UPDATE group_chats SET title = $2, description = $3, selection_strategy = $4, max_rounds = $5,
		 allow_repeated_speaker = $6, termination_config = $7, status = $8, updated_at = NOW()
		 WHERE id = $1 RETURNING updated_at`,
		g.ID, g.Title, g.Description, g.SelectionStrategy, g.MaxRounds, g.AllowRepeatedSpeaker, term, g.Status,
	).Scan(&g.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update group chat %s", g.ID)
	}
	return nil
}

func (s *Store) DeleteGroupChat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM group_chats WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete group chat %s", id)
}

// --- Participants ---

// ListParticipants orders by speaking order with unordered entries last,
// then by join time.
func (s *Store) ListParticipants(ctx context.Context, groupChatID string) ([]groupchat.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM group_chat_participants
		 WHERE group_chat_id = $1 ORDER BY speaking_order NULLS LAST, created_at, id`,
		groupChatID)
	if err != nil {
		return nil, mapPgError(err, "list participants")
	}
	defer rows.Close()

	var out []groupchat.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) AddParticipant(ctx context.Context, groupChatID string, req groupchat.AddParticipantRequest) (*groupchat.Participant, error) {
	var p *groupchat.Participant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = insertParticipant(ctx, tx, groupChatID, req)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE group_chats SET updated_at = NOW() WHERE id = $1`, groupChatID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add participant to %s: %w", groupChatID, err)
	}
	return p, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, groupChatID, agentID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM group_chats WHERE id = $1 FOR UPDATE`, groupChatID).Scan(&exists); err != nil {
			return notFoundWrap(err, "lock group chat %s", groupChatID)
		}
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM group_chat_participants WHERE group_chat_id = $1`, groupChatID).Scan(&count); err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM group_chat_participants WHERE group_chat_id = $1 AND agent_id = $2`, groupChatID, agentID)
		if err := execExpectOne(tag, err, "remove participant %s from %s", agentID, groupChatID); err != nil {
			return err
		}
		if count-1 < groupchat.MinParticipants {
			return fmt.Errorf("remove participant: a group chat requires at least %d participants: %w",
				groupchat.MinParticipants, domain.ErrValidation)
		}
		_, err = tx.Exec(ctx, `UPDATE group_chats SET updated_at = NOW() WHERE id = $1`, groupChatID)
		return err
	})
}

func insertParticipant(ctx context.Context, tx pgx.Tx, groupChatID string, req groupchat.AddParticipantRequest) (*groupchat.Participant, error) {
	constraints, err := marshalJSON(req.Constraints)
	if err != nil {
		return nil, fmt.Errorf("marshal constraints: %w", err)
	}
	p, err := scanParticipant(tx.QueryRow(ctx,
		`INSERT INTO group_chat_participants (group_chat_id, agent_id, agent_version_id, speaking_order, constraints)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+participantColumns,
		groupChatID, req.AgentID, nullIfEmpty(req.AgentVersionID), req.SpeakingOrder, constraints))
	if err != nil {
		return nil, mapPgError(err, "insert participant "+req.AgentID)
	}
	return &p, nil
}

// --- Conversation links ---

func (s *Store) CreateConversationLink(ctx context.Context, groupChatID, conversationID string) (*groupchat.ConversationLink, error) {
	l, err := scanLink(s.pool.QueryRow(ctx,
		`INSERT INTO group_chat_conversations (group_chat_id, conversation_id)
		 VALUES ($1, $2)
		 RETURNING `+linkColumns,
		groupChatID, conversationID))
	if err != nil {
		return nil, mapPgError(err, "link conversation")
	}
	return &l, nil
}

func (s *Store) UpdateConversationLink(ctx context.Context, groupChatID, conversationID string, round int, speakerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE group_chat_conversations SET round_number = $3, current_speaker_id = $4
		 WHERE group_chat_id = $1 AND conversation_id = $2`,
		groupChatID, conversationID, round, nullIfEmpty(speakerID))
	return execExpectOne(tag, err, "update link %s/%s", groupChatID, conversationID)
}

func (s *Store) ListConversationLinks(ctx context.Context, groupChatID string) ([]groupchat.ConversationLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM group_chat_conversations WHERE group_chat_id = $1 ORDER BY created_at DESC`,
		groupChatID)
	if err != nil {
		return nil, mapPgError(err, "list conversation links")
	}
	defer rows.Close()

	var out []groupchat.ConversationLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation link: %w", err)
		}
		out = append(out, l)
	}
	return orEmpty(out), rows.Err()
}

// ListGroupChatMessages returns the messages of every linked conversation,
// oldest first.
func (s *Store) ListGroupChatMessages(ctx context.Context, groupChatID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.role, m.content, m.parent_message_id, m.created_at, m.extra_data
		 FROM messages m
		 JOIN group_chat_conversations l ON l.conversation_id = m.conversation_id
		 WHERE l.group_chat_id = $1
		 ORDER BY m.created_at, m.seq`,
		groupChatID)
	if err != nil {
		return nil, mapPgError(err, "list group chat messages")
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return orEmpty(out), rows.Err()
}

func scanGroupChat(row scannable) (groupchat.GroupChat, error) {
	var g groupchat.GroupChat
	var termJSON []byte
	err := row.Scan(&g.ID, &g.Title, &g.Description, &g.SelectionStrategy, &g.MaxRounds, &g.AllowRepeatedSpeaker,
		&termJSON, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return g, err
	}
	return g, unmarshalJSON(termJSON, &g.TerminationConfig, "termination config")
}

func scanParticipant(row scannable) (groupchat.Participant, error) {
	var p groupchat.Participant
	var versionID *string
	var constraintsJSON []byte
	err := row.Scan(&p.ID, &p.GroupChatID, &p.AgentID, &versionID, &p.SpeakingOrder, &constraintsJSON, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.AgentVersionID = deref(versionID)
	return p, unmarshalJSON(constraintsJSON, &p.Constraints, "constraints")
}

func scanLink(row scannable) (groupchat.ConversationLink, error) {
	var l groupchat.ConversationLink
	var speakerID *string
	err := row.Scan(&l.ID, &l.GroupChatID, &l.ConversationID, &l.RoundNumber, &speakerID, &l.CreatedAt)
	l.CurrentSpeakerID = deref(speakerID)
	return l, err
}
