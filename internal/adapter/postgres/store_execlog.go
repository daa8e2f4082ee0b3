package postgres

import (
	"context"
	"fmt"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
)

const logColumns = `id, conversation_id, event_type, level, agent_name, content, data, timestamp`

func (s *Store) CreateLog(ctx context.Context, req execlog.CreateRequest) (*execlog.Log, error) {
	data, err := marshalJSON(req.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	l, err := scanLog(s.pool.QueryRow(ctx,
		`INSERT INTO execution_logs (conversation_id, event_type, level, agent_name, content, data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+logColumns,
		req.ConversationID, req.EventType, req.Level, nullIfEmpty(req.AgentName), req.Content, data))
	if err != nil {
		return nil, mapPgError(err, "create log")
	}
	return &l, nil
}

func (s *Store) GetLog(ctx context.Context, id string) (*execlog.Log, error) {
	l, err := scanLog(s.pool.QueryRow(ctx, `SELECT `+logColumns+` FROM execution_logs WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get log %s", id)
	}
	return &l, nil
}

// ListLogs returns the conversation's logs newest first.
func (s *Store) ListLogs(ctx context.Context, conversationID string, f execlog.Filter) ([]execlog.Log, error) {
	var q queryBuilder
	q.where("conversation_id = ?", conversationID)
	q.eq("level", string(f.Level))
	q.eq("event_type", string(f.EventType))
	q.eq("agent_name", f.AgentName)
	window("timestamp", f.Start, f.End, &q)
	sql := `SELECT ` + logColumns + ` FROM execution_logs` + q.clause() +
		` ORDER BY timestamp DESC, id` + q.page(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, mapPgError(err, "list logs")
	}
	defer rows.Close()

	var out []execlog.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, l)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) LogStats(ctx context.Context, conversationID string) (*execlog.Stats, error) {
	st := &execlog.Stats{
		ConversationID: conversationID,
		ByLevel:        map[string]int64{},
		ByEventType:    map[string]int64{},
	}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM execution_logs WHERE conversation_id = $1`,
		conversationID).Scan(&st.TotalLogs, &st.StartTime, &st.EndTime)
	if err != nil {
		return nil, mapPgError(err, "log stats")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT 'level', level, COUNT(*) FROM execution_logs WHERE conversation_id = $1 GROUP BY level
		 UNION ALL
		 SELECT 'event_type', event_type, COUNT(*) FROM execution_logs WHERE conversation_id = $1 GROUP BY event_type`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("log stats breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dim, key string
		var n int64
		if err := rows.Scan(&dim, &key, &n); err != nil {
			return nil, fmt.Errorf("scan log stats: %w", err)
		}
		if dim == "level" {
			st.ByLevel[key] = n
		} else {
			st.ByEventType[key] = n
		}
	}
	return st, rows.Err()
}

func (s *Store) DeleteLogs(ctx context.Context, conversationID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_logs WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, mapPgError(err, "delete logs")
	}
	return tag.RowsAffected(), nil
}

func scanLog(row scannable) (execlog.Log, error) {
	var l execlog.Log
	var agentName *string
	var dataJSON []byte
	err := row.Scan(&l.ID, &l.ConversationID, &l.EventType, &l.Level, &agentName, &l.Content, &dataJSON, &l.Timestamp)
	if err != nil {
		return l, err
	}
	l.AgentName = deref(agentName)
	return l, unmarshalJSON(dataJSON, &l.Data, "data")
}
