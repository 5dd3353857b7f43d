package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"supportchat/server/model"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name   string
	schema []string
	// positional rewrites "?" placeholders into the driver's syntax.
	positional bool
}

const messageColumns = `seq, id, conversation_owner_id, sender_role, sender_admin_id, message, created_at, is_read`

// sqlStore implements MessageStore over database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	clock   *clock
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: apply schema: %w", d.name, err)
		}
	}
	s := &sqlStore{db: db, dialect: d, clock: newClock()}

	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM chat_messages`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("%s: read latest timestamp: %w", d.name, err)
	}
	if latest.Valid {
		s.clock.advanceTo(time.UnixMicro(latest.Int64))
	}
	return s, nil
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Append(ctx context.Context, msg NewMessage) (model.ChatMessage, error) {
	if err := validateNew(msg); err != nil {
		return model.ChatMessage{}, err
	}
	stored := model.ChatMessage{
		ID:                  newMessageID(),
		ConversationOwnerID: msg.ConversationOwnerID,
		SenderRole:          msg.SenderRole,
		SenderAdminID:       msg.SenderAdminID,
		Text:                msg.Text,
		CreatedAt:           s.clock.next(),
	}
	var adminID sql.NullString
	if stored.SenderAdminID != "" {
		adminID = sql.NullString{String: stored.SenderAdminID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO chat_messages (id, conversation_owner_id, sender_role, sender_admin_id, message, created_at, is_read)
		 VALUES (?, ?, ?, ?, ?, ?, FALSE)`),
		stored.ID,
		stored.ConversationOwnerID,
		string(stored.SenderRole),
		adminID,
		stored.Text,
		stored.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("%s: insert message: %w", s.dialect.name, err)
	}
	return stored, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (model.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChatMessage{}, ErrNotFound
	}
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("%s: get message: %w", s.dialect.name, err)
	}
	return msg, nil
}

func (s *sqlStore) Conversation(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		return s.query(ctx, `SELECT `+messageColumns+` FROM chat_messages
			WHERE conversation_owner_id = ?
			ORDER BY created_at ASC, seq ASC`, ownerID)
	}
	return s.query(ctx, `SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM chat_messages
			WHERE conversation_owner_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) AS latest
		ORDER BY created_at ASC, seq ASC`, ownerID, limit)
}

func (s *sqlStore) Recent(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		return s.query(ctx, `SELECT `+messageColumns+` FROM chat_messages ORDER BY created_at ASC, seq ASC`)
	}
	return s.query(ctx, `SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM chat_messages
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) AS latest
		ORDER BY created_at ASC, seq ASC`, limit)
}

func (s *sqlStore) MarkRead(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE chat_messages SET is_read = TRUE WHERE is_read = FALSE AND id IN (`+placeholders+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: mark read: %w", s.dialect.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: mark read rows: %w", s.dialect.name, err)
	}
	return int(n), nil
}

func (s *sqlStore) CountUnread(ctx context.Context, ownerID string, senderRole model.Role) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM chat_messages WHERE conversation_owner_id = ? AND sender_role = ? AND is_read = FALSE`),
		ownerID, string(senderRole),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: count unread: %w", s.dialect.name, err)
	}
	return count, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query messages: %w", s.dialect.name, err)
	}
	defer rows.Close()

	var messages []model.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan message: %w", s.dialect.name, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate messages: %w", s.dialect.name, err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.ChatMessage, error) {
	var (
		msg       model.ChatMessage
		seq       int64
		role      string
		adminID   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&seq, &msg.ID, &msg.ConversationOwnerID, &role, &adminID, &msg.Text, &createdAt, &msg.IsRead); err != nil {
		return model.ChatMessage{}, err
	}
	msg.SenderRole = model.Role(role)
	msg.SenderAdminID = adminID.String
	msg.CreatedAt = time.UnixMicro(createdAt).UTC()
	return msg, nil
}
