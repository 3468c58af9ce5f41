package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// chatStoreRepo implements the chat store repository
type chatStoreRepo struct {
	db *sql.DB
}

// NewChatStoreRepo creates a new chat store repository
func NewChatStoreRepo(dbPath string) (repo.ChatStoreRepo, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Detector, dispatcher and API write concurrently; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// Create table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			direction TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			is_read INTEGER NOT NULL DEFAULT 0,
			is_from_me INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Create indexes
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(is_read, is_from_me)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	return &chatStoreRepo{db: db}, nil
}

const messageColumns = `id, conversation_id, sender_name, content, timestamp, direction, type, is_read, is_from_me`

// Save inserts a message, ignoring duplicates
func (r *chatStoreRepo) Save(ctx context.Context, msg *domain.Message) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (`+messageColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderName,
		msg.Content,
		msg.Timestamp.UnixMilli(),
		string(msg.Direction),
		string(msg.Type),
		boolToInt(msg.IsRead),
		boolToInt(msg.IsFromMe),
		time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether a message ID is stored
func (r *chatStoreRepo) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query message: %w", err)
	}
	return true, nil
}

// GetByID gets a message by ID
func (r *chatStoreRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

// ListByConversation lists messages of a conversation, newest first
func (r *chatStoreRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?
	`, conversationID, sqlLimit(limit))
}

// ListRecent lists the newest messages
func (r *chatStoreRepo) ListRecent(ctx context.Context, limit int) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		ORDER BY timestamp DESC
		LIMIT ?
	`, sqlLimit(limit))
}

// ListUnread lists unread incoming messages, oldest first
func (r *chatStoreRepo) ListUnread(ctx context.Context) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE is_read = 0 AND is_from_me = 0
		ORDER BY timestamp ASC
	`)
}

// Search matches a substring of message content
func (r *chatStoreRepo) Search(ctx context.Context, query string, limit int) ([]*domain.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC
		LIMIT ?
	`, "%"+escapeLike(query)+"%", sqlLimit(limit))
}

// ListConversations summarizes every known conversation
func (r *chatStoreRepo) ListConversations(ctx context.Context) ([]*domain.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			m.conversation_id,
			MAX(m.timestamp),
			COUNT(*),
			SUM(CASE WHEN m.is_read = 0 AND m.is_from_me = 0 THEN 1 ELSE 0 END),
			(SELECT l.content FROM messages l
			 WHERE l.conversation_id = m.conversation_id
			 ORDER BY l.timestamp DESC LIMIT 1)
		FROM messages m
		GROUP BY m.conversation_id
		ORDER BY MAX(m.timestamp) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var result []*domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		var lastAt int64
		if err := rows.Scan(&s.ConversationID, &lastAt, &s.MessageCount, &s.UnreadCount, &s.LastPreview); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		s.LastMessageAt = time.UnixMilli(lastAt)
		s.LastPreview = domain.Truncate(s.LastPreview, domain.PreviewLength)
		result = append(result, &s)
	}
	return result, rows.Err()
}

// CountUnread counts unread incoming messages of a conversation
func (r *chatStoreRepo) CountUnread(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND is_read = 0 AND is_from_me = 0
	`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return n, nil
}

// MarkRead marks one message read
func (r *chatStoreRepo) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

// MarkConversationRead marks every message of a conversation read
func (r *chatStoreRepo) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND is_read = 0
	`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return res.RowsAffected()
}

// FindConversation resolves a name to a conversation, matching the
// conversation ID first and then the sender of incoming messages
func (r *chatStoreRepo) FindConversation(ctx context.Context, name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, nil
	}

	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT conversation_id FROM messages
		WHERE conversation_id = ? COLLATE NOCASE
		ORDER BY timestamp DESC LIMIT 1
	`, name).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("failed to find conversation: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT conversation_id FROM messages
		WHERE sender_name = ? COLLATE NOCASE AND is_from_me = 0
		ORDER BY timestamp DESC LIMIT 1
	`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find conversation: %w", err)
	}
	return id, true, nil
}

// PruneBefore deletes messages older than t
func (r *chatStoreRepo) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (r *chatStoreRepo) Close() error {
	return r.db.Close()
}

func (r *chatStoreRepo) query(ctx context.Context, q string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var result []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var ts int64
	var direction, msgType string
	var isRead, isFromMe int
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderName, &msg.Content, &ts, &direction, &msgType, &isRead, &isFromMe); err != nil {
		return nil, err
	}
	msg.Timestamp = time.UnixMilli(ts)
	msg.Direction = domain.Direction(direction)
	msg.Type = domain.ParseMessageType(msgType)
	msg.IsRead = isRead != 0
	msg.IsFromMe = isFromMe != 0
	return &msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sqlLimit maps a non-positive limit to SQLite's "no limit"
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
