package imessage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrChatDBNotFound means there is no chat.db at the requested path
	ErrChatDBNotFound = errors.New("chat.db not found")

	// ErrChatDBPermission means chat.db exists but cannot be read, which on
	// macOS almost always means the terminal lacks Full Disk Access
	ErrChatDBPermission = errors.New("chat.db is not readable")
)

// DefaultChatDBPath returns the path to the macOS Messages chat.db
func DefaultChatDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

// DefaultAttachmentsPath returns the macOS Messages attachments folder
func DefaultAttachmentsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "Attachments")
}

// OpenChatDB opens the chat.db in read-only mode and checks it can be queried
func OpenChatDB(path string) (*ChatDB, error) {
	if _, err := os.Stat(path); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w at %s", ErrChatDBNotFound, path)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w at %s: %v", ErrChatDBPermission, path, err)
		default:
			return nil, fmt.Errorf("failed to stat chat.db: %w", err)
		}
	}

	// Open with read-only URI mode
	// Note: Don't use immutable=1 for live macOS Messages DB (uses WAL)
	uri := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sqlx.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat.db: %w", err)
	}
	// Pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA query_only=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-262144",  // 256MB cache
		"PRAGMA mmap_size=268435456", // 256MB memory map
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			if isPermissionError(err) {
				db.Close()
				return nil, fmt.Errorf("%w at %s: %v", ErrChatDBPermission, path, err)
			}
			// Ignore pragma errors (some may not be supported)
			continue
		}
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM message").Scan(&n); err != nil {
		db.Close()
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w at %s: %v", ErrChatDBPermission, path, err)
		}
		return nil, fmt.Errorf("failed to read chat.db: %w", err)
	}

	return &ChatDB{db: db, path: path}, nil
}

func isPermissionError(err error) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to open") || strings.Contains(msg, "authorization denied")
}

// Close closes the chat.db connection
func (c *ChatDB) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the path to the chat.db file
func (c *ChatDB) Path() string {
	return c.path
}

// GetChats reads all chats with their participants, ordered by ROWID
func (c *ChatDB) GetChats(ctx context.Context) ([]Chat, error) {
	query := `
		SELECT
			c.ROWID AS chat_id,
			c.chat_identifier,
			c.display_name,
			c.style AS chat_style,
			GROUP_CONCAT(h.id, ', ') AS participants
		FROM chat c
		LEFT JOIN chat_handle_join chj ON c.ROWID = chj.chat_id
		LEFT JOIN handle h ON chj.handle_id = h.ROWID
		GROUP BY c.ROWID
		ORDER BY c.ROWID
	`

	var chats []Chat
	if err := c.db.SelectContext(ctx, &chats, query); err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	return chats, nil
}

// GetMessagesForChat reads the messages of one chat in date order.
// Rows sharing a date come back in whatever order SQLite yields them.
func (c *ChatDB) GetMessagesForChat(ctx context.Context, chatID int64) ([]Message, error) {
	query := `
		SELECT
			m.ROWID AS message_id,
			m.text,
			m.attributedBody AS attributed_body,
			m.date AS message_date,
			m.is_from_me,
			m.associated_message_type,
			h.id AS sender_id
		FROM message m
		INNER JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE cmj.chat_id = ?
		ORDER BY m.date ASC
	`

	var messages []Message
	if err := c.db.SelectContext(ctx, &messages, query, chatID); err != nil {
		return nil, fmt.Errorf("failed to query messages for chat %d: %w", chatID, err)
	}
	return messages, nil
}

// GetAttachmentsForMessage reads the attachments linked to one message
func (c *ChatDB) GetAttachmentsForMessage(ctx context.Context, messageID int64) ([]Attachment, error) {
	query := `
		SELECT
			a.ROWID AS attachment_id,
			a.filename,
			a.mime_type,
			a.transfer_name,
			a.total_bytes
		FROM attachment a
		INNER JOIN message_attachment_join maj ON a.ROWID = maj.attachment_id
		WHERE maj.message_id = ?
	`

	var attachments []Attachment
	if err := c.db.SelectContext(ctx, &attachments, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to query attachments for message %d: %w", messageID, err)
	}
	return attachments, nil
}

// Stats returns message, chat and handle counts plus the date range
func (c *ChatDB) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var oldest, newest sql.NullInt64

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(ROWID), 0), MIN(NULLIF(date, 0)), MAX(date)
		FROM message
	`).Scan(&stats.TotalMessages, &stats.MaxRowID, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	if err := c.db.GetContext(ctx, &stats.Chats, "SELECT COUNT(*) FROM chat"); err != nil {
		return nil, fmt.Errorf("failed to count chats: %w", err)
	}
	if err := c.db.GetContext(ctx, &stats.Handles, "SELECT COUNT(*) FROM handle"); err != nil {
		return nil, fmt.Errorf("failed to count handles: %w", err)
	}

	if t, ok := NormalizeTimestamp(oldest); ok {
		stats.OldestDate = t
	}
	if t, ok := NormalizeTimestamp(newest); ok {
		stats.NewestDate = t
	}

	return &stats, nil
}
