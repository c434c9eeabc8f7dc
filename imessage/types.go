// Package imessage provides read-only access to Apple's iMessage chat.db
// and the record types the exporter renders from it.
package imessage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// GroupChatStyle is the chat.style value for group conversations (45 = 1:1)
const GroupChatStyle = 43

// ChatDB provides read-only access to Apple's chat.db
type ChatDB struct {
	db   *sqlx.DB
	path string
}

// Chat represents a conversation from chat.db with its participants joined in
type Chat struct {
	ROWID          int64          `db:"chat_id"`
	ChatIdentifier sql.NullString `db:"chat_identifier"`
	DisplayName    sql.NullString `db:"display_name"`
	Style          sql.NullInt64  `db:"chat_style"`
	Participants   sql.NullString `db:"participants"` // comma-joined handle ids
}

// Message represents a message row from chat.db
type Message struct {
	ROWID          int64          `db:"message_id"`
	Text           sql.NullString `db:"text"`
	AttributedBody []byte         `db:"attributed_body"`
	Date           sql.NullInt64  `db:"message_date"` // Apple timestamp, see NormalizeTimestamp
	IsFromMe       bool           `db:"is_from_me"`
	AssociatedType sql.NullInt64  `db:"associated_message_type"`
	SenderID       sql.NullString `db:"sender_id"`
}

// Attachment represents an attachment row from chat.db
type Attachment struct {
	ROWID        int64          `db:"attachment_id"`
	Filename     sql.NullString `db:"filename"` // may start with ~
	MimeType     sql.NullString `db:"mime_type"`
	TransferName sql.NullString `db:"transfer_name"`
	TotalBytes   sql.NullInt64  `db:"total_bytes"`
}

// Stats contains summary statistics about a chat.db
type Stats struct {
	TotalMessages int       `json:"total_messages"`
	MaxRowID      int64     `json:"max_rowid"`
	Chats         int       `json:"chats"`
	Handles       int       `json:"handles"`
	OldestDate    time.Time `json:"oldest_date"`
	NewestDate    time.Time `json:"newest_date"`
}

// ResolvedName returns a human-friendly name for the chat:
// display name, then participants, then chat identifier, then "Chat {id}".
func (c Chat) ResolvedName() string {
	if c.DisplayName.Valid && c.DisplayName.String != "" {
		return c.DisplayName.String
	}
	if c.Participants.Valid && c.Participants.String != "" {
		return c.Participants.String
	}
	if c.ChatIdentifier.Valid && c.ChatIdentifier.String != "" {
		return c.ChatIdentifier.String
	}
	return fmt.Sprintf("Chat %d", c.ROWID)
}

// IsGroup reports whether the chat is a group conversation
func (c Chat) IsGroup() bool {
	return c.Style.Valid && c.Style.Int64 == GroupChatStyle
}

// Matches reports whether filter appears, case-insensitively, in the chat
// identifier, participant list or display name. NULL fields never match.
func (c Chat) Matches(filter string) bool {
	needle := strings.ToLower(filter)
	for _, field := range []sql.NullString{c.ChatIdentifier, c.Participants, c.DisplayName} {
		if strings.Contains(strings.ToLower(field.String), needle) {
			return true
		}
	}
	return false
}

// Body returns the message text. Newer macOS versions leave text NULL and
// keep the body only in attributedBody, so that is decoded as a fallback.
func (m Message) Body() string {
	if m.Text.Valid {
		return m.Text.String
	}
	return DecodeAttributedBody(m.AttributedBody)
}
