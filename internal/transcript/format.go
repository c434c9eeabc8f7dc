package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/Napageneral/imsgexport/imessage"
)

const (
	timestampLayout = "2006-01-02 3:04 PM"
	partSeparator   = "\n    "
)

var headerRule = strings.Repeat("=", 60)

// Header returns the lines that open every transcript
func Header(chat imessage.Chat, messageCount int) []string {
	kind := "Conversation"
	if chat.IsGroup() {
		kind = "Group Chat"
	}
	return []string{
		headerRule,
		fmt.Sprintf("%s: %s", kind, chat.ResolvedName()),
		headerRule,
		fmt.Sprintf("Messages: %d", messageCount),
		"",
	}
}

// FormatTimestamp renders a normalized timestamp in loc, e.g. "2024-06-15 2:30 PM"
func FormatTimestamp(t time.Time, ok bool, loc *time.Location) string {
	if !ok {
		return "Unknown date"
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(timestampLayout)
}

// SenderLabel returns "Me", the sender's handle, or "Unknown"
func SenderLabel(msg imessage.Message) string {
	if msg.IsFromMe {
		return "Me"
	}
	if msg.SenderID.Valid && msg.SenderID.String != "" {
		return msg.SenderID.String
	}
	return "Unknown"
}

// ReactionLine renders a tapback, e.g. "[2024-06-15 2:30 PM] Me Liked see you at 5"
func ReactionLine(stamp, sender, phrase, target string) string {
	return fmt.Sprintf("[%s] %s %s %s", stamp, sender, phrase, target)
}

// MessageLine renders body text and attachment notes under one prefix.
// Additional parts go on indented continuation lines. No parts, no line.
func MessageLine(stamp, sender string, parts []string) (string, bool) {
	if len(parts) == 0 {
		return "", false
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, sender, strings.Join(parts, partSeparator)), true
}
