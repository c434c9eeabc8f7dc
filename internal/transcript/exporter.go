// Package transcript renders chat.db conversations as plain-text transcripts,
// one folder per conversation with the attachments it references.
package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/imsgexport/imessage"
)

const (
	transcriptFile    = "chat.txt"
	attachmentsFolder = "attachments"
	progressEvery     = 10
)

// Source reads conversations, messages and attachments. *imessage.ChatDB implements it.
type Source interface {
	GetChats(ctx context.Context) ([]imessage.Chat, error)
	GetMessagesForChat(ctx context.Context, chatID int64) ([]imessage.Message, error)
	GetAttachmentsForMessage(ctx context.Context, messageID int64) ([]imessage.Attachment, error)
}

// Stats accumulates totals across an export
type Stats struct {
	Conversations     int `json:"conversations"`
	Messages          int `json:"messages"`
	AttachmentsCopied int `json:"attachments_copied"`
}

// Add folds other into s
func (s *Stats) Add(other Stats) {
	s.Conversations += other.Conversations
	s.Messages += other.Messages
	s.AttachmentsCopied += other.AttachmentsCopied
}

// Options configures an Exporter
type Options struct {
	// ContactFilter limits the export to chats whose identifier, participants
	// or display name contain it (case-insensitive). Empty exports everything.
	ContactFilter string

	// Location for rendered timestamps (default: time.Local)
	Location *time.Location

	// Materializer copies attachments (default: NewMaterializer(Logger))
	Materializer *Materializer

	Logger *zap.Logger
}

// Exporter writes one transcript folder per conversation under outDir
type Exporter struct {
	source       Source
	outDir       string
	filter       string
	loc          *time.Location
	materializer *Materializer
	logger       *zap.Logger
}

// NewExporter creates an Exporter reading from source and writing under outDir
func NewExporter(source Source, outDir string, opts Options) *Exporter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	materializer := opts.Materializer
	if materializer == nil {
		materializer = NewMaterializer(logger)
	}
	return &Exporter{
		source:       source,
		outDir:       outDir,
		filter:       opts.ContactFilter,
		loc:          loc,
		materializer: materializer,
		logger:       logger,
	}
}

// Run exports every conversation in source order and returns the totals.
// Conversations written before an error are left in place.
func (e *Exporter) Run(ctx context.Context) (Stats, error) {
	var total Stats

	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return total, fmt.Errorf("failed to create %s: %w", e.outDir, err)
	}

	chats, err := e.source.GetChats(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to read chats: %w", err)
	}
	e.logger.Info("Found conversations", zap.Int("count", len(chats)))

	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		stats, err := e.ExportChat(ctx, chat)
		if err != nil {
			return total, fmt.Errorf("failed to export chat %d: %w", chat.ROWID, err)
		}
		total.Add(stats)

		if stats.Conversations > 0 && total.Conversations%progressEvery == 0 {
			e.logger.Info("Exported conversations", zap.Int("count", total.Conversations))
		}
	}

	e.logger.Info("Readable export complete",
		zap.Int("conversations", total.Conversations),
		zap.Int("messages", total.Messages),
		zap.Int("attachments", total.AttachmentsCopied),
	)
	return total, nil
}

// ExportChat writes the transcript for one conversation. Chats that fail the
// contact filter or have no messages produce nothing and zero stats.
func (e *Exporter) ExportChat(ctx context.Context, chat imessage.Chat) (Stats, error) {
	var stats Stats

	if e.filter != "" && !chat.Matches(e.filter) {
		return stats, nil
	}

	messages, err := e.source.GetMessagesForChat(ctx, chat.ROWID)
	if err != nil {
		return stats, err
	}
	if len(messages) == 0 {
		return stats, nil
	}

	stats.Conversations = 1
	chatDir := filepath.Join(e.outDir, SanitizeFilename(chat.ResolvedName()))
	if err := os.MkdirAll(chatDir, 0o755); err != nil {
		return stats, fmt.Errorf("failed to create %s: %w", chatDir, err)
	}
	attDir := filepath.Join(chatDir, attachmentsFolder)

	lines := Header(chat, len(messages))
	for _, msg := range messages {
		stats.Messages++

		line, copied, err := e.renderMessage(ctx, msg, attDir)
		if err != nil {
			return stats, err
		}
		stats.AttachmentsCopied += copied
		if line != "" {
			lines = append(lines, line)
		}
	}

	path := filepath.Join(chatDir, transcriptFile)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return stats, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return stats, nil
}

// renderMessage returns the transcript line for msg ("" when suppressed)
// and how many of its attachments were copied
func (e *Exporter) renderMessage(ctx context.Context, msg imessage.Message, attDir string) (string, int, error) {
	t, ok := imessage.NormalizeTimestamp(msg.Date)
	stamp := FormatTimestamp(t, ok, e.loc)
	sender := SenderLabel(msg)

	if phrase, ok := imessage.ReactionPhrase(msg.AssociatedType); ok {
		return ReactionLine(stamp, sender, phrase, imessage.ReactionTarget(msg.Text)), 0, nil
	}

	var parts []string
	if body := imessage.CleanBody(msg.Body()); body != "" {
		parts = append(parts, body)
	}

	attachments, err := e.source.GetAttachmentsForMessage(ctx, msg.ROWID)
	if err != nil {
		return "", 0, err
	}
	copied := 0
	for _, att := range attachments {
		result := e.materializer.Materialize(att, attDir)
		if result.Copied {
			copied++
		}
		parts = append(parts, result.Note())
	}

	line, _ := MessageLine(stamp, sender, parts)
	return line, copied, nil
}
