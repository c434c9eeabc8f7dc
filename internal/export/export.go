// Package export runs a full export: raw backup, readable transcripts and
// the export_info.json summary.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/imsgexport/imessage"
	"github.com/Napageneral/imsgexport/internal/backup"
	"github.com/Napageneral/imsgexport/internal/config"
	"github.com/Napageneral/imsgexport/internal/transcript"
)

const readableFolder = "readable"

// Options carries settings that do not come from config
type Options struct {
	Version string

	// Location for transcript timestamps (default: time.Local)
	Location *time.Location

	Logger *zap.Logger
}

// Run exports according to cfg and writes the summary file.
// The database is opened before anything is written, in every mode, so a
// missing or unreadable chat.db fails with an error matching
// imessage.ErrChatDBNotFound or imessage.ErrChatDBPermission.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Info, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dest, err := filepath.Abs(cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Destination, err)
	}

	chatDB, err := imessage.OpenChatDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	defer chatDB.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	logger.Info("Starting iMessage export", zap.String("destination", dest))

	info := newInfo(opts.Version, cfg.DBPath, time.Now())

	if !cfg.ReadableOnly {
		result, err := backup.Run(ctx, cfg.DBPath, cfg.AttachmentsPath, dest, logger.Named("backup"))
		if err != nil {
			return nil, fmt.Errorf("raw backup failed: %w", err)
		}
		info.Backup = result
	}

	if !cfg.BackupOnly {
		exporter := transcript.NewExporter(chatDB, filepath.Join(dest, readableFolder), transcript.Options{
			ContactFilter: cfg.Contact,
			Location:      opts.Location,
			Logger:        logger.Named("transcript"),
		})
		stats, err := exporter.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("readable export failed: %w", err)
		}
		info.Stats = &stats
	}

	path, err := WriteInfo(dest, info)
	if err != nil {
		return nil, err
	}
	logger.Info("Export summary written", zap.String("path", path))

	return info, nil
}
