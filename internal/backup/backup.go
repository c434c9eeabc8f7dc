// Package backup makes a verbatim copy of chat.db and the attachments folder.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	backupFolder      = "backup"
	databaseFile      = "chat.db"
	attachmentsFolder = "Attachments"
)

// sidecars are the SQLite WAL files that hold not-yet-checkpointed writes
var sidecars = []string{"-wal", "-shm"}

// Result describes what a backup copied
type Result struct {
	Dir                string `json:"dir"`
	DatabaseBytes      int64  `json:"database_bytes"`
	AttachmentFiles    int    `json:"attachment_files"`
	AttachmentBytes    int64  `json:"attachment_bytes"`
	AttachmentsSkipped bool   `json:"attachments_skipped,omitempty"`
}

// Run copies dbPath and the attachmentsPath tree into destDir/backup.
// An existing attachments copy is merged into, not replaced.
func Run(ctx context.Context, dbPath, attachmentsPath, destDir string, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Join(destDir, backupFolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	result := &Result{Dir: dir}

	logger.Info("Copying iMessage database", zap.String("source", dbPath))
	dbDest := filepath.Join(dir, databaseFile)
	if err := copyFile(dbPath, dbDest); err != nil {
		return nil, fmt.Errorf("failed to copy database: %w", err)
	}
	for _, suffix := range sidecars {
		src := dbPath + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, dbDest+suffix); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", src, err)
		}
	}
	info, err := os.Stat(dbDest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dbDest, err)
	}
	result.DatabaseBytes = info.Size()
	logger.Info("Database copied", zap.String("size", humanize.Bytes(uint64(result.DatabaseBytes))))

	attDest := filepath.Join(dir, attachmentsFolder)
	if _, err := os.Stat(attachmentsPath); errors.Is(err, fs.ErrNotExist) || attachmentsPath == "" {
		logger.Info("No attachments folder found, skipping", zap.String("path", attachmentsPath))
		result.AttachmentsSkipped = true
		return result, nil
	}

	if _, err := os.Stat(attDest); err == nil {
		logger.Info("Attachments folder already exists at destination, merging", zap.String("path", attDest))
	}
	logger.Info("Copying attachments folder", zap.String("source", attachmentsPath))
	if err := copyTree(ctx, attachmentsPath, attDest); err != nil {
		return nil, fmt.Errorf("failed to copy attachments: %w", err)
	}

	files, size, err := treeSize(attDest)
	if err != nil {
		return nil, fmt.Errorf("failed to measure %s: %w", attDest, err)
	}
	result.AttachmentFiles = files
	result.AttachmentBytes = size
	logger.Info("Attachments copied",
		zap.Int("files", files),
		zap.String("size", humanize.Bytes(uint64(size))),
	)

	return result, nil
}

// copyTree copies every regular file under src to the same relative path
// under dst, overwriting files that already exist there
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		// Follow symlinks; skip sockets, devices and dangling links
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func treeSize(root string) (files int, size int64, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}

// copyFile copies src over dst, keeping mode and modification time
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
