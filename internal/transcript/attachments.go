package transcript

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Napageneral/imsgexport/imessage"
)

// maxCollisionAttempts bounds the _N suffix search for a free file name
const maxCollisionAttempts = 10000

// Materialized is the outcome of copying one attachment: either the file
// was copied under Name, or it is unavailable and Name is for display only.
type Materialized struct {
	Name   string
	Copied bool
}

// Note renders the attachment reference used in transcript lines
func (m Materialized) Note() string {
	if m.Copied {
		return fmt.Sprintf("<attachment: %s>", m.Name)
	}
	return fmt.Sprintf("<attachment: %s (not available)>", m.Name)
}

// Materializer copies attachment files out of the Messages folder
type Materializer struct {
	homeDir string
	logger  *zap.Logger
}

// NewMaterializer creates a Materializer that expands ~ to the current user's home
func NewMaterializer(logger *zap.Logger) *Materializer {
	home, _ := os.UserHomeDir()
	return NewMaterializerWithHome(home, logger)
}

// NewMaterializerWithHome creates a Materializer that expands ~ to homeDir
func NewMaterializerWithHome(homeDir string, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{homeDir: homeDir, logger: logger}
}

// Materialize copies att into destDir, creating destDir if needed.
// It never fails: anything that prevents the copy yields an unavailable result.
func (m *Materializer) Materialize(att imessage.Attachment, destDir string) Materialized {
	unavailable := Materialized{Name: "file"}
	if att.TransferName.Valid && att.TransferName.String != "" {
		unavailable.Name = att.TransferName.String
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		m.logger.Warn("Could not create attachments folder", zap.String("path", destDir), zap.Error(err))
		return unavailable
	}

	if !att.Filename.Valid || att.Filename.String == "" {
		return unavailable
	}
	source := m.expandHome(att.Filename.String)

	info, err := os.Stat(source)
	if err != nil {
		m.logger.Debug("Attachment source missing", zap.String("path", source), zap.Error(err))
		return unavailable
	}

	name := filepath.Base(source)
	if att.TransferName.Valid && att.TransferName.String != "" {
		name = filepath.Base(att.TransferName.String)
	}

	dest, err := freePath(destDir, name)
	if err != nil {
		m.logger.Warn("Could not copy attachment", zap.String("path", source), zap.Error(err))
		return unavailable
	}

	if err := copyFile(source, dest, info); err != nil {
		m.logger.Warn("Could not copy attachment", zap.String("path", source), zap.Error(err))
		return unavailable
	}

	return Materialized{Name: filepath.Base(dest), Copied: true}
}

func (m *Materializer) expandHome(path string) string {
	if path == "~" {
		return m.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(m.homeDir, path[2:])
	}
	return path
}

// freePath returns dir/name, or dir/base_N.ext for the first N not taken
func freePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
		if i > maxCollisionAttempts {
			return "", fmt.Errorf("no free name for %s after %d attempts", name, maxCollisionAttempts)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// copyFile copies src to a new file at dst, keeping mode and modification time
func copyFile(src, dst string, info fs.FileInfo) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
