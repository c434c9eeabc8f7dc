package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Napageneral/imsgexport/internal/backup"
	"github.com/Napageneral/imsgexport/internal/transcript"
)

const (
	infoFile = "export_info.json"
	toolName = "imessage-exporter"
)

// Info is the summary written to export_info.json. Transcript totals are
// only present when the readable export ran.
type Info struct {
	ExportID        string `json:"export_id"`
	ExportTimestamp string `json:"export_timestamp"`
	Tool            string `json:"tool"`
	Version         string `json:"version,omitempty"`
	SourceDB        string `json:"source_db"`

	*transcript.Stats

	Backup *backup.Result `json:"backup,omitempty"`
}

func newInfo(version, sourceDB string, now time.Time) *Info {
	return &Info{
		ExportID:        uuid.NewString(),
		ExportTimestamp: now.Format(time.RFC3339),
		Tool:            toolName,
		Version:         version,
		SourceDB:        sourceDB,
	}
}

// WriteInfo writes info as indented JSON to destDir/export_info.json
func WriteInfo(destDir string, info *Info) (string, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode export info: %w", err)
	}
	path := filepath.Join(destDir, infoFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
