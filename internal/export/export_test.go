package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/imsgexport/imessage"
	"github.com/Napageneral/imsgexport/internal/config"
)

// createSourceTree builds a chat.db and an Attachments folder holding the
// one file the database references
func createSourceTree(t *testing.T) (dbPath, attachmentsPath string) {
	t.Helper()

	root := t.TempDir()
	attachmentsPath = filepath.Join(root, "Attachments")
	photo := filepath.Join(attachmentsPath, "ab", "01", "IMG_0001.jpeg")
	if err := os.MkdirAll(filepath.Dir(photo), 0o755); err != nil {
		t.Fatalf("failed to create attachments dir: %v", err)
	}
	if err := os.WriteFile(photo, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("failed to write attachment: %v", err)
	}

	dbPath = filepath.Join(root, "chat.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to create chat.db: %v", err)
	}
	defer db.Close()

	base := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC).Sub(imessage.AppleEpoch).Nanoseconds()
	stmts := []string{
		`CREATE TABLE handle (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL)`,
		`CREATE TABLE chat (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, chat_identifier TEXT, display_name TEXT, style INTEGER)`,
		`CREATE TABLE chat_handle_join (chat_id INTEGER, handle_id INTEGER)`,
		`CREATE TABLE message (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, text TEXT, attributedBody BLOB,
			handle_id INTEGER DEFAULT 0, date INTEGER, is_from_me INTEGER DEFAULT 0, associated_message_type INTEGER DEFAULT 0)`,
		`CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER)`,
		`CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, filename TEXT, mime_type TEXT,
			transfer_name TEXT, total_bytes INTEGER DEFAULT 0)`,
		`CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER)`,

		`INSERT INTO handle (id) VALUES ('+15551234567'), ('+15559876543')`,
		`INSERT INTO chat (chat_identifier, style) VALUES ('+15551234567', 45), ('+15559876543', 45)`,
		`INSERT INTO chat_handle_join (chat_id, handle_id) VALUES (1, 1), (2, 2)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("failed to build fixture (%s): %v", s, err)
		}
	}

	inserts := []struct {
		query string
		args  []interface{}
	}{
		{"INSERT INTO message (text, handle_id, date, is_from_me) VALUES (?, 1, ?, 0)", []interface{}{"Hey there", base}},
		{"INSERT INTO message (text, handle_id, date, is_from_me) VALUES (?, 0, ?, 1)", []interface{}{"\uFFFC", base + int64(time.Minute)}},
		{"INSERT INTO message (text, handle_id, date, is_from_me) VALUES (?, 2, ?, 0)", []interface{}{"Other chat", base}},
		{"INSERT INTO chat_message_join (chat_id, message_id) VALUES (1, 1), (1, 2), (2, 3)", nil},
		{"INSERT INTO attachment (filename, transfer_name) VALUES (?, ?)", []interface{}{photo, "IMG_0001.jpeg"}},
		{"INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (2, 1)", nil},
	}
	for _, s := range inserts {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("failed to insert fixture (%s): %v", s.query, err)
		}
	}

	return dbPath, attachmentsPath
}

func readInfo(t *testing.T, dest string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dest, "export_info.json"))
	if err != nil {
		t.Fatalf("failed to read export_info.json: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("export_info.json is not valid JSON: %v", err)
	}
	return out
}

func TestRunFullExport(t *testing.T) {
	dbPath, attPath := createSourceTree(t)
	dest := filepath.Join(t.TempDir(), "out")

	cfg := &config.Config{Destination: dest, DBPath: dbPath, AttachmentsPath: attPath}
	info, err := Run(context.Background(), cfg, Options{Version: "1.2.3", Location: time.UTC})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "backup", "chat.db")); err != nil {
		t.Errorf("raw backup missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "backup", "Attachments", "ab", "01", "IMG_0001.jpeg")); err != nil {
		t.Errorf("attachments backup missing: %v", err)
	}

	transcriptPath := filepath.Join(dest, "readable", "+15551234567", "chat.txt")
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		t.Fatalf("transcript missing: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"Conversation: +15551234567",
		"Messages: 2",
		"[2024-06-15 2:30 PM] +15551234567: Hey there",
		"[2024-06-15 2:31 PM] Me: <attachment: IMG_0001.jpeg>",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("transcript missing %q:\n%s", want, content)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "readable", "+15551234567", "attachments", "IMG_0001.jpeg")); err != nil {
		t.Errorf("attachment not materialized: %v", err)
	}

	if info.Stats == nil || info.Conversations != 2 || info.Messages != 3 || info.AttachmentsCopied != 1 {
		t.Errorf("unexpected stats: %+v", info.Stats)
	}

	written := readInfo(t, dest)
	if written["tool"] != "imessage-exporter" || written["version"] != "1.2.3" || written["source_db"] != dbPath {
		t.Errorf("unexpected export info: %v", written)
	}
	if written["conversations"] != float64(2) {
		t.Errorf("conversations = %v, want 2", written["conversations"])
	}
	if id, _ := written["export_id"].(string); id == "" {
		t.Error("export_id should be set")
	}
	if _, err := time.Parse(time.RFC3339, written["export_timestamp"].(string)); err != nil {
		t.Errorf("export_timestamp is not RFC3339: %v", err)
	}
}

func TestRunBackupOnly(t *testing.T) {
	dbPath, attPath := createSourceTree(t)
	dest := t.TempDir()

	cfg := &config.Config{Destination: dest, DBPath: dbPath, AttachmentsPath: attPath, BackupOnly: true}
	if _, err := Run(context.Background(), cfg, Options{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "readable")); !os.IsNotExist(err) {
		t.Error("readable folder should not exist for backup-only")
	}
	written := readInfo(t, dest)
	if _, ok := written["conversations"]; ok {
		t.Errorf("backup-only summary should not carry transcript stats: %v", written)
	}
	if _, ok := written["backup"]; !ok {
		t.Errorf("backup-only summary should carry backup result: %v", written)
	}
}

func TestRunReadableOnlyWithContactFilter(t *testing.T) {
	dbPath, attPath := createSourceTree(t)
	dest := t.TempDir()

	cfg := &config.Config{Destination: dest, DBPath: dbPath, AttachmentsPath: attPath, ReadableOnly: true, Contact: "9876"}
	info, err := Run(context.Background(), cfg, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "backup")); !os.IsNotExist(err) {
		t.Error("backup folder should not exist for readable-only")
	}
	if info.Conversations != 1 || info.Messages != 1 {
		t.Errorf("unexpected stats: %+v", info.Stats)
	}
	if _, err := os.Stat(filepath.Join(dest, "readable", "+15559876543", "chat.txt")); err != nil {
		t.Errorf("filtered transcript missing: %v", err)
	}
}

func TestRunMissingDatabase(t *testing.T) {
	modes := []struct {
		name         string
		readableOnly bool
		backupOnly   bool
	}{
		{"default", false, false},
		{"readable-only", true, false},
		{"backup-only", false, true},
	}
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			root := t.TempDir()
			dest := filepath.Join(root, "out")
			cfg := &config.Config{
				Destination:     dest,
				DBPath:          filepath.Join(root, "nope.db"),
				AttachmentsPath: filepath.Join(root, "Attachments"),
				ReadableOnly:    mode.readableOnly,
				BackupOnly:      mode.backupOnly,
			}

			_, err := Run(context.Background(), cfg, Options{})
			if !errors.Is(err, imessage.ErrChatDBNotFound) {
				t.Fatalf("expected ErrChatDBNotFound, got %v", err)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Errorf("nothing should be written when chat.db is missing, stat err = %v", err)
			}
		})
	}
}

func TestRunUnreadableDatabaseBeforeBackup(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}
	dbPath, attPath := createSourceTree(t)
	if err := os.Chmod(dbPath, 0o000); err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(dbPath, 0o644) })

	dest := filepath.Join(t.TempDir(), "out")
	cfg := &config.Config{Destination: dest, DBPath: dbPath, AttachmentsPath: attPath}
	_, err := Run(context.Background(), cfg, Options{})
	if !errors.Is(err, imessage.ErrChatDBPermission) {
		t.Fatalf("expected ErrChatDBPermission, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "backup")); !os.IsNotExist(err) {
		t.Error("backup should not start when chat.db is unreadable")
	}
}

func TestRunRejectsConflictingModes(t *testing.T) {
	cfg := &config.Config{Destination: t.TempDir(), DBPath: "x", ReadableOnly: true, BackupOnly: true}
	if _, err := Run(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("expected error for readable-only with backup-only")
	}
}

func TestWriteInfoOmitsNilStats(t *testing.T) {
	dest := t.TempDir()
	if _, err := WriteInfo(dest, newInfo("", "/db", time.Now())); err != nil {
		t.Fatalf("WriteInfo failed: %v", err)
	}
	written := readInfo(t, dest)
	for _, key := range []string{"conversations", "messages", "attachments_copied", "backup", "version"} {
		if _, ok := written[key]; ok {
			t.Errorf("unexpected key %q in %v", key, written)
		}
	}
}
