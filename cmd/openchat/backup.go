package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"openchat/internal/config"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive conversations, audit trail, and config to a tar.gz",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output archive path (default: <data>/backups/openchat-backup-<timestamp>.tar.gz)")
	return cmd
}

// backupEntry pairs a file on disk with its name inside the archive.
type backupEntry struct {
	path string
	name string
}

func runBackup(output string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	entries := collectBackupEntries(cfg, cfgPath)
	if len(entries) == 0 {
		return fmt.Errorf("nothing to back up (no chats, audit db, or config found)")
	}

	if output == "" {
		ts := time.Now().Format("20060102-150405")
		dir := filepath.Join(filepath.Dir(cfg.Storage.ChatsDir), "backups")
		output = filepath.Join(dir, fmt.Sprintf("openchat-backup-%s.tar.gz", ts))
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("cannot create backup directory: %w", err)
	}

	if err := createTarGz(output, entries); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return err
	}

	fmt.Printf("Backup created: %s\n", output)
	fmt.Printf("  %d file(s), %s\n", len(entries), humanSize(info.Size()))
	return nil
}

// collectBackupEntries lists every file worth archiving: each conversation
// JSON under chats/, the audit database with its WAL and SHM siblings, and
// the config file itself. Missing pieces are skipped, not errors.
func collectBackupEntries(cfg *config.Config, cfgPath string) []backupEntry {
	var entries []backupEntry

	if files, err := os.ReadDir(cfg.Storage.ChatsDir); err == nil {
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			entries = append(entries, backupEntry{
				path: filepath.Join(cfg.Storage.ChatsDir, f.Name()),
				name: "chats/" + f.Name(),
			})
		}
	}

	if cfg.Audit.Enabled {
		// SQLite in WAL mode spreads state across three files.
		for _, suffix := range []string{"", "-wal", "-shm"} {
			p := cfg.Audit.DBPath + suffix
			if _, err := os.Stat(p); err == nil {
				entries = append(entries, backupEntry{path: p, name: filepath.Base(p)})
			}
		}
	}

	if _, err := os.Stat(cfgPath); err == nil {
		entries = append(entries, backupEntry{path: cfgPath, name: filepath.Base(cfgPath)})
	}

	return entries
}

func createTarGz(dest string, entries []backupEntry) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, e := range entries {
		if err := addFileToTar(tw, e.path, e.name); err != nil {
			return fmt.Errorf("archive %s: %w", e.path, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func humanSize(size int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case size >= gb:
		return fmt.Sprintf("%.1f GB", float64(size)/gb)
	case size >= mb:
		return fmt.Sprintf("%.1f MB", float64(size)/mb)
	case size >= kb:
		return fmt.Sprintf("%.1f KB", float64(size)/kb)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
