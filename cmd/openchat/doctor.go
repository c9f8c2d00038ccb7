package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"openchat/internal/audit"
	"openchat/internal/config"
	"openchat/internal/provider"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that openchat can run in this environment",
		RunE:  runDoctor,
	}
}

type doctorReport struct {
	passed   int
	warnings int
	failed   int
}

func (r *doctorReport) pass(name, detail string) {
	r.passed++
	fmt.Printf("  ✅ %-16s %s\n", name, detail)
}

func (r *doctorReport) warn(name, detail string) {
	r.warnings++
	fmt.Printf("  ⚠️  %-16s %s\n", name, detail)
}

func (r *doctorReport) fail(name, detail string) {
	r.failed++
	fmt.Printf("  ❌ %-16s %s\n", name, detail)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := &doctorReport{}

	fmt.Println("openchat doctor")
	fmt.Println(strings.Repeat("━", 50))

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		report.warn("config", fmt.Sprintf("%s not found, defaults apply (run: openchat init)", cfgPath))
	} else {
		report.pass("config", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		report.fail("config", err.Error())
		// Nothing below can run without a valid config.
		printDoctorSummary(report)
		return fmt.Errorf("%d check(s) failed", report.failed)
	}

	checkChatsDir(report, cfg)
	checkOllama(report, cfg)
	checkAudit(report, cfg)
	checkPort(report, cfg)

	printDoctorSummary(report)

	if report.failed > 0 {
		return fmt.Errorf("%d check(s) failed", report.failed)
	}
	return nil
}

func printDoctorSummary(r *doctorReport) {
	fmt.Println(strings.Repeat("━", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warnings, r.failed)
}

// checkChatsDir verifies the conversation directory exists and is writable
// by round-tripping a probe file.
func checkChatsDir(r *doctorReport, cfg *config.Config) {
	dir := cfg.Storage.ChatsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.fail("chats dir", fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}

	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		r.fail("chats dir", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	os.Remove(probe)
	r.pass("chats dir", dir)
}

func checkOllama(r *doctorReport, cfg *config.Config) {
	prov, err := provider.NewOllama(provider.OllamaConfig{BaseURL: cfg.Ollama.BaseURL})
	if err != nil {
		r.fail("ollama", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := prov.Ping(ctx); err != nil {
		r.fail("ollama", fmt.Sprintf("%s unreachable: %v", cfg.Ollama.BaseURL, err))
		return
	}

	models, err := prov.Models(ctx)
	if err != nil {
		r.warn("ollama", fmt.Sprintf("%s reachable but listing models failed: %v", cfg.Ollama.BaseURL, err))
		return
	}
	r.pass("ollama", fmt.Sprintf("%s (%d model(s))", cfg.Ollama.BaseURL, len(models)))
}

func checkAudit(r *doctorReport, cfg *config.Config) {
	if !cfg.Audit.Enabled {
		return
	}

	store, err := audit.New(cfg.Audit.DBPath)
	if err != nil {
		r.fail("audit db", err.Error())
		return
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), 1)
	if err != nil {
		r.warn("audit db", fmt.Sprintf("%s opened but is not readable: %v", cfg.Audit.DBPath, err))
		return
	}
	if len(entries) == 0 {
		r.pass("audit db", fmt.Sprintf("%s (no runs recorded)", cfg.Audit.DBPath))
		return
	}
	last := entries[0]
	r.pass("audit db", fmt.Sprintf("%s (last run %s, %s ago)",
		cfg.Audit.DBPath, last.Outcome, time.Since(last.CreatedAt).Round(time.Second)))
}

// checkPort warns rather than fails: the port being taken usually means a
// server is already running, which doctor should report, not punish.
func checkPort(r *doctorReport, cfg *config.Config) {
	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.warn("port", fmt.Sprintf("%s is in use (server already running?)", addr))
		return
	}
	ln.Close()
	r.pass("port", addr)
}
