package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/pipeline"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
	"github.com/dongyingyibadao/data-dealer-auto/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithWindow(2, 2))
	cfg.Logging.Level = "error"
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	testsupport.WriteSourceDataset(t, cfg.Paths.SourceDir, []testsupport.Episode{
		{Task: "pick the red cup and put it on the plate", Gripper: testsupport.Gripper(20, 5, 8)},
		{Task: "pick the bowl", Gripper: testsupport.Gripper(20, 5, 8)},
	})

	configPath := filepath.Join(home, ".config", "datadealer", "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitShowValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "source_dir")
	requireContains(t, out, env.cfg.Paths.SourceDir)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestConfigShowMasksAPIKey(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Caption.Provider = config.ProviderDeepSeek
	env.cfg.Caption.APIKey = "sk-secret"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "sk-secret") {
		t.Fatalf("api key leaked: %s", out)
	}
}

func TestCutInspectHistory(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"cut", "--skip-preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("cut: %v", err)
	}
	requireContains(t, out, "Frames written")
	requireContains(t, out, "22")

	out, _, err = runCLI(t, []string{"inspect", env.cfg.Paths.OutputDir}, "")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	requireContains(t, out, "4 segments, 22 frames")
	requireContains(t, out, "[OK] 2 expected, 2 verified")

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "completed")
}

func TestCutSkipCuttingJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	output := filepath.Join(testsupport.BaseDir(env.cfg), "analysis")

	out, _, err := runCLI(t, []string{"cut", "--skip-preflight", "--skip-cutting", "--json", "--output", output}, env.configPath)
	if err != nil {
		t.Fatalf("cut: %v", err)
	}
	var res pipeline.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	if !res.SkippedCut || res.Windows != 4 || res.Output != output {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(output, pipeline.RangesFileName)); err != nil {
		t.Fatalf("ranges file: %v", err)
	}
}

func TestCutRejectsBadSaveMode(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"cut", "--save-mode", "video"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown save mode")
	}
	if code := services.ExitCode(err); code != 2 {
		t.Fatalf("exit code = %d, want 2 (%v)", code, err)
	}
}

func TestDetectJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"detect", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var report detectReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Scanned != 40 || report.Episodes != 2 || len(report.Windows) != 4 {
		t.Fatalf("report = %+v", report)
	}
}

func TestDetectMergeTable(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"detect", "--merge", "--min-gap", "10"}, env.configPath)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	requireContains(t, out, "2 windows after filtering and merging")
	requireContains(t, out, "pick")
}

func TestInspectMissingOutput(t *testing.T) {
	_, _, err := runCLI(t, []string{"inspect", filepath.Join(t.TempDir(), "nope")}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := services.ExitCode(err); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestPreflightCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "Source dataset:")
	requireContains(t, out, "[OK]")

	out, _, err = runCLI(t, []string{"preflight", "--source", filepath.Join(t.TempDir(), "missing")}, env.configPath)
	if err == nil {
		t.Fatalf("expected preflight failure:\n%s", out)
	}
	requireContains(t, out, "[ERROR]")
}

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Output", statusError, "missing", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Output:", "[ERROR] missing")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Output", statusOK, "ready", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("unexpected colored line %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestNormalizeSaveMode(t *testing.T) {
	cases := map[string]string{
		"lerobot": config.SaveModeDataset,
		" Image ": config.SaveModeImage,
		"both":    config.SaveModeBoth,
	}
	for in, want := range cases {
		if got := normalizeSaveMode(in); got != want {
			t.Fatalf("normalizeSaveMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTestNotifyCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify without topic: %v", err)
	}
	requireContains(t, out, "Notification not sent")

	var title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env.cfg.Notifications.NtfyTopic = server.URL
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	if title != "Datadealer - Test" {
		t.Fatalf("title = %q", title)
	}
}
