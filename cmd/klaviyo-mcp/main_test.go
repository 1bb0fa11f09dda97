package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
)

func TestRunVersionText(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"version"})
	if err != nil {
		t.Fatalf("run version: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "klaviyo-mcp") {
		t.Errorf("version output missing binary name: %q", got)
	}
	if !strings.Contains(got, "version:") || !strings.Contains(got, "go_version:") {
		t.Errorf("version output missing fields: %q", got)
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-o", "json", "version"})
	if err != nil {
		t.Fatalf("run version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version JSON did not decode: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("version JSON missing fields: %v", info)
	}
	if _, ok := info["uptime"]; ok {
		t.Error("version JSON should not include uptime")
	}
}

func TestRunToolsText(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"tools"})
	if err != nil {
		t.Fatalf("run tools: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, " tools:") {
		t.Errorf("tools output missing count header: %q", got)
	}
	for _, name := range []string{"get_profile", "create_campaign", "render_template"} {
		if !strings.Contains(got, name) {
			t.Errorf("tools output missing %s", name)
		}
	}
}

func TestRunToolsJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"tools", "-o=json"})
	if err != nil {
		t.Fatalf("run tools: %v", err)
	}
	var list []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(out.Bytes(), &list); err != nil {
		t.Fatalf("tools JSON did not decode: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("tools JSON is empty")
	}
	for _, tool := range list {
		if tool.Name == "" || tool.Description == "" {
			t.Errorf("tool with empty name or description: %+v", tool)
		}
		if tool.InputSchema["type"] != "object" {
			t.Errorf("tool %s schema type = %v, want object", tool.Name, tool.InputSchema["type"])
		}
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-x"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRunRejectsBadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v, want output format error", err)
	}
}

func TestRunHelpPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-h"}); err != nil {
		t.Fatalf("run -h: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Usage:") || !strings.Contains(got, "serve") {
		t.Errorf("usage output incomplete: %q", got)
	}
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "klaviyo:\n  api_key: file-key\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, cfgPath, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfgPath != path {
		t.Errorf("cfgPath = %q, want %q", cfgPath, path)
	}
	if got, want := cfg.Klaviyo.APIKey, "file-key"; got != want {
		t.Errorf("APIKey = %q, want %q", got, want)
	}
	if got, want := cfg.Log.Level, "debug"; got != want {
		t.Errorf("Log.Level = %q, want %q", got, want)
	}
	// Unset fields keep their defaults.
	if cfg.Klaviyo.BaseURL == "" {
		t.Error("BaseURL default was lost")
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("KLAVIYO_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"serve", "-config", path})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("err = %v, want invalid config", err)
	}
}

// TestServeAnswersFramesUntilEOF drives the whole binary: frames in on
// stdin, responses out on stdout, clean exit when stdin closes.
func TestServeAnswersFramesUntilEOF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "klaviyo:\n  api_key: test-key\nlog:\n  level: error\nstats:\n  report_interval_sec: 0\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n"

	var out, errOut bytes.Buffer
	err := run(ctx, strings.NewReader(input), &out, &errOut, []string{"serve", "-config", path})
	if err != nil {
		t.Fatalf("serve: %v\nstderr: %s", err, errOut.String())
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d response lines, want 2 (notification must not be answered)\n%s", len(lines), out.String())
	}

	var initResp struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &initResp); err != nil {
		t.Fatalf("initialize response did not decode: %v", err)
	}
	if initResp.ID != 1 || initResp.Result.ServerInfo.Name != "klaviyo-mcp" {
		t.Errorf("initialize response = %s", lines[0])
	}

	var listResp struct {
		ID     int `json:"id"`
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &listResp); err != nil {
		t.Fatalf("tools/list response did not decode: %v", err)
	}
	if listResp.ID != 2 || len(listResp.Result.Tools) == 0 {
		t.Errorf("tools/list response = %s", lines[1])
	}
}

func TestServeRefusesLockedDataDir(t *testing.T) {
	dataDir := t.TempDir()
	holder := flock.New(filepath.Join(dataDir, "klaviyo-mcp.lock"))
	held, err := holder.TryLock()
	if err != nil || !held {
		t.Fatalf("could not take lock for test: held=%v err=%v", held, err)
	}
	defer holder.Unlock()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "klaviyo:\n  api_key: test-key\nlog:\n  level: error\ndata_dir: " + dataDir + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	err = run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"serve", "-config", path})
	if err == nil || !strings.Contains(err.Error(), "another klaviyo-mcp instance") {
		t.Errorf("err = %v, want lock refusal", err)
	}
	if out.Len() != 0 {
		t.Errorf("stdout should stay clean on refused start, got %q", out.String())
	}
}
