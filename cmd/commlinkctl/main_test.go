package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/commlink/internal/testutil/testlog"
)

func TestConfigInitAndCheck(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "commlink.toml")

	var out bytes.Buffer
	cmd := configCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	out.Reset()
	cmd = configCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), "port=4000") {
		t.Fatalf("unexpected check output: %q", out.String())
	}
}

func TestVersionShort(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
