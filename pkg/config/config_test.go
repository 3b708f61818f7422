package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Key   string `yaml:"key"`
	Level string `yaml:"level"`
}

type strict struct {
	Name string `yaml:"name"`
}

func (s *strict) Validate() error {
	if s.Name == "" {
		return errors.New("name required")
	}
	return nil
}

func TestExpandFallback(t *testing.T) {
	t.Setenv("TIWAZ_TEST_SET", "from-env")
	t.Setenv("TIWAZ_TEST_EMPTY", "")
	got := Expand("a=${TIWAZ_TEST_SET:-x} b=${TIWAZ_TEST_EMPTY:-fallback} c=$TIWAZ_TEST_SET d=${TIWAZ_TEST_MISSING}")
	want := "a=from-env b=fallback c=from-env d="
	if got != want {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	t.Setenv("TIWAZ_TEST_KEY", "secret")
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("name: svc\nkey: ${TIWAZ_TEST_KEY}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := sample{Level: "info"}
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "svc" || cfg.Key != "secret" || cfg.Level != "info" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestDecodeRunsValidator(t *testing.T) {
	var cfg strict
	if err := Decode([]byte("other: 1\n"), &cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadWithDefaultsFallsBack(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "default.yaml")
	if err := os.WriteFile(def, []byte("name: fallback\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var cfg sample
	if err := LoadWithDefaults(filepath.Join(dir, "missing.yaml"), def, &cfg); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if cfg.Name != "fallback" {
		t.Errorf("name = %q", cfg.Name)
	}
}
