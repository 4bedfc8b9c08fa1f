package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sqliteProfile(path string) Profile {
	return Profile{Engine: "sqlite", Path: path}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Profiles) != 0 {
		t.Errorf("fresh registry has %d profiles", len(cfg.Profiles))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := cfg.SetProfile("dev", sqliteProfile("/tmp/dev.db")); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	neo := Profile{Engine: "neo4j", URI: "bolt://localhost:7687", Username: "neo4j", Password: "s3cret", Database: "prov"}
	if err := cfg.SetProfile("prod", neo); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if err := cfg.SetDefault(ProcessCLI, "dev"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(loaded.Profiles["prod"], neo) {
		t.Errorf("prod profile = %+v, want %+v", loaded.Profiles["prod"], neo)
	}
	if loaded.Default(ProcessCLI) != "dev" {
		t.Errorf("cli default = %q, want dev", loaded.Default(ProcessCLI))
	}
	if got := loaded.Names(); !reflect.DeepEqual(got, []string{"dev", "prod"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestSetProfileValidation(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name    string
		profile Profile
	}{
		{"unknown engine", Profile{Engine: "postgres", Path: "/tmp/x.db"}},
		{"sqlite without path", Profile{Engine: "sqlite"}},
		{"neo4j without uri", Profile{Engine: "neo4j"}},
		{"empty", Profile{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cfg.SetProfile("bad", tt.profile); err == nil {
				t.Errorf("SetProfile accepted %+v", tt.profile)
			}
		})
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "profiles:\n  broken:\n    engine: sqlite\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a sqlite profile without a path")
	}
}

func TestSetDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SetProfile("dev", sqliteProfile("/tmp/dev.db")); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	if err := cfg.SetDefault("cron", "dev"); err == nil {
		t.Error("SetDefault accepted an unknown process")
	}
	if err := cfg.SetDefault(ProcessCLI, "missing"); err == nil {
		t.Error("SetDefault accepted a missing profile")
	}
	if err := cfg.SetDefault(ProcessDaemon, "dev"); err != nil {
		t.Errorf("SetDefault: %v", err)
	}
	if cfg.Default(ProcessDaemon) != "dev" {
		t.Errorf("daemon default = %q", cfg.Default(ProcessDaemon))
	}
	if cfg.Default(ProcessCLI) != "" {
		t.Errorf("cli default = %q, want empty", cfg.Default(ProcessCLI))
	}
}

func TestDeleteClearsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SetProfile("dev", sqliteProfile("/tmp/dev.db")); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if err := cfg.SetDefault(ProcessCLI, "dev"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	if err := cfg.Delete("missing"); err == nil {
		t.Error("Delete accepted a missing profile")
	}
	if err := cfg.Delete("dev"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := cfg.Profile("dev"); err == nil {
		t.Error("deleted profile still readable")
	}
	if cfg.Default(ProcessCLI) != "" {
		t.Errorf("default still references deleted profile: %q", cfg.Default(ProcessCLI))
	}
}

func TestCurrentResolution(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range []string{"dev", "staging", "envprof"} {
		if err := cfg.SetProfile(name, sqliteProfile("/tmp/"+name+".db")); err != nil {
			t.Fatalf("SetProfile: %v", err)
		}
	}
	if err := cfg.SetDefault(ProcessCLI, "dev"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	// Explicit name wins over everything.
	t.Setenv(EnvProfile, "envprof")
	name, err := cfg.Current(ProcessCLI, "staging")
	if err != nil || name != "staging" {
		t.Errorf("Current(explicit) = %q, %v", name, err)
	}

	// Then the environment variable.
	name, err = cfg.Current(ProcessCLI, "")
	if err != nil || name != "envprof" {
		t.Errorf("Current(env) = %q, %v", name, err)
	}

	// Then the process default.
	t.Setenv(EnvProfile, "")
	name, err = cfg.Current(ProcessCLI, "")
	if err != nil || name != "dev" {
		t.Errorf("Current(default) = %q, %v", name, err)
	}

	// A process without a default resolves to nothing.
	if _, err := cfg.Current(ProcessDaemon, ""); err == nil {
		t.Error("Current resolved a profile for a process without one")
	}

	// A resolved name must exist.
	if _, err := cfg.Current(ProcessCLI, "ghost"); err == nil {
		t.Error("Current accepted a missing explicit profile")
	}
}
