package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFamilies_MissingFileUsesDefaults(t *testing.T) {
	families, err := LoadFamilies(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFamilies: %v", err)
	}
	if got := families["llm"]; got.Concurrency != 1 || got.Delay != time.Second {
		t.Fatalf("llm = %+v, want default browser limits", got)
	}
	if got := families["rentcafe"]; got.Concurrency != 2 || got.Delay != 200*time.Millisecond {
		t.Fatalf("rentcafe = %+v, want default http limits", got)
	}
}

func TestLoadFamilies_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "families.yaml")
	data := "families:\n  rentcafe:\n    concurrency: 4\n  llm:\n    delay: 3s\n  newfamily:\n    concurrency: 2\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	families, err := LoadFamilies(path)
	if err != nil {
		t.Fatalf("LoadFamilies: %v", err)
	}

	if got := families["rentcafe"]; got.Concurrency != 4 || got.Delay != 200*time.Millisecond {
		t.Fatalf("rentcafe = %+v, want concurrency override only", got)
	}
	if got := families["llm"]; got.Concurrency != 1 || got.Delay != 3*time.Second {
		t.Fatalf("llm = %+v, want delay override only", got)
	}
	if got := families["newfamily"]; got.Concurrency != 2 || got.Delay != DefaultFamily.Delay {
		t.Fatalf("newfamily = %+v", got)
	}
}

func TestLoadFamilies_RepoFile(t *testing.T) {
	families, err := LoadFamilies("families.yaml")
	if err != nil {
		t.Fatalf("LoadFamilies: %v", err)
	}
	if got := families["groupfox"]; got.Delay != 1500*time.Millisecond {
		t.Fatalf("groupfox delay = %v", got.Delay)
	}
}

func TestUsePostgres(t *testing.T) {
	tests := map[string]bool{
		"postgres://u:p@localhost/moxie":   true,
		"postgresql://u:p@localhost/moxie": true,
		"moxie.db":                         false,
		"/var/lib/moxie/data.db":           false,
	}
	for url, want := range tests {
		c := &Config{DatabaseURL: url}
		if got := c.UsePostgres(); got != want {
			t.Fatalf("UsePostgres(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestFamily_Unknown(t *testing.T) {
	c := &Config{Families: map[string]Family{}}
	if got := c.Family("mystery"); got != DefaultFamily {
		t.Fatalf("Family(mystery) = %+v, want default", got)
	}
}
