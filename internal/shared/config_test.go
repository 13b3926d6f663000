package shared

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Stash.EndpointSubstr != "stashdb.org" {
			t.Errorf("expected endpoint substring stashdb.org, got %s", config.Stash.EndpointSubstr)
		}

		if !config.Whisparr.Monitored || config.Whisparr.MoveFiles || !config.Whisparr.Rename {
			t.Errorf("unexpected behaviour defaults: %+v", config.Whisparr)
		}

		if config.Whisparr.QualityProfile != "Any" {
			t.Errorf("expected quality profile Any, got %s", config.Whisparr.QualityProfile)
		}

		if config.HTTP.RetryMax != 3 || config.HTTP.RetryDelay != 500*time.Millisecond {
			t.Errorf("unexpected http defaults: %+v", config.HTTP)
		}

		if config.Limits.MaxLogBody != 1000 || config.Limits.MaxPathLength != 100 {
			t.Errorf("unexpected limits: %+v", config.Limits)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if !reflect.DeepEqual(config.Paths, DefaultConfig().Paths) {
			t.Errorf("created config path mapping doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig keeps defaults for missing keys", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[whisparr]
url = "http://whisparr:6969"
api_key = "secret"
move_files = true

[[paths.mapping]]
from = "/mnt/a"
to = "/a"

[[paths.mapping]]
from = "/mnt/b"
to = "/b"

[commands]
poll_interval = "1s"
poll_timeout = "30s"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if !config.Whisparr.MoveFiles || config.Whisparr.APIKey != "secret" {
			t.Errorf("file values not applied: %+v", config.Whisparr)
		}
		if !config.Whisparr.Rename {
			t.Error("rename should keep its default")
		}
		if len(config.Paths.Mapping) != 2 || config.Paths.Mapping[1].From != "/mnt/b" {
			t.Errorf("expected only the file's mapping rules, got %+v", config.Paths.Mapping)
		}
		if config.Commands.PollTimeout != 30*time.Second {
			t.Errorf("expected poll timeout 30s, got %s", config.Commands.PollTimeout)
		}
	})

	t.Run("LoadConfig rejects invalid values", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[whisparr]
url = "not a url"
api_key = ""

[http]
retry_max = 9
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials for the empty api key, got %v", err)
		}
		for _, field := range []string{"Whisparr.URL", "Whisparr.APIKey", "HTTP.RetryMax"} {
			if !strings.Contains(err.Error(), field) {
				t.Errorf("expected %s in error, got %v", field, err)
			}
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		config := DefaultConfig()
		env := map[string]string{
			"WHISPARR_API_KEY":  "  from-env ",
			"STASH_URL":         "http://stash:9999",
			"STASH_IGNORE_TAGS": `["Compilation", "Trailer"]`,
		}
		lookup := func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}

		if err := config.ApplyEnv(lookup); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Whisparr.APIKey != "from-env" {
			t.Errorf("expected trimmed api key, got %q", config.Whisparr.APIKey)
		}
		if config.Stash.URL != "http://stash:9999" {
			t.Errorf("expected stash url override, got %s", config.Stash.URL)
		}
		if !reflect.DeepEqual(config.Stash.IgnoreTags, []string{"Compilation", "Trailer"}) {
			t.Errorf("unexpected ignore tags %v", config.Stash.IgnoreTags)
		}
	})
}

func TestParseTagList(t *testing.T) {
	tc := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "empty", input: "  ", want: nil},
		{name: "comma separated", input: "a, b ,,c", want: []string{"a", "b", "c"}},
		{name: "json array", input: `["x","y z"]`, want: []string{"x", "y z"}},
		{name: "broken json", input: `["x",`, wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTagList(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTagList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTagList() = %v, want %v", got, tt.want)
			}
		})
	}
}
