package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// envVars lists every variable Load reads; they are cleared between tests.
var envVars = []string{
	"ARBITER_DATABASE_URL", "ARBITER_GRPC_ADDR", "ARBITER_HTTP_ADDR",
	"ARBITER_NATS_URL", "ARBITER_AUTH_TOKEN", "ARBITER_RPC_URL",
	"ARBITER_RPC_TIMEOUT", "ARBITER_CONTRACTS", "ARBITER_CONTRACTS_FILE",
	"ARBITER_POLL_INTERVAL", "ARBITER_WORKER_INTERVAL", "ARBITER_SWEEP_INTERVAL",
	"ARBITER_MAINTENANCE_INTERVAL", "ARBITER_ARCHIVE_INTERVAL",
	"ARBITER_ARCHIVE_S3_BUCKET", "ARBITER_ARCHIVE_S3_ENDPOINT",
	"ARBITER_ARCHIVE_S3_REGION", "ARBITER_ARCHIVE_S3_KEY",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"ARBITER_DATABASE_URL": "postgres://localhost/arbiter"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"ARBITER_DATABASE_URL": "postgres://db:5432/arbiter",
				"ARBITER_GRPC_ADDR":    ":5050",
				"ARBITER_HTTP_ADDR":    ":3000",
				"ARBITER_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name: "BadPollInterval",
			env: map[string]string{
				"ARBITER_DATABASE_URL":  "postgres://localhost/arbiter",
				"ARBITER_POLL_INTERVAL": "soon",
			},
			wantErr: true,
		},
		{
			name: "ZeroWorkerInterval",
			env: map[string]string{
				"ARBITER_DATABASE_URL":    "postgres://localhost/arbiter",
				"ARBITER_WORKER_INTERVAL": "0s",
			},
			wantErr: true,
		},
		{
			name: "NegativeArchiveInterval",
			env: map[string]string{
				"ARBITER_DATABASE_URL":     "postgres://localhost/arbiter",
				"ARBITER_ARCHIVE_INTERVAL": "-1m",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["ARBITER_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["ARBITER_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARBITER_DATABASE_URL", "postgres://localhost/arbiter")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"RPCTimeout", cfg.RPCTimeout, 10 * time.Second},
		{"PollInterval", cfg.PollInterval, 12 * time.Second},
		{"WorkerInterval", cfg.WorkerInterval, 5 * time.Second},
		{"SweepInterval", cfg.SweepInterval, 5 * time.Minute},
		{"MaintenanceInterval", cfg.MaintenanceInterval, 10 * time.Minute},
		{"ArchiveInterval", cfg.ArchiveInterval, time.Hour},
	} {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}
	if cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("ArchiveS3Region = %q, want %q", cfg.ArchiveS3Region, "us-east-1")
	}
	if cfg.ArchiveS3Key != "arbiter/outcomes.jsonl" {
		t.Errorf("ArchiveS3Key = %q, want %q", cfg.ArchiveS3Key, "arbiter/outcomes.jsonl")
	}
	if len(cfg.Contracts) != 0 {
		t.Errorf("Contracts = %v, want none", cfg.Contracts)
	}
}

func TestLoadArchiveDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARBITER_DATABASE_URL", "postgres://localhost/arbiter")
	t.Setenv("ARBITER_ARCHIVE_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ArchiveInterval != 0 {
		t.Errorf("ArchiveInterval = %v, want 0 (disabled)", cfg.ArchiveInterval)
	}
}

func TestParseContracts(t *testing.T) {
	for _, tc := range []struct {
		name    string
		in      string
		want    []Contract
		wantErr bool
	}{
		{"Empty", "", nil, false},
		{"AddressOnly", "0xabc", []Contract{{Address: "0xabc"}}, false},
		{
			"WithEvents",
			" 0xabc:SessionCreated|EvaluationSubmitted , NbcD:VotingStarted",
			[]Contract{
				{Address: "0xabc", Events: []string{"SessionCreated", "EvaluationSubmitted"}},
				{Address: "NbcD", Events: []string{"VotingStarted"}},
			},
			false,
		},
		{"TrailingComma", "0xabc,", []Contract{{Address: "0xabc"}}, false},
		{"MissingAddress", ":SessionCreated", nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseContracts(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseContracts(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadContractsFile(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARBITER_DATABASE_URL", "postgres://localhost/arbiter")
	t.Setenv("ARBITER_CONTRACTS_FILE", writeFile(t, `
[[contract]]
address = "0xaaa"
events = ["SessionCreated", "ResultFinalized"]

[[contract]]
address = "0xbbb"
`))
	t.Setenv("ARBITER_CONTRACTS", "0xccc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Contract{
		{Address: "0xaaa", Events: []string{"SessionCreated", "ResultFinalized"}},
		{Address: "0xbbb"},
		{Address: "0xccc"},
	}
	if !reflect.DeepEqual(cfg.Contracts, want) {
		t.Errorf("Contracts = %+v, want %+v", cfg.Contracts, want)
	}
}

func TestLoadContractsFile_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want string
	}{
		{"Syntax", "[[contract]\naddress = ", ""},
		{"UnknownKey", "[[contract]]\naddress = \"0xa\"\nevent = [\"x\"]\n", "unknown keys"},
		{"MissingAddress", "[[contract]]\nevents = []\n", "address is required"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadContractsFile(writeFile(t, tc.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	if _, err := LoadContractsFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
