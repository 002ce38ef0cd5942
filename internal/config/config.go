package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // ARBITER_DATABASE_URL (required)
	GRPCAddr    string // ARBITER_GRPC_ADDR (default ":9090")
	HTTPAddr    string // ARBITER_HTTP_ADDR (default ":8080")
	NATSURL     string // ARBITER_NATS_URL (optional, empty = no notifications)
	AuthToken   string // ARBITER_AUTH_TOKEN (optional, empty = auth disabled)

	// Ledger
	RPCURL     string        // ARBITER_RPC_URL (optional, empty = ingestion disabled)
	RPCTimeout time.Duration // ARBITER_RPC_TIMEOUT (default 10s)
	Contracts  []Contract    // ARBITER_CONTRACTS and ARBITER_CONTRACTS_FILE

	// Background loops
	PollInterval        time.Duration // ARBITER_POLL_INTERVAL (default 12s)
	WorkerInterval      time.Duration // ARBITER_WORKER_INTERVAL (default 5s)
	SweepInterval       time.Duration // ARBITER_SWEEP_INTERVAL (default 5m)
	MaintenanceInterval time.Duration // ARBITER_MAINTENANCE_INTERVAL (default 10m)

	// Archive settings
	ArchiveInterval   time.Duration // ARBITER_ARCHIVE_INTERVAL (default 1h; 0 = disabled)
	ArchiveS3Bucket   string        // ARBITER_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // ARBITER_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // ARBITER_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // ARBITER_ARCHIVE_S3_KEY (default "arbiter/outcomes.jsonl")
}

// Contract is a contract to watch. Events empty means every event.
type Contract struct {
	Address string   `toml:"address"`
	Events  []string `toml:"events"`
}

// contractsFile is the layout of ARBITER_CONTRACTS_FILE:
//
//	[[contract]]
//	address = "0x..."
//	events = ["SessionCreated", "EvaluationSubmitted"]
type contractsFile struct {
	Contract []Contract `toml:"contract"`
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("ARBITER_DATABASE_URL"),
		GRPCAddr:          envOrDefault("ARBITER_GRPC_ADDR", ":9090"),
		HTTPAddr:          envOrDefault("ARBITER_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("ARBITER_NATS_URL"),
		AuthToken:         os.Getenv("ARBITER_AUTH_TOKEN"),
		RPCURL:            os.Getenv("ARBITER_RPC_URL"),
		ArchiveS3Bucket:   os.Getenv("ARBITER_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("ARBITER_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("ARBITER_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("ARBITER_ARCHIVE_S3_KEY", "arbiter/outcomes.jsonl"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("ARBITER_DATABASE_URL is required")
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"ARBITER_RPC_TIMEOUT", "10s", &c.RPCTimeout},
		{"ARBITER_POLL_INTERVAL", "12s", &c.PollInterval},
		{"ARBITER_WORKER_INTERVAL", "5s", &c.WorkerInterval},
		{"ARBITER_SWEEP_INTERVAL", "5m", &c.SweepInterval},
		{"ARBITER_MAINTENANCE_INTERVAL", "10m", &c.MaintenanceInterval},
		{"ARBITER_ARCHIVE_INTERVAL", "1h", &c.ArchiveInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"ARBITER_POLL_INTERVAL", c.PollInterval},
		{"ARBITER_WORKER_INTERVAL", c.WorkerInterval},
		{"ARBITER_SWEEP_INTERVAL", c.SweepInterval},
		{"ARBITER_MAINTENANCE_INTERVAL", c.MaintenanceInterval},
	} {
		if d.v == 0 {
			return nil, fmt.Errorf("%s: must be positive", d.key)
		}
	}

	if path := os.Getenv("ARBITER_CONTRACTS_FILE"); path != "" {
		cs, err := LoadContractsFile(path)
		if err != nil {
			return nil, fmt.Errorf("ARBITER_CONTRACTS_FILE: %w", err)
		}
		c.Contracts = append(c.Contracts, cs...)
	}
	cs, err := ParseContracts(os.Getenv("ARBITER_CONTRACTS"))
	if err != nil {
		return nil, fmt.Errorf("ARBITER_CONTRACTS: %w", err)
	}
	c.Contracts = append(c.Contracts, cs...)

	return c, nil
}

// ParseContracts parses a comma-separated list of "address[:Event|Event]".
func ParseContracts(s string) ([]Contract, error) {
	var out []Contract
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, events, _ := strings.Cut(part, ":")
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("missing address in %q", part)
		}
		c := Contract{Address: addr}
		for _, e := range strings.Split(events, "|") {
			if e = strings.TrimSpace(e); e != "" {
				c.Events = append(c.Events, e)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadContractsFile reads a TOML file of [[contract]] tables.
func LoadContractsFile(path string) ([]Contract, error) {
	var f contractsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys: %v", undecoded)
	}
	for i, c := range f.Contract {
		if strings.TrimSpace(c.Address) == "" {
			return nil, fmt.Errorf("contract %d: address is required", i+1)
		}
	}
	return f.Contract, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
