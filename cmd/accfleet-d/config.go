package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultAddr             = "127.0.0.1:8090"
	defaultPollInterval     = 10 * time.Second
	defaultLeaseTTL         = 15 * time.Second
	defaultArchiveRetention = 720 * time.Hour
)

type Config struct {
	DBPath       string
	FleetPath    string
	Addr         string
	NodeID       string
	PollInterval time.Duration
	LeaseTTL     time.Duration

	// RedisAddr enables the redis lease store and fleet mirror. Empty
	// means leases live in SQLite and no mirror is published.
	RedisAddr string

	// Peers maps node IDs to advertised base URLs. A non-empty map
	// enables leader election; writes on followers redirect to the
	// leader's advertised URL.
	Peers map[string]string

	// ArchiveDir enables the journal archive worker: events older than
	// ArchiveRetention move into gzipped batches under this directory.
	ArchiveDir       string
	ArchiveRetention time.Duration

	TLSCertFile string
	TLSKeyFile  string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "accfleet.db")
	defaultFleetPath := filepath.Join(cwd, "fleet.json")

	dbPath := envOrDefault("ACCFLEET_DB_PATH", defaultDBPath)
	fleetPath := envOrDefaultWithFallback([]string{"ACCFLEET_FLEET_PATH", "ACCFLEET_CONFIG_PATH"}, defaultFleetPath)
	addr := addrFromEnv(defaultAddr)
	nodeID := envOrDefault("ACCFLEET_NODE_ID", defaultNodeID())
	redisAddr := os.Getenv("ACCFLEET_REDIS_ADDR")
	peersSpec := os.Getenv("ACCFLEET_PEERS")

	pollInterval := defaultPollInterval
	if pollIntervalEnv := os.Getenv("ACCFLEET_POLL_INTERVAL"); pollIntervalEnv != "" {
		parsed, err := time.ParseDuration(pollIntervalEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCFLEET_POLL_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("ACCFLEET_POLL_INTERVAL must be positive")
		}
		pollInterval = parsed
	}

	leaseTTL := defaultLeaseTTL
	if leaseTTLEnv := os.Getenv("ACCFLEET_LEASE_TTL"); leaseTTLEnv != "" {
		parsed, err := time.ParseDuration(leaseTTLEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCFLEET_LEASE_TTL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("ACCFLEET_LEASE_TTL must be positive")
		}
		leaseTTL = parsed
	}

	archiveDir := os.Getenv("ACCFLEET_ARCHIVE_DIR")
	archiveRetention := defaultArchiveRetention
	if retentionEnv := os.Getenv("ACCFLEET_ARCHIVE_RETENTION"); retentionEnv != "" {
		parsed, err := time.ParseDuration(retentionEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCFLEET_ARCHIVE_RETENTION: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("ACCFLEET_ARCHIVE_RETENTION must be positive")
		}
		archiveRetention = parsed
	}

	flagSet := flag.NewFlagSet("accfleet-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagFleet := flagSet.String("fleet", fleetPath, "path to fleet config JSON")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagNodeID := flagSet.String("node-id", nodeID, "node identifier for leases and logs")
	flagPollInterval := flagSet.String("poll-interval", pollInterval.String(), "cooldown wait polling interval")
	flagLeaseTTL := flagSet.String("lease-ttl", leaseTTL.String(), "leader lease TTL")
	flagRedis := flagSet.String("redis-addr", redisAddr, "redis address for leases and fleet mirror")
	flagPeers := flagSet.String("peers", peersSpec, "peer list: node1=http://host:port,node2=...")
	flagArchiveDir := flagSet.String("archive-dir", archiveDir, "directory for journal archives, empty disables archiving")
	flagArchiveRetention := flagSet.String("archive-retention", archiveRetention.String(), "journal retention before archiving")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("ACCFLEET_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("ACCFLEET_TLS_KEY"), "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	pollIntervalParsed, err := time.ParseDuration(*flagPollInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid poll interval: %w", err)
	}
	if pollIntervalParsed <= 0 {
		return Config{}, errors.New("poll interval must be positive")
	}

	leaseTTLParsed, err := time.ParseDuration(*flagLeaseTTL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid lease ttl: %w", err)
	}
	if leaseTTLParsed <= 0 {
		return Config{}, errors.New("lease ttl must be positive")
	}

	archiveRetentionParsed, err := time.ParseDuration(*flagArchiveRetention)
	if err != nil {
		return Config{}, fmt.Errorf("invalid archive retention: %w", err)
	}
	if archiveRetentionParsed <= 0 {
		return Config{}, errors.New("archive retention must be positive")
	}

	peers, err := parsePeers(*flagPeers)
	if err != nil {
		return Config{}, err
	}

	config := Config{
		DBPath:       resolvePath(*flagDB, cwd),
		FleetPath:    resolvePath(*flagFleet, cwd),
		Addr:         strings.TrimSpace(*flagAddr),
		NodeID:       strings.TrimSpace(*flagNodeID),
		PollInterval: pollIntervalParsed,
		LeaseTTL:     leaseTTLParsed,
		RedisAddr:    strings.TrimSpace(*flagRedis),
		Peers:        peers,
		TLSCertFile:  strings.TrimSpace(*flagTLSCert),
		TLSKeyFile:   strings.TrimSpace(*flagTLSKey),

		ArchiveRetention: archiveRetentionParsed,
	}
	if dir := strings.TrimSpace(*flagArchiveDir); dir != "" {
		config.ArchiveDir = resolvePath(dir, cwd)
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.NodeID == "" {
		return Config{}, errors.New("node-id cannot be empty")
	}
	if (config.TLSCertFile == "") != (config.TLSKeyFile == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}
	if len(config.Peers) > 0 {
		if _, ok := config.Peers[config.NodeID]; !ok {
			return Config{}, fmt.Errorf("peers must include this node's id %q", config.NodeID)
		}
	}

	return config, nil
}

func defaultNodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "accfleet-d"
}

// parsePeers parses "node1=http://host:port,node2=http://host:port".
func parsePeers(spec string) (map[string]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	peers := make(map[string]string)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid peer entry: %q", entry)
		}
		peers[strings.TrimSpace(parts[0])] = strings.TrimRight(strings.TrimSpace(parts[1]), "/")
	}
	if len(peers) == 0 {
		return nil, nil
	}
	return peers, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultWithFallback(keys []string, fallback string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("ACCFLEET_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("ACCFLEET_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
