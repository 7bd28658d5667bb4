package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/accfleet/accfleet/pkg/api"
	"github.com/accfleet/accfleet/pkg/blob"
	"github.com/accfleet/accfleet/pkg/connector"
	"github.com/accfleet/accfleet/pkg/core"
	"github.com/accfleet/accfleet/pkg/store"
	redisstore "github.com/accfleet/accfleet/pkg/store/redis"
	"github.com/accfleet/accfleet/pkg/warmup"
)

const leaderLeaseName = "accfleet-leader"

func main() {
	fmt.Println(`{"level":"info","msg":"system_started","component":"accfleet-d"}`)

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Printf(`{"level":"fatal","msg":"invalid_config","error":"%v"}`+"\n", err)
		os.Exit(2)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"failed_to_init_store","error":"%v"}`+"\n", err)
		os.Exit(1)
	}
	fmt.Printf(`{"level":"info","msg":"store_initialized","path":"%s"}`+"\n", cfg.DBPath)

	fleet, err := LoadFleetConfig(cfg.FleetPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Printf(`{"level":"warn","msg":"fleet_config_missing","path":"%s"}`+"\n", cfg.FleetPath)
	case err != nil:
		fmt.Printf(`{"level":"fatal","msg":"invalid_fleet_config","error":"%v"}`+"\n", err)
		os.Exit(1)
	default:
		fmt.Printf(`{"level":"info","msg":"fleet_config_loaded","path":"%s","accounts":%d}`+"\n", cfg.FleetPath, len(fleet.Accounts))
	}

	sink := &journalSink{store: st}
	conn := connector.NewMockConnector(connector.MockConfig{
		DialLatency:  fleet.DialLatency(),
		FailAccounts: fleet.FailAccountIDs(),
	})
	c := core.New(core.Options{
		Connector:    conn,
		Events:       sink,
		PollInterval: cfg.PollInterval,
	})

	plan := buildWarmupPlan(fleet.WaitTimeout())
	workflow := func(account core.AccountID) core.Workflow {
		return plan.Workflow(c)
	}

	srv := api.NewServer(st, c, cfg.NodeID, fleet.AccountIDs(), workflow, cfg.Addr)
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var leases store.LeaseStore = st
	var mirror *redisstore.RedisFleetMirror
	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		leases = redisstore.NewRedisLeaseStore(redisClient)
		mirror = redisstore.NewRedisFleetMirror(redisClient)
		fmt.Printf(`{"level":"info","msg":"redis_connected","addr":"%s"}`+"\n", cfg.RedisAddr)
	}

	var em *core.ElectionManager
	if len(cfg.Peers) > 0 {
		onPromote := func() {
			fmt.Printf(`{"level":"info","msg":"promoted_to_leader","node_id":"%s"}`+"\n", cfg.NodeID)
		}
		onDemote := func() {
			fmt.Printf(`{"level":"warn","msg":"demoted_from_leader","node_id":"%s"}`+"\n", cfg.NodeID)
			// A demoted node must not keep driving accounts: the new
			// leader owns every session from here on.
			c.Supervisor.StopAll()
		}
		em = core.NewElectionManager(leases, cfg.NodeID, leaderLeaseName, cfg.LeaseTTL, onPromote, onDemote)
		em.Start(ctx)
		srv.SetElectionManager(&leaderRouter{election: em, leases: leases, peers: cfg.Peers})
	}

	if cfg.ArchiveDir != "" {
		worker := store.NewArchiveWorker(st, blob.NewLocalBlobStore(cfg.ArchiveDir), store.ArchiveConfig{
			Retention: cfg.ArchiveRetention,
		})
		go worker.Run(ctx)
		fmt.Printf(`{"level":"info","msg":"archive_worker_started","dir":"%s","retention":"%s"}`+"\n", cfg.ArchiveDir, cfg.ArchiveRetention)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	if mirror != nil {
		go runMirrorPublisher(ctx, c, srv, em, mirror, cfg.PollInterval)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

loop:
	for {
		select {
		case err := <-serverErr:
			if err != nil {
				fmt.Printf(`{"level":"fatal","msg":"server_failed","error":"%v"}`+"\n", err)
				os.Exit(1)
			}
			break loop
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				reloaded, err := LoadFleetConfig(cfg.FleetPath)
				if err != nil {
					fmt.Printf(`{"level":"error","msg":"fleet_reload_failed","error":"%v"}`+"\n", err)
					continue
				}
				srv.SetAccounts(reloaded.AccountIDs())
				fmt.Printf(`{"level":"info","msg":"fleet_reloaded","accounts":%d}`+"\n", len(reloaded.Accounts))
				continue
			}
			fmt.Printf(`{"level":"info","msg":"shutdown_initiated","signal":"%s"}`+"\n", sig)
			break loop
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_stop_server","error":"%v"}`+"\n", err)
	}
	if em != nil {
		em.Stop(shutdownCtx)
	}
	cancel()
	c.Supervisor.StopAll()
	c.Pool.Drain()
	if mirror != nil && em == nil {
		// Standalone owns the mirror outright; in a cluster the next
		// leader refreshes it.
		mirror.Clear()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			fmt.Printf(`{"level":"error","msg":"failed_to_close_redis","error":"%v"}`+"\n", err)
		}
	}
	if err := st.Close(); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_close_store","error":"%v"}`+"\n", err)
	} else {
		fmt.Println(`{"level":"info","msg":"store_closed"}`)
	}

	fmt.Println(`{"level":"info","msg":"shutdown_complete"}`)
}

// journalSink persists core state transitions into the event journal.
// Append failures are logged and swallowed: the journal is history, not
// orchestration state, and a full disk must not stall the fleet.
type journalSink struct {
	store *store.Store
}

func (s *journalSink) Emit(ctx context.Context, eventType string, account core.AccountID, payload map[string]any) {
	ev := store.Event{
		EventType: store.EventType(eventType),
		Account:   string(account),
	}
	if class, ok := payload["class"].(string); ok {
		ev.Class = class
	}
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf(`{"level":"error","msg":"failed_to_marshal_event_payload","event_type":"%s","error":"%v"}`+"\n", eventType, err)
		} else {
			ev.Payload = data
		}
	}
	if _, err := s.store.AppendEvent(ctx, ev); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_journal_event","event_type":"%s","account":"%s","error":"%v"}`+"\n", eventType, account, err)
	}
}

// buildWarmupPlan is the built-in warmup program. With the mock
// connector the probes are no-ops; a real connector swaps in real step
// bodies without touching the plan shape.
func buildWarmupPlan(waitTimeout time.Duration) warmup.Plan {
	probe := func(ctx context.Context, account core.AccountID, session *core.Session) error {
		if session == nil || session.Handle == nil {
			return fmt.Errorf("no live session for %s", account)
		}
		return nil
	}
	return warmup.Plan{
		Name:        "default-warmup",
		WaitTimeout: waitTimeout,
		Steps: []warmup.Step{
			{Name: "verify-session", Run: probe},
			{Name: "probe-broadcast", Class: core.ClassFloodWait, Run: probe},
			{Name: "probe-group-join", Class: core.ClassGroupJoin, Run: probe},
		},
	}
}

// leaderRouter resolves the current leader's advertised URL so the API
// layer can redirect writes arriving at a follower.
type leaderRouter struct {
	election *core.ElectionManager
	leases   store.LeaseStore
	peers    map[string]string
}

func (r *leaderRouter) IsLeader() bool {
	return r.election.IsLeader()
}

func (r *leaderRouter) LeaderAddr(ctx context.Context) (string, bool, error) {
	lease, err := r.leases.Get(ctx, leaderLeaseName)
	if err != nil {
		return "", false, err
	}
	if lease == nil || time.Now().After(lease.ExpiresAt) {
		return "", false, nil
	}
	addr, ok := r.peers[lease.HolderID]
	if !ok {
		return "", false, fmt.Errorf("no advertised address for leader %s", lease.HolderID)
	}
	return addr, true, nil
}

// runMirrorPublisher mirrors per-account state into redis while this
// node leads. Followers and dashboards read the mirror instead of
// proxying to the leader.
func runMirrorPublisher(ctx context.Context, c *core.Core, srv *api.Server, em *core.ElectionManager, mirror *redisstore.RedisFleetMirror, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if em != nil && !em.IsLeader() {
			continue
		}

		sessions := make(map[core.AccountID]core.Session)
		for _, session := range c.Pool.Snapshot() {
			sessions[session.Account] = session
		}
		cooldowns := make(map[core.AccountID][]redisstore.Cooldown)
		for _, status := range c.Ledger.Snapshot() {
			cooldowns[status.Account] = append(cooldowns[status.Account], redisstore.Cooldown{
				Class:       string(status.Class),
				AvailableAt: status.AvailableAt,
			})
		}

		now := time.Now()
		for _, account := range srv.Accounts() {
			snapshot := redisstore.AccountSnapshot{
				Account:   string(account),
				Cooldowns: cooldowns[account],
				UpdatedAt: now,
			}
			if session, ok := sessions[account]; ok {
				snapshot.SessionActive = true
				created := session.CreatedAt
				snapshot.SessionCreatedAt = &created
			}
			if state, ok := c.Supervisor.State(account); ok {
				snapshot.TaskState = string(state)
			}
			mirror.Set(snapshot)
		}
	}
}
