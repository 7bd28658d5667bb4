package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const accountsSet = "accfleet:accounts"

// AccountSnapshot is the per-account status the leader mirrors into
// redis so followers and dashboards can read fleet state without
// proxying to the leader.
type AccountSnapshot struct {
	Account          string     `json:"account"`
	SessionActive    bool       `json:"session_active"`
	SessionCreatedAt *time.Time `json:"session_created_at,omitempty"`
	TaskState        string     `json:"task_state,omitempty"`
	Cooldowns        []Cooldown `json:"cooldowns,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Cooldown is one in-force ledger entry inside a snapshot.
type Cooldown struct {
	Class       string    `json:"class"`
	AvailableAt time.Time `json:"available_at"`
}

// RedisFleetMirror publishes per-account snapshots to redis. Writes are
// best-effort: a mirror failure is logged, never propagated, because the
// authoritative state lives in the daemon's memory.
type RedisFleetMirror struct {
	client *redis.Client
}

func NewRedisFleetMirror(client *redis.Client) *RedisFleetMirror {
	return &RedisFleetMirror{client: client}
}

func (m *RedisFleetMirror) makeKey(account string) string {
	return fmt.Sprintf("accfleet:account:%s", account)
}

func (m *RedisFleetMirror) Set(snapshot AccountSnapshot) {
	key := m.makeKey(snapshot.Account)
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("Failed to marshal AccountSnapshot: %v", err)
		return
	}
	ctx := context.Background()
	if err := m.client.Set(ctx, key, data, 0).Err(); err != nil {
		log.Printf("Failed to SET key %s: %v", key, err)
		return
	}
	if err := m.client.SAdd(ctx, accountsSet, key).Err(); err != nil {
		log.Printf("Failed to SADD key %s to set: %v", key, err)
	}
}

func (m *RedisFleetMirror) Get(account string) (AccountSnapshot, bool) {
	key := m.makeKey(account)
	ctx := context.Background()
	data, err := m.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return AccountSnapshot{}, false
		}
		log.Printf("Failed to GET key %s: %v", key, err)
		return AccountSnapshot{}, false
	}
	var snapshot AccountSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		log.Printf("Failed to unmarshal AccountSnapshot from key %s: %v", key, err)
		return AccountSnapshot{}, false
	}
	return snapshot, true
}

func (m *RedisFleetMirror) GetAll() []AccountSnapshot {
	ctx := context.Background()
	keys, err := m.client.SMembers(ctx, accountsSet).Result()
	if err != nil {
		log.Printf("Failed to SMEMBERS %s: %v", accountsSet, err)
		return nil
	}
	if len(keys) == 0 {
		return []AccountSnapshot{}
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("Failed to MGET keys: %v", err)
		return nil
	}
	var snapshots []AccountSnapshot
	for i, val := range values {
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			log.Printf("MGET returned non-string for key %s", keys[i])
			continue
		}
		var snapshot AccountSnapshot
		if err := json.Unmarshal([]byte(str), &snapshot); err != nil {
			log.Printf("Failed to unmarshal AccountSnapshot for key %s: %v", keys[i], err)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

func (m *RedisFleetMirror) Clear() {
	ctx := context.Background()
	keys, err := m.client.SMembers(ctx, accountsSet).Result()
	if err != nil {
		log.Printf("Failed to SMEMBERS %s during clear: %v", accountsSet, err)
		return
	}
	if len(keys) > 0 {
		if err := m.client.Del(ctx, keys...).Err(); err != nil {
			log.Printf("Failed to DEL keys: %v", err)
		}
	}
	if err := m.client.Del(ctx, accountsSet).Err(); err != nil {
		log.Printf("Failed to DEL set %s: %v", accountsSet, err)
	}
}
