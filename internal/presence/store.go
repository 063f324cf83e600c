package presence

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"huddle/internal/models"

	"github.com/redis/go-redis/v9"
)

// State is one user's presence snapshot.
type State struct {
	UserID   uint                `json:"user_id"`
	Status   models.OnlineStatus `json:"status"`
	LastSeen time.Time           `json:"last_seen"`
}

// Visible reports whether the state counts as present (online or away).
func (s State) Visible() bool {
	return s.Status == models.OnlineStatusOnline || s.Status == models.OnlineStatusAway
}

// Store holds presence state. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, userID uint) (State, bool, error)
	Set(ctx context.Context, st State) error
	// Visible returns every online or away user ordered by user id.
	Visible(ctx context.Context) ([]State, error)
}

// MemoryStore keeps presence in process.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[uint]State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[uint]State)}
}

func (m *MemoryStore) Get(_ context.Context, userID uint) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[userID]
	return st, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, st State) error {
	m.mu.Lock()
	m.states[st.UserID] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Visible(_ context.Context) ([]State, error) {
	m.mu.RLock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		if st.Visible() {
			out = append(out, st)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

const (
	OnlineUsersKey    = "ws:online_users"
	presenceKeyPrefix = "ws:presence:"
	offlineRetention  = 24 * time.Hour
)

// RedisStore shares presence across instances: a set of visible user ids
// plus one hash per user.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store on rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func presenceKey(userID uint) string {
	return presenceKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func (r *RedisStore) Get(ctx context.Context, userID uint) (State, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return State{}, false, err
	}
	st, ok := decodeState(userID, fields)
	return st, ok, nil
}

func (r *RedisStore) Set(ctx context.Context, st State) error {
	key := presenceKey(st.UserID)
	member := strconv.FormatUint(uint64(st.UserID), 10)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "status", string(st.Status), "last_seen", st.LastSeen.UnixNano())
		if st.Visible() {
			p.SAdd(ctx, OnlineUsersKey, member)
			p.Persist(ctx, key)
		} else {
			p.SRem(ctx, OnlineUsersKey, member)
			p.Expire(ctx, key, offlineRetention)
		}
		return nil
	})
	return err
}

func (r *RedisStore) Visible(ctx context.Context) ([]State, error) {
	members, err := r.rdb.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err == nil {
			ids = append(ids, uint(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, presenceKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]State, 0, len(ids))
	for i, id := range ids {
		if st, ok := decodeState(id, cmds[i].Val()); ok && st.Visible() {
			out = append(out, st)
		}
	}
	return out, nil
}

func decodeState(userID uint, fields map[string]string) (State, bool) {
	status := models.OnlineStatus(fields["status"])
	if !status.Valid() {
		return State{}, false
	}
	st := State{UserID: userID, Status: status}
	if ns, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		st.LastSeen = time.Unix(0, ns).UTC()
	}
	return st, true
}
