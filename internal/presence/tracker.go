// Package presence tracks online, away and offline status per user with
// bounded staleness. The sweeper is the only path from online to offline
// other than an explicit logout or offline request.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"

	"gorm.io/gorm"
)

const (
	DefaultInactivityTimeout = 2 * time.Minute
	// lastSeenPersistEvery throttles last_seen writes from request touches.
	lastSeenPersistEvery = time.Minute
)

// Transition causes, used as metric labels.
const (
	CauseHeartbeat = "heartbeat"
	CauseTouch     = "touch"
	CauseExplicit  = "explicit"
	CauseSweep     = "sweep"
	CauseAccount   = "account"
)

// Tracker applies presence inputs to a Store and persists transitions to the
// users table.
type Tracker struct {
	store   Store
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	persisted map[uint]time.Time
}

// NewTracker creates a tracker. timeout <= 0 uses DefaultInactivityTimeout.
func NewTracker(store Store, db *gorm.DB, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &Tracker{
		store:     store,
		db:        db,
		timeout:   timeout,
		now:       time.Now,
		persisted: make(map[uint]time.Time),
	}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Heartbeat marks a live user online now. Accounts that are not live are
// forced offline instead.
func (t *Tracker) Heartbeat(ctx context.Context, user *models.User) (State, error) {
	if !user.IsLive() {
		return t.setStatus(ctx, user.ID, models.OnlineStatusOffline, CauseAccount, true)
	}
	return t.setStatus(ctx, user.ID, models.OnlineStatusOnline, CauseHeartbeat, true)
}

// SetState applies an explicit status. Only live accounts may go online.
func (t *Tracker) SetState(ctx context.Context, user *models.User, status models.OnlineStatus) (State, error) {
	if !status.Valid() {
		return State{}, models.NewFieldValidationError("state", "state must be one of online, away, offline")
	}
	if status == models.OnlineStatusOnline {
		if !user.IsLive() {
			return State{}, models.NewForbiddenError("Inactive accounts cannot go online")
		}
		return t.setStatus(ctx, user.ID, status, CauseHeartbeat, true)
	}
	return t.setStatus(ctx, user.ID, status, CauseExplicit, true)
}

// Touch refreshes last_seen on authenticated activity. An offline user becomes
// online; away stays away. Errors are logged, never returned.
func (t *Tracker) Touch(ctx context.Context, user *models.User) {
	if !user.IsLive() {
		return
	}
	status := models.OnlineStatusOnline
	if cur, ok, err := t.store.Get(ctx, user.ID); err == nil && ok && cur.Status == models.OnlineStatusAway {
		status = models.OnlineStatusAway
	}
	if _, err := t.setStatus(ctx, user.ID, status, CauseTouch, false); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence touch failed",
			slog.Uint64("user_id", uint64(user.ID)),
			slog.String("error", err.Error()),
		)
	}
}

// ForceOffline sets a user offline immediately (logout, suspension, ban, delete).
func (t *Tracker) ForceOffline(ctx context.Context, userID uint) error {
	_, err := t.setStatus(ctx, userID, models.OnlineStatusOffline, CauseAccount, true)
	return err
}

// Logout is an explicit offline from the user.
func (t *Tracker) Logout(ctx context.Context, userID uint) error {
	_, err := t.setStatus(ctx, userID, models.OnlineStatusOffline, CauseExplicit, true)
	return err
}

func (t *Tracker) setStatus(ctx context.Context, userID uint, status models.OnlineStatus, cause string, force bool) (State, error) {
	now := t.now().UTC()
	prev, had, err := t.store.Get(ctx, userID)
	if err != nil {
		return State{}, models.NewTransientError(err)
	}

	st := State{UserID: userID, Status: status, LastSeen: now}
	if status == models.OnlineStatusOffline && had && !prev.LastSeen.IsZero() {
		st.LastSeen = prev.LastSeen
	}
	if err := t.store.Set(ctx, st); err != nil {
		return State{}, models.NewTransientError(err)
	}

	transition := !had || prev.Status != status
	if transition {
		observability.PresenceTransitions.WithLabelValues(string(status), cause).Inc()
	}
	if transition || force || t.persistDue(userID, now) {
		if err := repository.NewUserRepository(t.db).SetPresence(ctx, userID, st.Status, st.LastSeen); err != nil {
			return st, err
		}
		t.markPersisted(userID, now)
	}
	return st, nil
}

func (t *Tracker) persistDue(userID uint, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.persisted[userID]
	return !ok || now.Sub(last) >= lastSeenPersistEvery
}

func (t *Tracker) markPersisted(userID uint, now time.Time) {
	t.mu.Lock()
	t.persisted[userID] = now
	t.mu.Unlock()
}

// Sweep marks online and away users offline when last_seen is older than the
// inactivity timeout, and any visible user whose account is no longer live.
// It returns how many users changed.
func (t *Tracker) Sweep(ctx context.Context) (int64, error) {
	visible, err := t.store.Visible(ctx)
	if err != nil {
		return 0, models.NewTransientError(err)
	}
	live, err := t.liveIDs(ctx, visible)
	if err != nil {
		return 0, err
	}
	cutoff := t.now().UTC().Add(-t.timeout)

	var swept int64
	for _, st := range visible {
		cause := CauseSweep
		switch {
		case !live[st.UserID]:
			cause = CauseAccount
		case !st.LastSeen.Before(cutoff):
			continue
		}
		if _, err := t.setStatus(ctx, st.UserID, models.OnlineStatusOffline, cause, true); err != nil {
			return swept, err
		}
		t.mu.Lock()
		delete(t.persisted, st.UserID)
		t.mu.Unlock()
		swept++
	}
	return swept, nil
}

// GetOnlineUsers returns a snapshot of every online or away user. Entries for
// accounts that are no longer live are dropped and forced offline.
func (t *Tracker) GetOnlineUsers(ctx context.Context) ([]State, error) {
	states, err := t.store.Visible(ctx)
	if err != nil {
		return nil, models.NewTransientError(err)
	}
	live, err := t.liveIDs(ctx, states)
	if err != nil {
		return nil, err
	}
	out := states[:0]
	for _, st := range states {
		if live[st.UserID] {
			out = append(out, st)
			continue
		}
		if err := t.ForceOffline(ctx, st.UserID); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "presence cleanup failed",
				slog.Uint64("user_id", uint64(st.UserID)),
				slog.String("error", err.Error()),
			)
		}
	}
	return out, nil
}

// liveIDs loads, in one query, which of the given users may appear online.
// Missing and deleted accounts are not live.
func (t *Tracker) liveIDs(ctx context.Context, states []State) (map[uint]bool, error) {
	live := make(map[uint]bool, len(states))
	if len(states) == 0 {
		return live, nil
	}
	ids := make([]uint, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.UserID)
	}
	var found []uint
	if err := t.db.WithContext(ctx).Model(&models.User{}).
		Where("id IN ? AND status = ? AND is_active = ?", ids, models.StatusActive, true).
		Pluck("id", &found).Error; err != nil {
		return nil, models.NewTransientError(err)
	}
	for _, id := range found {
		live[id] = true
	}
	return live, nil
}

// GetUserStatus returns the user's presence, falling back to the persisted
// columns when the store has no entry.
func (t *Tracker) GetUserStatus(ctx context.Context, userID uint) (State, error) {
	st, ok, err := t.store.Get(ctx, userID)
	if err != nil {
		return State{}, models.NewTransientError(err)
	}
	if ok {
		return st, nil
	}
	user, err := repository.NewUserRepository(t.db).GetByID(ctx, userID)
	if err != nil {
		return State{}, err
	}
	st = State{UserID: user.ID, Status: models.OnlineStatusOffline}
	if user.LastSeen != nil {
		st.LastSeen = user.LastSeen.UTC()
	}
	return st, nil
}
