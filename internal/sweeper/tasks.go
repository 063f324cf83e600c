package sweeper

import (
	"time"

	"huddle/internal/account"
	"huddle/internal/auth"
	"huddle/internal/moderation"
	"huddle/internal/presence"
)

const (
	DefaultRevocationInterval = time.Minute
	DefaultPresenceInterval   = 30 * time.Second
	DefaultSuspensionInterval = time.Minute
	DefaultTrashInterval      = time.Hour
)

// Deps are the components whose maintenance the sweeper drives.
type Deps struct {
	Tokens     *auth.TokenStore
	Presence   *presence.Tracker
	Moderation *moderation.Coordinator
	Accounts   *account.Machine

	// PresenceInterval overrides DefaultPresenceInterval when positive.
	PresenceInterval time.Duration
}

// StandardTasks builds the task list for every non-nil dependency.
func StandardTasks(d Deps) []Task {
	var tasks []Task
	if d.Tokens != nil {
		tasks = append(tasks, Task{Name: "token_revocations", Interval: DefaultRevocationInterval, Run: d.Tokens.PurgeExpired})
	}
	if d.Presence != nil {
		interval := d.PresenceInterval
		if interval <= 0 {
			interval = DefaultPresenceInterval
		}
		tasks = append(tasks, Task{Name: "presence", Interval: interval, Run: d.Presence.Sweep})
	}
	if d.Moderation != nil {
		tasks = append(tasks, Task{Name: "suspension_expiry", Interval: DefaultSuspensionInterval, Run: d.Moderation.ExpireSuspensions})
	}
	if d.Accounts != nil {
		tasks = append(tasks, Task{Name: "trash_flush", Interval: DefaultTrashInterval, Run: d.Accounts.FlushTrash})
	}
	return tasks
}
