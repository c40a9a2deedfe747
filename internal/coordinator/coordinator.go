// Package coordinator owns the one-time action scheduler: at most one
// armed task per entity, persisted before its timer is armed, recovered on
// restart, auto-cancelled when a manual state change makes it redundant.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quicktimerd/internal/actions"
	"quicktimerd/internal/eventbus"
	"quicktimerd/internal/storage"
	logx "quicktimerd/pkg/logx"
)

// ErrInvalidParams wraps every validation failure so transport layers can
// map the whole family to one client-error response.
var ErrInvalidParams = errors.New("invalid parameters")

const (
	TimeModeRelative = "relative"
	TimeModeAbsolute = "absolute"

	minDelay = 1
	maxDelay = 86400

	defaultDelay = 15
	defaultUnit  = "minutes"
)

// Executor performs a resolved action against an entity.
type Executor interface {
	Execute(ctx context.Context, entityID, action string) error
}

// StateSource delivers (old, new) state pairs for one entity until the
// returned unsubscribe func is called. Unsubscribing twice is a no-op.
type StateSource interface {
	Subscribe(entityID string, fn func(oldState, newState string)) (func(), error)
}

// Notifier delivers user-facing notices. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Notification mirrors the notify service's channel flags without importing
// it, keeping the coordinator's ports free of delivery concerns.
type Notification struct {
	Title   string
	Message string
	HA      bool
	Mobile  bool
}

// Projection receives the authoritative record set after every change.
type Projection interface {
	Push(tasks map[string]storage.TaskRecord)
}

// Params carries one run_action request. Zero Delay, Unit and TimeMode take
// the documented defaults (15, minutes, relative).
type Params struct {
	EntityID string
	Action   string

	Delay    int
	Unit     string
	AtTime   string
	TimeMode string

	Notify        bool
	RunNow        bool
	NotifyHA      bool
	NotifyMobile  bool
	NotifyDevices []string
}

type Deps struct {
	Tasks      *storage.TaskStore
	Prefs      *storage.PreferenceStore
	Executor   Executor
	States     StateSource
	Notifier   Notifier
	Projection Projection
	Bus        eventbus.Bus
	Log        logx.Logger

	// Now is the clock; nil means time.Now. Injected by tests.
	Now func() time.Time
}

type Coordinator struct {
	tasks      *storage.TaskStore
	prefs      *storage.PreferenceStore
	exec       Executor
	states     StateSource
	notifier   Notifier
	projection Projection
	bus        eventbus.Bus
	log        logx.Logger
	now        func() time.Time

	// mu guards both maps. Timer callbacks re-acquire it and verify their
	// handle is still current before acting, so a fire racing a cancel or
	// reschedule becomes a no-op.
	mu        sync.Mutex
	timers    map[string]*time.Timer
	listeners map[string]func()
}

func New(d Deps) *Coordinator {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		tasks:      d.Tasks,
		prefs:      d.Prefs,
		exec:       d.Executor,
		states:     d.States,
		notifier:   d.Notifier,
		projection: d.Projection,
		bus:        d.Bus,
		log:        log,
		now:        now,
		timers:     map[string]*time.Timer{},
		listeners:  map[string]func(){},
	}
}

// Schedule validates p, silently replaces any existing task for the entity,
// optionally executes the requested action immediately (run_now) and arms a
// timer for the scheduled (or reverse) action. The record is persisted
// before the timer is armed.
func (c *Coordinator) Schedule(ctx context.Context, p Params) error {
	if p.Delay == 0 {
		p.Delay = defaultDelay
	}
	if p.Unit == "" {
		p.Unit = defaultUnit
	}
	if p.TimeMode == "" {
		p.TimeMode = TimeModeRelative
	}
	if err := validate(p); err != nil {
		return err
	}

	// Replacing an existing task is not a user-visible cancellation.
	c.Cancel(ctx, p.EntityID, Silent())

	now := c.now()
	var (
		endTime      time.Time
		delaySeconds int
	)
	if p.TimeMode == TimeModeAbsolute && p.AtTime != "" {
		hours, minutes, err := parseHHMM(p.AtTime)
		if err != nil {
			return err
		}
		endTime = time.Date(now.Year(), now.Month(), now.Day(), hours, minutes, 0, 0, now.Location())
		// Crossing midnight: a wall-clock time already past means tomorrow.
		if !endTime.After(now) {
			endTime = endTime.AddDate(0, 0, 1)
			c.log.Info("scheduled time is in the past, scheduling for tomorrow",
				logx.String("entity_id", p.EntityID), logx.String("at_time", p.AtTime))
		}
		delaySeconds = int(endTime.Sub(now).Seconds())
	} else {
		delaySeconds = toSeconds(p.Delay, p.Unit)
		endTime = now.Add(time.Duration(delaySeconds) * time.Second)
	}

	actualAction := p.Action
	originalAction := ""
	if p.RunNow {
		originalAction = p.Action
		actualAction = actions.Reverse(p.Action)
		if err := c.exec.Execute(ctx, p.EntityID, p.Action); err != nil {
			// The schedule still stands; the reverse leg is the contract.
			c.log.Error("immediate action failed",
				logx.String("entity_id", p.EntityID),
				logx.String("action", p.Action),
				logx.Err(err))
		}
	}

	rec := storage.TaskRecord{
		TaskID:         uuid.NewString(),
		EntityID:       p.EntityID,
		Action:         actualAction,
		OriginalAction: originalAction,
		TimeMode:       p.TimeMode,
		Delay:          p.Delay,
		Unit:           p.Unit,
		AtTime:         p.AtTime,
		DelaySeconds:   delaySeconds,
		ScheduledTime:  now.Format(time.RFC3339),
		EndTime:        endTime.Format(time.RFC3339),
		RunNow:         p.RunNow,
		Notify:         p.Notify,
		NotifyHA:       p.NotifyHA,
		NotifyMobile:   p.NotifyMobile,
		NotifyDevices:  p.NotifyDevices,
	}
	if err := c.tasks.Put(rec); err != nil {
		return fmt.Errorf("store task: %w", err)
	}

	c.recordPreferences(p, now)
	c.armTask(rec)

	c.publish(eventbus.TypeTaskStarted, eventbus.Task{
		EntityID:      rec.EntityID,
		TaskID:        rec.TaskID,
		Action:        rec.Action,
		ScheduledTime: rec.ScheduledTime,
		EndTime:       rec.EndTime,
		DelaySeconds:  rec.DelaySeconds,
		RunNow:        rec.RunNow,
	})
	c.pushProjection()

	if p.NotifyHA || p.NotifyMobile {
		timeStr := formatDelay(p.Delay, p.Unit)
		if p.TimeMode == TimeModeAbsolute && p.AtTime != "" {
			timeStr = "at " + p.AtTime
		}
		if p.RunNow {
			c.notify(Notification{
				Title:   "Turned on: " + p.EntityID,
				Message: "Will automatically turn off in " + timeStr,
				HA:      p.NotifyHA,
				Mobile:  p.NotifyMobile,
			})
		} else {
			c.notify(Notification{
				Title:   "Scheduled: " + strings.ToUpper(p.Action) + " for " + p.EntityID,
				Message: "Will execute at " + endTime.Format("15:04:05"),
				HA:      p.NotifyHA,
				Mobile:  p.NotifyMobile,
			})
		}
	}

	c.log.Info("scheduled action",
		logx.String("entity_id", rec.EntityID),
		logx.String("action", rec.Action),
		logx.String("end_time", rec.EndTime),
		logx.Int("delay_seconds", rec.DelaySeconds),
		logx.Bool("run_now", rec.RunNow),
		logx.String("time_mode", rec.TimeMode))
	return nil
}

// CancelOption tweaks Cancel behavior.
type CancelOption func(*cancelOptions)

type cancelOptions struct {
	silent bool
	reason string
}

// Silent suppresses the cancellation notification (internal cancels).
func Silent() CancelOption { return func(o *cancelOptions) { o.silent = true } }

// Reason overrides the default "user_request" cancellation reason.
func Reason(r string) CancelOption { return func(o *cancelOptions) { o.reason = r } }

// Cancel disarms and removes the entity's task. It reports whether a task
// existed; cancelling an absent task is a cheap no-op.
func (c *Coordinator) Cancel(ctx context.Context, entityID string, opts ...CancelOption) bool {
	_ = ctx
	o := cancelOptions{reason: "user_request"}
	for _, fn := range opts {
		fn(&o)
	}

	c.mu.Lock()
	_, armed := c.timers[entityID]
	c.mu.Unlock()
	rec, stored := c.tasks.Get(entityID)
	if !armed && !stored {
		return false
	}

	c.cleanup(entityID)

	c.publish(eventbus.TypeTaskCancelled, eventbus.Task{
		EntityID: entityID,
		TaskID:   rec.TaskID,
		Reason:   o.reason,
	})

	if !o.silent && (!stored || rec.Notify) {
		if o.reason == "manual_state_change" {
			c.notify(Notification{
				Title:   "Auto-cancelled: " + entityID,
				Message: "Scheduled action was cancelled because state was changed manually",
				HA:      rec.NotifyHA,
				Mobile:  rec.NotifyMobile,
			})
		} else {
			c.notify(Notification{
				Title:   "Cancelled: " + entityID,
				Message: "Scheduled action was cancelled",
				HA:      rec.NotifyHA,
				Mobile:  rec.NotifyMobile,
			})
		}
	}

	c.log.Info("cancelled scheduled action",
		logx.String("entity_id", entityID),
		logx.String("reason", o.reason))
	return true
}

// Restore re-arms persisted tasks after a restart. Overdue tasks are
// executed immediately and synchronously; corrupt records are dropped.
func (c *Coordinator) Restore(ctx context.Context) {
	_ = ctx
	now := c.now()
	for entityID, rec := range c.tasks.All() {
		end, ok := rec.EndsAt()
		if !ok {
			c.log.Warn("invalid scheduled time, removing task",
				logx.String("entity_id", entityID),
				logx.String("end_time", rec.EndTime))
			if _, err := c.tasks.Remove(entityID); err != nil {
				c.log.Error("remove corrupt task failed", logx.String("entity_id", entityID), logx.Err(err))
			}
			continue
		}
		if !end.After(now) {
			c.log.Info("executing missed task",
				logx.String("entity_id", entityID),
				logx.String("was_scheduled_for", rec.EndTime))
			c.fire(entityID, nil)
			continue
		}
		c.log.Info("restoring scheduled task",
			logx.String("entity_id", entityID),
			logx.String("end_time", rec.EndTime))
		c.armTask(rec)
	}
	c.pushProjection()
}

// Stop disarms every timer and listener. Records stay persisted so the next
// start restores them; a process stop must not lose tasks.
func (c *Coordinator) Stop(ctx context.Context) {
	_ = ctx
	c.mu.Lock()
	timers := c.timers
	listeners := c.listeners
	c.timers = map[string]*time.Timer{}
	c.listeners = map[string]func(){}
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, unsub := range listeners {
		unsub()
	}
	c.log.Info("scheduler stopped", logx.Int("disarmed", len(timers)))
}

// armTask arms the timer (and, for non-run-now tasks, the auto-cancel
// listener) for an already-persisted record.
func (c *Coordinator) armTask(rec storage.TaskRecord) {
	end, ok := rec.EndsAt()
	if !ok {
		return
	}
	delay := end.Sub(c.now())
	if delay < 0 {
		delay = 0
	}

	c.mu.Lock()
	if old, exists := c.timers[rec.EntityID]; exists {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() { c.fire(rec.EntityID, t) })
	c.timers[rec.EntityID] = t
	c.mu.Unlock()

	if !rec.RunNow {
		c.armListener(rec.EntityID, rec.Action)
	}
}

// armListener subscribes to the entity's state changes and cancels the task
// when a manual change makes the scheduled action redundant.
func (c *Coordinator) armListener(entityID, scheduledAction string) {
	if c.states == nil {
		return
	}
	unsub, err := c.states.Subscribe(entityID, func(oldState, newState string) {
		if oldState == "" || newState == "" {
			return
		}
		cancel := false
		switch scheduledAction {
		case "on":
			cancel = newState == "on"
		case "off":
			cancel = newState == "off"
		case "toggle":
			cancel = newState != oldState
		}
		if cancel {
			c.log.Info("state changed manually, cancelling scheduled action",
				logx.String("entity_id", entityID),
				logx.String("action", scheduledAction),
				logx.String("new_state", newState))
			c.Cancel(context.Background(), entityID, Reason("manual_state_change"))
		}
	})
	if err != nil {
		c.log.Warn("state listener setup failed",
			logx.String("entity_id", entityID), logx.Err(err))
		return
	}

	c.mu.Lock()
	if old, exists := c.listeners[entityID]; exists {
		old()
	}
	c.listeners[entityID] = unsub
	c.mu.Unlock()
}

// fire runs the scheduled action. A nil handle means an overdue replay from
// Restore; otherwise the callback only proceeds while its timer handle is
// still the current one for the entity.
func (c *Coordinator) fire(entityID string, handle *time.Timer) {
	if handle != nil {
		c.mu.Lock()
		current := c.timers[entityID]
		c.mu.Unlock()
		if current != handle {
			return
		}
	}

	rec, ok := c.tasks.Get(entityID)
	if !ok {
		c.cleanup(entityID)
		return
	}

	c.log.Info("executing scheduled action",
		logx.String("entity_id", entityID),
		logx.String("action", rec.Action))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := c.exec.Execute(ctx, entityID, rec.Action)
	cancel()

	if err != nil {
		c.log.Error("scheduled action failed",
			logx.String("entity_id", entityID),
			logx.String("action", rec.Action),
			logx.Err(err))
		if rec.NotifyHA || rec.NotifyMobile {
			c.notify(Notification{
				Title:   "Error: " + strings.ToUpper(rec.Action) + " for " + entityID,
				Message: "Action failed: " + err.Error(),
				HA:      rec.NotifyHA,
				Mobile:  rec.NotifyMobile,
			})
		}
	} else {
		c.publish(eventbus.TypeTaskCompleted, eventbus.Task{
			EntityID: entityID,
			TaskID:   rec.TaskID,
			Action:   rec.Action,
		})
		if rec.NotifyHA || rec.NotifyMobile {
			c.notify(Notification{
				Title:   "Executed: " + strings.ToUpper(rec.Action) + " for " + entityID,
				Message: "Scheduled action completed successfully",
				HA:      rec.NotifyHA,
				Mobile:  rec.NotifyMobile,
			})
		}
	}

	// Completed and failed runs both clear the task; one-time means once.
	c.cleanup(entityID)
}

// cleanup disarms the timer, unsubscribes the listener and removes the
// record. Every exit path funnels through here, and every step tolerates
// the work already being done.
func (c *Coordinator) cleanup(entityID string) {
	c.mu.Lock()
	if t, ok := c.timers[entityID]; ok {
		t.Stop()
		delete(c.timers, entityID)
	}
	unsub := c.listeners[entityID]
	delete(c.listeners, entityID)
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if _, err := c.tasks.Remove(entityID); err != nil {
		c.log.Error("remove task failed", logx.String("entity_id", entityID), logx.Err(err))
	}
	c.pushProjection()
}

// recordPreferences saves the last-used form values and a history entry.
// Preference failures never abort a schedule; the task is already armed.
func (c *Coordinator) recordPreferences(p Params, now time.Time) {
	if c.prefs == nil {
		return
	}
	entry := map[string]any{
		"action":    p.Action,
		"time_mode": p.TimeMode,
		"timestamp": now.Format(time.RFC3339),
	}
	if p.TimeMode == TimeModeAbsolute {
		entry["at_time"] = p.AtTime
	} else {
		entry["delay"] = p.Delay
		entry["unit"] = p.Unit
	}
	if err := c.prefs.AddHistory(p.EntityID, entry); err != nil {
		c.log.Warn("history update failed", logx.String("entity_id", p.EntityID), logx.Err(err))
	}

	if err := c.prefs.Set(p.EntityID, storage.Preferences{
		"last_action":    p.Action,
		"last_time_mode": p.TimeMode,
		"last_delay":     p.Delay,
		"last_unit":      p.Unit,
		"last_at_time":   p.AtTime,
		"notify_ha":      p.NotifyHA,
		"notify_mobile":  p.NotifyMobile,
	}); err != nil {
		c.log.Warn("preference update failed", logx.String("entity_id", p.EntityID), logx.Err(err))
	}
}

func (c *Coordinator) pushProjection() {
	if c.projection != nil {
		c.projection.Push(c.tasks.All())
	}
}

func (c *Coordinator) publish(eventType string, task eventbus.Task) {
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventType, Task: task})
	}
}

func (c *Coordinator) notify(n Notification) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}
