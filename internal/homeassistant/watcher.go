package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	logx "quicktimerd/pkg/logx"
)

// WatcherConfig configures the state-change watcher.
type WatcherConfig struct {
	URL   string // websocket endpoint, e.g. ws://host:8123/api/websocket
	Token string
}

// Watcher maintains one WebSocket connection to Home Assistant, subscribes
// to state_changed events, and fans them out to per-entity listeners.
//
// The connection self-heals: on any failure the watcher reconnects with a
// jittered exponential backoff. Listener registrations survive reconnects
// because the subscription filter lives on our side.
type Watcher struct {
	cfg WatcherConfig
	log logx.Logger

	mu        sync.Mutex
	listeners map[string]map[uint64]func(oldState, newState string)
	seq       atomic.Uint64

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewWatcher(cfg WatcherConfig, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		cfg:       cfg,
		log:       log,
		listeners: map[string]map[uint64]func(string, string){},
	}
}

// Subscribe registers a listener for one entity's state changes and returns
// an unsubscribe func. Unsubscribing twice is a no-op.
func (w *Watcher) Subscribe(entityID string, fn func(oldState, newState string)) (func(), error) {
	if entityID == "" || fn == nil {
		return nil, errors.New("subscribe: entity id and callback are required")
	}
	id := w.seq.Add(1)

	w.mu.Lock()
	set, ok := w.listeners[entityID]
	if !ok {
		set = map[uint64]func(string, string){}
		w.listeners[entityID] = set
	}
	set[id] = fn
	w.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			w.mu.Lock()
			if set, ok := w.listeners[entityID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(w.listeners, entityID)
				}
			}
			w.mu.Unlock()
		})
	}
	return unsub, nil
}

func (w *Watcher) dispatch(entityID, oldState, newState string) {
	w.mu.Lock()
	set := w.listeners[entityID]
	fns := make([]func(string, string), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(oldState, newState)
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true
	w.mu.Unlock()

	go w.run(runCtx)
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.started = false
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	const (
		backoffBase = 500 * time.Millisecond
		backoffMax  = 30 * time.Second
	)
	backoff := backoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		if ctx.Err() != nil {
			return
		}

		err := w.runConn(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		w.log.Warn("websocket connection lost; reconnecting",
			logx.Err(err), logx.Duration("backoff", wait))
		if backoff < backoffMax {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// wire message shapes for the Home Assistant websocket API.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string `json:"entity_id"`
		OldState *struct {
			State string `json:"state"`
		} `json:"old_state"`
		NewState *struct {
			State string `json:"state"`
		} `json:"new_state"`
	} `json:"data"`
}

// runConn runs one connection: dial, auth handshake, subscribe, then read
// events until the connection breaks or ctx is done.
func (w *Watcher) runConn(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, w.cfg.URL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := w.authenticate(ctx, conn); err != nil {
		return err
	}

	const subscriptionID = 1
	sub := map[string]any{
		"id":         subscriptionID,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return err
	}

	w.log.Info("state watcher connected", logx.String("url", w.cfg.URL))

	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		switch msg.Type {
		case "result":
			if msg.Success != nil && !*msg.Success {
				return errors.New("subscription rejected: " + msg.Message)
			}
		case "event":
			var ev stateChangedEvent
			if err := json.Unmarshal(msg.Event, &ev); err != nil {
				w.log.Debug("undecodable event", logx.Err(err))
				continue
			}
			if ev.EventType != "state_changed" || ev.Data.EntityID == "" {
				continue
			}
			oldState, newState := "", ""
			if ev.Data.OldState != nil {
				oldState = ev.Data.OldState.State
			}
			if ev.Data.NewState != nil {
				newState = ev.Data.NewState.State
			}
			w.dispatch(ev.Data.EntityID, oldState, newState)
		case "pong":
		}
	}
}

// authenticate performs the auth_required/auth/auth_ok handshake.
func (w *Watcher) authenticate(ctx context.Context, conn *websocket.Conn) error {
	authCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var hello wsMessage
	if err := wsjson.Read(authCtx, conn, &hello); err != nil {
		return err
	}
	if hello.Type != "auth_required" {
		return errors.New("unexpected handshake message: " + hello.Type)
	}
	if err := wsjson.Write(authCtx, conn, map[string]any{
		"type":         "auth",
		"access_token": w.cfg.Token,
	}); err != nil {
		return err
	}
	var reply wsMessage
	if err := wsjson.Read(authCtx, conn, &reply); err != nil {
		return err
	}
	if reply.Type != "auth_ok" {
		return errors.New("authentication failed: " + reply.Type)
	}
	return nil
}
