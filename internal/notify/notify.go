// Package notify delivers best-effort user notifications about scheduled
// tasks. Delivery is asynchronous: Notify enqueues and returns immediately,
// one worker drains the queue under a rate limit, and failures are logged
// and swallowed. Scheduling must never block or fail on notification
// problems.
package notify

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"quicktimerd/internal/homeassistant"
	logx "quicktimerd/pkg/logx"
)

// Notification selects channels via HA (in-app banner) and Mobile
// (Telegram push). Neither set means banner only.
type Notification struct {
	Title   string
	Message string
	HA      bool
	Mobile  bool
}

type Config struct {
	Enabled    bool
	QueueSize  int
	RatePerSec int

	Telegram TelegramConfig
}

type TelegramConfig struct {
	Enabled     bool
	Token       string
	ChatID      int64
	PollTimeout time.Duration
}

// Service fans notifications out to the configured channels.
type Service struct {
	log logx.Logger
	cfg Config

	ha      *homeassistant.Client
	bot     *tele.Bot
	limiter *rate.Limiter

	mu      sync.Mutex
	queue   chan Notification
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Uint64
}

func New(cfg Config, ha *homeassistant.Client, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}

	s := &Service{
		log:     log,
		cfg:     cfg,
		ha:      ha,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}

	if cfg.Enabled && cfg.Telegram.Enabled {
		poll := cfg.Telegram.PollTimeout
		if poll <= 0 {
			poll = 10 * time.Second
		}
		bot, err := tele.NewBot(tele.Settings{
			Token:  cfg.Telegram.Token,
			Poller: &tele.LongPoller{Timeout: poll},
		})
		if err != nil {
			return nil, err
		}
		s.bot = bot
	}
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.worker(runCtx)
}

// Stop halts the worker. Queued notifications still undelivered are dropped;
// they are advisory, not state.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Notify enqueues without blocking. A full queue drops the notification and
// bumps the drop counter.
func (s *Service) Notify(n Notification) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- n:
	default:
		s.dropped.Add(1)
		s.log.Warn("notification dropped (queue full)", logx.String("title", n.Title))
	}
}

// Dropped reports how many notifications were discarded due to a full queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) worker(ctx context.Context) {
	defer close(s.done)

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	banner := n.HA || (!n.HA && !n.Mobile)
	if banner {
		if err := s.sendBanner(ctx, n); err != nil {
			s.log.Warn("banner notification failed", logx.Err(err))
		}
	}
	if n.Mobile && s.bot != nil {
		if err := s.sendTelegram(n); err != nil {
			s.log.Warn("telegram notification failed", logx.Err(err))
		}
	}
}

// sendBanner posts a Home Assistant persistent notification.
func (s *Service) sendBanner(ctx context.Context, n Notification) error {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.ha.CallService(callCtx, "persistent_notification", "create", map[string]any{
		"title":   n.Title,
		"message": n.Message,
	})
}

func (s *Service) sendTelegram(n Notification) error {
	text := n.Message
	if t := strings.TrimSpace(n.Title); t != "" {
		text = t + "\n" + text
	}
	_, err := s.bot.Send(tele.ChatID(s.cfg.Telegram.ChatID), text)
	return err
}
