package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/message"
)

// DefaultInterval is the delay between background fetches.
const DefaultInterval = 5 * time.Second

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrSelfRecipient = errors.New("cannot message yourself")
	ErrStopped       = errors.New("syncer is stopped")
)

// Backend is the slice of the portal API the syncer needs.
type Backend interface {
	ListMessages(ctx context.Context) ([]message.Message, error)
	SendMessage(ctx context.Context, recipientID int64, content string) (*message.Message, error)
	MarkRead(ctx context.Context, id int64) error
}

// Options configures a Syncer.
type Options struct {
	Backend  Backend
	Store    *message.Store
	Broker   *Broker // optional
	Self     message.Participant
	Interval time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// Syncer keeps a message store close to the server while a messaging view
// is open. It polls on a fixed interval, performs optimistic sends and
// publishes a fresh View after every change.
//
// Every state change runs to completion under one lock. A fetch result is
// applied only if no fetch started after it has been applied already, and
// nothing is applied or published once Stop has been called.
type Syncer struct {
	backend  Backend
	store    *message.Store
	broker   *Broker
	self     message.Participant
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	stopped     bool
	lastApplied uint64 // store fetch token of the newest applied batch
	syncedAt    time.Time
	view        View

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a syncer with defaults applied. It does not fetch until
// Start is called.
func NewSyncer(opts Options) (*Syncer, error) {
	if opts.Backend == nil {
		return nil, errors.New("syncer: backend is required")
	}
	if opts.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	if opts.Self.ID != opts.Store.Self() {
		return nil, fmt.Errorf("syncer: self %d does not own store of user %d", opts.Self.ID, opts.Store.Self())
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		backend:  opts.Backend,
		store:    opts.Store,
		broker:   opts.Broker,
		self:     opts.Self,
		interval: opts.Interval,
		logger:   opts.Logger.With(zap.String("component", "sync"), zap.Int64("user_id", opts.Self.ID)),
		now:      opts.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.view = s.buildView()
	return s, nil
}

// Start fetches immediately and then every interval until Stop.
func (s *Syncer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	s.startOnce.Do(func() {
		s.logger.Debug("sync started", zap.Duration("interval", s.interval))
		s.wg.Add(1)
		go s.loop()
	})
	return nil
}

// Stop cancels the timer and any in-flight fetch and waits for background
// work to finish. Results that arrive afterwards are discarded. Safe to
// call more than once.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.logger.Debug("sync stopped")
	})
}

// Refresh starts a fetch now without waiting for the next tick.
func (s *Syncer) Refresh() {
	s.tick()
}

// Snapshot returns the most recently published view.
func (s *Syncer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Syncer) loop() {
	defer s.wg.Done()

	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.ctx.Done():
			return
		}
	}
}

// tick launches one fetch in its own goroutine so that a slow request never
// holds up the next tick.
func (s *Syncer) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	seq := s.store.BeginFetch()
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		msgs, err := s.backend.ListMessages(s.ctx)
		s.apply(seq, msgs, err)
	}()
}

func (s *Syncer) apply(seq uint64, msgs []message.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if err != nil {
		s.logger.Warn("fetch messages failed, skipping tick", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	if seq < s.lastApplied {
		s.logger.Debug("discarding stale fetch", zap.Uint64("seq", seq), zap.Uint64("applied", s.lastApplied))
		return
	}

	s.lastApplied = seq
	s.syncedAt = s.now()
	s.store.ApplyFetch(seq, msgs)
	s.publishLocked()
}

// Send validates content, shows it optimistically and posts it. On failure
// the message stays visible as failed and the error is returned. The
// returned message is the stored local copy.
func (s *Syncer) Send(ctx context.Context, to message.Participant, content string) (message.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return message.Message{}, ErrEmptyMessage
	}
	if to.ID == s.self.ID {
		return message.Message{}, ErrSelfRecipient
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return message.Message{}, ErrStopped
	}
	local, err := s.store.Append(message.Message{
		SenderID:      s.self.ID,
		RecipientID:   to.ID,
		SenderName:    s.self.Name,
		RecipientName: to.Name,
		Content:       content,
	})
	if err != nil {
		s.mu.Unlock()
		return message.Message{}, err
	}
	s.publishLocked()
	s.mu.Unlock()

	saved, err := s.backend.SendMessage(ctx, to.ID, content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.store.MarkFailed(local.LocalID)
		local.Status = message.StatusFailed
		s.logger.Warn("send failed", zap.Int64("recipient_id", to.ID), zap.String("local_id", local.LocalID), zap.Error(err))
		if !s.stopped {
			s.publishLocked()
		}
		return local, fmt.Errorf("send message to %s: %w", to.DisplayName(), err)
	}

	if saved != nil && saved.ID != 0 {
		s.store.MarkSent(local.LocalID, saved.ID)
		local.ID = saved.ID
	}
	local.Status = message.StatusSent
	if !s.stopped {
		s.publishLocked()
	}
	return local, nil
}

// MarkRead flags messages as read locally and tells the server in the
// background. Failures are only logged.
func (s *Syncer) MarkRead(ids ...int64) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.store.SetRead(ids...) > 0 {
		s.publishLocked()
	}

	for _, id := range ids {
		s.wg.Add(1)
		go func(id int64) {
			defer s.wg.Done()
			if err := s.backend.MarkRead(s.ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("mark read failed", zap.Int64("message_id", id), zap.Error(err))
			}
		}(id)
	}
}

// publishLocked rebuilds the view from the store. Callers must hold s.mu.
func (s *Syncer) publishLocked() {
	s.view = s.buildView()
	if s.broker != nil {
		s.broker.Publish(s.view)
	}
}

func (s *Syncer) buildView() View {
	msgs := s.store.All()
	pending := 0
	for _, m := range msgs {
		if m.Local() {
			pending++
		}
	}
	return View{
		Conversations: message.BuildConversations(s.self.ID, msgs),
		Messages:      msgs,
		SyncedAt:      s.syncedAt,
		Pending:       pending,
	}
}
