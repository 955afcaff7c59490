package message

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultConfirmSkew bounds how far a server timestamp may precede the local
// send time and still be taken as the echo of an in-flight send.
const DefaultConfirmSkew = 2 * time.Minute

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used to stamp optimistic sends.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithConfirmSkew overrides DefaultConfirmSkew.
func WithConfirmSkew(d time.Duration) StoreOption {
	return func(s *Store) { s.confirmSkew = d }
}

// WithLocalIDs overrides the generator for optimistic message ids.
func WithLocalIDs(next func() string) StoreOption {
	return func(s *Store) { s.newLocalID = next }
}

// Store is the local cache of every message visible to the current user.
//
// Server batches replace the confirmed contents wholesale, while messages
// sent from this client survive until the server lists them. A local entry
// is subsumed when the batch carries its assigned server id, or, while the
// send is still in flight, when a batch fetched after the send started holds
// a not previously seen message from the current user with the same
// recipient and content and a timestamp within the confirm skew. The content
// match needs a batch applied before the send as its baseline; without one
// an older identical message cannot be told apart from the echo.
type Store struct {
	mu sync.RWMutex

	self        int64
	now         func() time.Time
	newLocalID  func() string
	confirmSkew time.Duration

	messages []Message // ascending by Timestamp

	gen       uint64            // incremented on every applied batch
	firstSeen map[int64]uint64  // server id -> fetch token of the first batch holding it
	appendGen map[string]uint64 // local id -> generation current at Append

	fetches     uint64            // last token handed out by BeginFetch
	appendFetch map[string]uint64 // local id -> last fetch begun before Append
}

// NewStore creates an empty store for the user identified by self.
func NewStore(self int64, opts ...StoreOption) *Store {
	s := &Store{
		self:        self,
		now:         time.Now,
		newLocalID:  uuid.NewString,
		confirmSkew: DefaultConfirmSkew,
		firstSeen:   make(map[int64]uint64),
		appendGen:   make(map[string]uint64),
		appendFetch: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Self returns the id of the user this store belongs to.
func (s *Store) Self() int64 {
	return s.self
}

// BeginFetch returns a token for a server list request that is about to
// start. Pass it to ApplyFetch with the response.
func (s *Store) BeginFetch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.fetches
}

// ReplaceFromServer applies a batch fetched just now. It is ApplyFetch with
// a fresh token.
func (s *Store) ReplaceFromServer(batch []Message) {
	s.ApplyFetch(s.BeginFetch(), batch)
}

// ApplyFetch makes batch the store's confirmed contents, keeping any local
// send the batch does not account for yet. fetch is the BeginFetch token of
// the request that produced batch.
func (s *Store) ApplyFetch(fetch uint64, batch []Message) {
	server := make([]Message, len(batch))
	for i, m := range batch {
		m.LocalID = ""
		m.Status = StatusConfirmed
		server[i] = m
	}
	sort.SliceStable(server, func(i, j int) bool {
		return server[i].Timestamp.Before(server[j].Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	for _, m := range server {
		if m.ID == 0 {
			continue
		}
		if _, ok := s.firstSeen[m.ID]; !ok {
			s.firstSeen[m.ID] = fetch
		}
	}

	retained := s.unaccounted(fetch, server)
	s.messages = mergeByTimestamp(server, retained)
}

// unaccounted returns the local entries that no server message subsumes.
// Callers must hold s.mu.
func (s *Store) unaccounted(fetch uint64, server []Message) []Message {
	byID := make(map[int64]int, len(server))
	for i, m := range server {
		if m.ID != 0 {
			byID[m.ID] = i
		}
	}
	claimed := make([]bool, len(server))

	// Id matches first so the content fallback cannot steal them.
	var locals []Message
	for _, m := range s.messages {
		if !m.Local() {
			continue
		}
		if m.ID != 0 {
			if i, ok := byID[m.ID]; ok {
				claimed[i] = true
				s.forget(m.LocalID)
				continue
			}
		}
		locals = append(locals, m)
	}

	retained := make([]Message, 0, len(locals))
	for _, m := range locals {
		if m.Status == StatusPending {
			if i := s.echoOf(fetch, m, server, claimed); i >= 0 {
				claimed[i] = true
				s.forget(m.LocalID)
				continue
			}
		}
		retained = append(retained, m)
	}
	return retained
}

// echoOf finds the server copy of an in-flight local send, or -1.
func (s *Store) echoOf(fetch uint64, local Message, server []Message, claimed []bool) int {
	if s.appendGen[local.LocalID] == 0 || fetch <= s.appendFetch[local.LocalID] {
		return -1
	}
	since := s.appendFetch[local.LocalID]
	earliest := local.Timestamp.Add(-s.confirmSkew)
	content := strings.TrimSpace(local.Content)

	for i, m := range server {
		if claimed[i] || m.ID == 0 {
			continue
		}
		if m.SenderID != local.SenderID || m.RecipientID != local.RecipientID {
			continue
		}
		if s.firstSeen[m.ID] <= since {
			continue
		}
		if m.Timestamp.Before(earliest) {
			continue
		}
		if strings.TrimSpace(m.Content) != content {
			continue
		}
		return i
	}
	return -1
}

// Append inserts an optimistic local send and returns the stored copy.
// The message gets a local id and, when unset, the current time as its
// ordering key.
func (s *Store) Append(m Message) (Message, error) {
	if err := m.Validate(s.self); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.LocalID == "" {
		m.LocalID = s.newLocalID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.ID = 0
	m.Status = StatusPending

	at := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Timestamp.After(m.Timestamp)
	})
	s.messages = append(s.messages, Message{})
	copy(s.messages[at+1:], s.messages[at:])
	s.messages[at] = m

	s.appendGen[m.LocalID] = s.gen
	s.appendFetch[m.LocalID] = s.fetches
	return m, nil
}

// MarkSent records the server id assigned to an in-flight local send. The
// server copy itself is not spliced in; a later ReplaceFromServer subsumes
// the entry. If the server copy is already present the local entry is
// dropped right away.
func (s *Store) MarkSent(localID string, serverID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocal(localID)
	if idx < 0 || s.messages[idx].Status != StatusPending {
		return false
	}

	for _, m := range s.messages {
		if m.Status == StatusConfirmed && m.ID == serverID {
			s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
			s.forget(localID)
			return true
		}
	}

	s.messages[idx].ID = serverID
	s.messages[idx].Status = StatusSent
	return true
}

// MarkFailed flags an in-flight local send as failed. The entry stays
// visible.
func (s *Store) MarkFailed(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocal(localID)
	if idx < 0 || s.messages[idx].Status != StatusPending {
		return false
	}
	s.messages[idx].Status = StatusFailed
	s.forget(localID)
	return true
}

func (s *Store) forget(localID string) {
	delete(s.appendGen, localID)
	delete(s.appendFetch, localID)
}

func (s *Store) indexOfLocal(localID string) int {
	if localID == "" {
		return -1
	}
	for i, m := range s.messages {
		if m.Local() && m.LocalID == localID {
			return i
		}
	}
	return -1
}

// SetRead flags confirmed messages as read ahead of the next server batch.
// It returns how many messages changed.
func (s *Store) SetRead(ids ...int64) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.Status == StatusConfirmed && want[m.ID] && !m.Read {
			m.Read = true
			n++
		}
	}
	return n
}

// All returns a copy of the merged contents in ascending timestamp order.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pending returns the local sends that the server has not listed yet,
// including failed ones.
func (s *Store) Pending() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.messages {
		if m.Local() {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of messages in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reset discards every message, e.g. on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.gen = 0
	s.firstSeen = make(map[int64]uint64)
	s.appendGen = make(map[string]uint64)
	s.appendFetch = make(map[string]uint64)
}

// mergeByTimestamp merges two ascending slices. On equal timestamps server
// messages come first and each side keeps its own order.
func mergeByTimestamp(server, local []Message) []Message {
	out := make([]Message, 0, len(server)+len(local))
	i, j := 0, 0
	for i < len(server) && j < len(local) {
		if local[j].Timestamp.Before(server[i].Timestamp) {
			out = append(out, local[j])
			j++
			continue
		}
		out = append(out, server[i])
		i++
	}
	out = append(out, server[i:]...)
	out = append(out, local[j:]...)
	return out
}
