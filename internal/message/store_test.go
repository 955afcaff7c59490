package message

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// newTestStore returns a store for user 1 whose clock is fixed at now and
// whose local ids are local-1, local-2, ...
func newTestStore(now time.Time) *Store {
	n := 0
	return NewStore(1,
		WithClock(func() time.Time { return now }),
		WithLocalIDs(func() string { n++; return fmt.Sprintf("local-%d", n) }),
	)
}

func serverMsg(id, from, to int64, content string, ts time.Time) Message {
	return Message{ID: id, SenderID: from, RecipientID: to, Content: content, Timestamp: ts}
}

func TestAppendIsVisibleImmediately(t *testing.T) {
	s := newTestStore(at(5))

	got, err := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got.LocalID != "local-1" || got.Status != StatusPending || got.ID != 0 {
		t.Fatalf("unexpected stored copy: %+v", got)
	}
	if !got.Timestamp.Equal(at(5)) {
		t.Fatalf("expected clock timestamp, got %v", got.Timestamp)
	}

	all := s.All()
	if len(all) != 1 || all[0].LocalID != "local-1" {
		t.Fatalf("expected the appended message in All, got %+v", all)
	}
}

func TestAppendRejectsInvalidMessages(t *testing.T) {
	s := newTestStore(at(0))

	cases := []struct {
		msg  Message
		want error
	}{
		{Message{SenderID: 1, RecipientID: 2, Content: "   "}, ErrEmptyContent},
		{Message{SenderID: 1, RecipientID: 1, Content: "hi"}, ErrSelfMessage},
		{Message{SenderID: 3, RecipientID: 2, Content: "hi"}, ErrNotParticipant},
	}
	for _, c := range cases {
		if _, err := s.Append(c.msg); !errors.Is(err, c.want) {
			t.Fatalf("Append(%+v): expected %v, got %v", c.msg, c.want, err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("rejected messages must not be stored, have %d", s.Len())
	}
}

func TestAppendCreatesConversation(t *testing.T) {
	s := newTestStore(at(0))
	if _, err := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	convs := BuildConversations(1, s.All())
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].Counterpart.ID != 2 || len(convs[0].Messages) != 1 {
		t.Fatalf("unexpected conversation: %+v", convs[0])
	}
}

func TestEmptyBatchKeepsOptimisticSend(t *testing.T) {
	s := newTestStore(at(0))
	sent, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})

	s.ReplaceFromServer(nil)

	all := s.All()
	if len(all) != 1 || all[0].LocalID != sent.LocalID {
		t.Fatalf("optimistic message lost: %+v", all)
	}
}

func TestReplaceIsIdempotent(t *testing.T) {
	s := newTestStore(at(100))
	batch := []Message{
		serverMsg(1, 2, 1, "hello", at(10)),
		serverMsg(2, 1, 2, "hey", at(20)),
	}
	s.Append(Message{SenderID: 1, RecipientID: 3, Content: "pending"})

	s.ReplaceFromServer(batch)
	first := s.All()
	s.ReplaceFromServer(batch)
	second := s.All()

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 messages both times, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replace changed output at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestNoLossAcrossUnrelatedBatches(t *testing.T) {
	s := newTestStore(at(50))
	a, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "one"})
	s.MarkFailed(a.LocalID)
	b, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "two"})

	s.ReplaceFromServer([]Message{serverMsg(7, 2, 1, "unrelated", at(10))})
	s.ReplaceFromServer([]Message{serverMsg(7, 2, 1, "unrelated", at(10)), serverMsg(8, 3, 1, "x", at(20))})

	have := map[string]bool{}
	for _, m := range s.All() {
		have[m.LocalID] = true
	}
	if !have[a.LocalID] || !have[b.LocalID] {
		t.Fatalf("local sends lost: %+v", s.All())
	}
}

func TestSubsumptionByAssignedID(t *testing.T) {
	s := newTestStore(at(30))
	m, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	if !s.MarkSent(m.LocalID, 99) {
		t.Fatalf("MarkSent returned false")
	}
	if p := s.Pending(); len(p) != 1 || p[0].Status != StatusSent || p[0].ID != 99 {
		t.Fatalf("expected one sent entry with id 99, got %+v", p)
	}

	// Server assigned a different timestamp than the client guessed.
	s.ReplaceFromServer([]Message{serverMsg(99, 1, 2, "hi", at(31))})

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one copy, got %+v", all)
	}
	if all[0].ID != 99 || all[0].Status != StatusConfirmed || all[0].LocalID != "" {
		t.Fatalf("expected confirmed server copy, got %+v", all[0])
	}
}

func TestMarkSentDropsLocalWhenServerCopyAlreadyPresent(t *testing.T) {
	s := NewStore(1, WithClock(func() time.Time { return at(30) }), WithConfirmSkew(0))
	m, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	// A tick raced ahead of the send response. The server clock is behind,
	// so the listed copy falls outside the skew and is not matched by content.
	s.ReplaceFromServer([]Message{serverMsg(99, 1, 2, "hi", at(29))})
	if s.Len() != 2 {
		t.Fatalf("expected server copy and local entry side by side, got %+v", s.All())
	}

	if !s.MarkSent(m.LocalID, 99) {
		t.Fatalf("MarkSent returned false")
	}
	if got := s.All(); len(got) != 1 || got[0].ID != 99 || got[0].Local() {
		t.Fatalf("expected only the server copy, got %+v", got)
	}
}

func TestContentFallbackConfirmsInFlightSend(t *testing.T) {
	s := newTestStore(at(60))
	s.ReplaceFromServer([]Message{serverMsg(1, 2, 1, "hello", at(10))})
	s.Append(Message{SenderID: 1, RecipientID: 2, Content: "reply "})

	// The list reflects the send before its response arrived.
	s.ReplaceFromServer([]Message{
		serverMsg(1, 2, 1, "hello", at(10)),
		serverMsg(2, 1, 2, "reply", at(61)),
	})

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected the echo to subsume the pending send, got %+v", all)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("expected nothing pending, got %+v", s.Pending())
	}
}

func TestContentFallbackIgnoresPreviouslySeenMessages(t *testing.T) {
	s := newTestStore(at(60))
	old := serverMsg(1, 1, 2, "ok", at(59))
	s.ReplaceFromServer([]Message{old})

	// Same text again; the older identical message must not hide it.
	sent, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "ok"})
	s.ReplaceFromServer([]Message{old})

	if p := s.Pending(); len(p) != 1 || p[0].LocalID != sent.LocalID {
		t.Fatalf("expected the new send to stay pending, got %+v", p)
	}
}

func TestContentFallbackRespectsSkew(t *testing.T) {
	s := NewStore(1, WithClock(func() time.Time { return at(600) }), WithConfirmSkew(time.Minute))
	s.ReplaceFromServer(nil)
	s.Append(Message{SenderID: 1, RecipientID: 2, Content: "late"})

	s.ReplaceFromServer([]Message{serverMsg(5, 1, 2, "late", at(600-120))})

	if len(s.Pending()) != 1 || s.Len() != 2 {
		t.Fatalf("server copy outside the skew must not confirm the send: %+v", s.All())
	}
}

func TestFirstBatchCannotClaimSendByContent(t *testing.T) {
	s := newTestStore(at(100))
	sent, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "ok"})

	// Nothing was fetched before the send, so this older identical message
	// cannot be told apart from an echo.
	s.ReplaceFromServer([]Message{serverMsg(5, 1, 2, "ok", at(40))})

	if p := s.Pending(); len(p) != 1 || p[0].LocalID != sent.LocalID {
		t.Fatalf("expected the send to stay pending, got %+v", s.All())
	}
	if !s.MarkFailed(sent.LocalID) {
		t.Fatalf("MarkFailed should find the pending send")
	}
	if p := s.Pending(); len(p) != 1 || p[0].Status != StatusFailed || s.Len() != 2 {
		t.Fatalf("failed send must stay visible next to the old message, got %+v", s.All())
	}
}

func TestFetchStartedBeforeSendCannotClaimIt(t *testing.T) {
	s := newTestStore(at(100))
	s.ReplaceFromServer(nil)

	fetch := s.BeginFetch()
	sent, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "ok"})
	// Same text sent from another device while the request was in flight.
	s.ApplyFetch(fetch, []Message{serverMsg(5, 1, 2, "ok", at(99))})

	if p := s.Pending(); len(p) != 1 || p[0].LocalID != sent.LocalID {
		t.Fatalf("expected the send to stay pending, got %+v", s.All())
	}

	// A fetch begun after the send may confirm it.
	s.ApplyFetch(s.BeginFetch(), []Message{
		serverMsg(5, 1, 2, "ok", at(99)),
		serverMsg(6, 1, 2, "ok", at(100)),
	})
	if len(s.Pending()) != 0 || s.Len() != 2 {
		t.Fatalf("expected the new echo to confirm the send, got %+v", s.All())
	}
}

func TestContentFallbackSkipsFailedSends(t *testing.T) {
	s := newTestStore(at(10))
	m, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "retry me"})
	s.MarkFailed(m.LocalID)

	s.ReplaceFromServer([]Message{serverMsg(3, 1, 2, "retry me", at(11))})

	if p := s.Pending(); len(p) != 1 || p[0].Status != StatusFailed {
		t.Fatalf("failed send must be retained, got %+v", p)
	}
}

func TestEachServerMessageClaimsOneLocal(t *testing.T) {
	s := newTestStore(at(10))
	s.ReplaceFromServer(nil)
	s.Append(Message{SenderID: 1, RecipientID: 2, Content: "same"})
	s.Append(Message{SenderID: 1, RecipientID: 2, Content: "same"})

	s.ReplaceFromServer([]Message{serverMsg(4, 1, 2, "same", at(10))})

	if s.Len() != 2 || len(s.Pending()) != 1 {
		t.Fatalf("expected one confirmed and one pending, got %+v", s.All())
	}
}

func TestStatusTransitionsOnlyFromPending(t *testing.T) {
	s := newTestStore(at(0))
	m, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})

	if !s.MarkFailed(m.LocalID) {
		t.Fatalf("MarkFailed on pending should succeed")
	}
	if s.MarkSent(m.LocalID, 5) {
		t.Fatalf("MarkSent on failed entry should be refused")
	}
	if s.MarkFailed(m.LocalID) {
		t.Fatalf("second MarkFailed should be refused")
	}
	if s.MarkSent("nope", 1) || s.MarkFailed("") {
		t.Fatalf("unknown local ids should be refused")
	}
}

func TestAllIsOrderedWithServerFirstOnTies(t *testing.T) {
	s := newTestStore(at(20))
	local, _ := s.Append(Message{SenderID: 1, RecipientID: 2, Content: "mine"})

	s.ReplaceFromServer([]Message{
		serverMsg(3, 2, 1, "later", at(30)),
		serverMsg(2, 2, 1, "tie", at(20)),
		serverMsg(1, 2, 1, "early", at(10)),
	})

	all := s.All()
	want := []string{"early", "tie", "mine", "later"}
	if len(all) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), all)
	}
	for i, content := range want {
		if all[i].Content != content {
			t.Fatalf("position %d: expected %q, got %q", i, content, all[i].Content)
		}
	}
	if all[2].LocalID != local.LocalID {
		t.Fatalf("expected local entry after the tied server message")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	s := newTestStore(at(0))
	s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})

	snap := s.All()
	snap[0].Content = "mutated"

	if s.All()[0].Content != "hi" {
		t.Fatalf("mutating a snapshot changed the store")
	}
}

func TestResetEmptiesStore(t *testing.T) {
	s := newTestStore(at(0))
	s.Append(Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	s.ReplaceFromServer([]Message{serverMsg(1, 2, 1, "yo", at(1))})

	s.Reset()

	if s.Len() != 0 || len(s.Pending()) != 0 {
		t.Fatalf("expected empty store after Reset, got %+v", s.All())
	}
}

func TestSetReadOnlyTouchesConfirmed(t *testing.T) {
	s := newTestStore(at(0))
	s.ReplaceFromServer([]Message{serverMsg(1, 2, 1, "a", at(1)), serverMsg(2, 2, 1, "b", at(2))})

	if n := s.SetRead(1, 1, 42); n != 1 {
		t.Fatalf("expected 1 change, got %d", n)
	}
	all := s.All()
	if !all[0].Read || all[1].Read {
		t.Fatalf("unexpected read flags: %+v", all)
	}
}
