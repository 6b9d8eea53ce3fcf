package chatlog_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/chatlog"
	"github.com/nhle/chatsync/internal/model"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func echoSender(ids ...string) chatlog.Sender {
	return func(_ context.Context, text string) (*api.ChatReply, error) {
		r := &api.ChatReply{
			Assistant: "reply to " + text,
			Judge:     model.Verdict{Kind: model.VerdictPass, Reason: "fine"},
		}
		if len(ids) == 2 {
			r.UserMessageID, r.AssistantMessageID = ids[0], ids[1]
		}
		return r, nil
	}
}

func TestAppend_ProvisionalVisibleBeforeSend(t *testing.T) {
	var b *chatlog.Buffer
	var observed []model.Message
	b = chatlog.New(
		chatlog.WithIDGenerator(sequentialIDs()),
		chatlog.WithOnChange(func() {
			if observed == nil {
				observed = b.Messages()
			}
		}),
	)

	send := func(_ context.Context, text string) (*api.ChatReply, error) {
		msgs := b.Messages()
		require.Len(t, msgs, 1)
		last := msgs[len(msgs)-1]
		assert.True(t, last.Provisional)
		assert.Equal(t, "hi there", last.Content)
		assert.Equal(t, model.RoleUser, last.Role)
		assert.True(t, b.Pending())
		return echoSender("u1", "a1")(context.Background(), text)
	}

	_, err := b.Append(context.Background(), "hi there", send)
	require.NoError(t, err)

	require.Len(t, observed, 1, "observer must see the provisional entry first")
	assert.True(t, observed[0].Provisional)
}

func TestAppend_ResolvesToConfirmedPair(t *testing.T) {
	b := chatlog.New(chatlog.WithIDGenerator(sequentialIDs()), chatlog.WithClock(fixedClock()))

	reply, err := b.Append(context.Background(), "hello", echoSender("u1", "a1"))
	require.NoError(t, err)
	assert.Equal(t, "reply to hello", reply.Assistant)

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.False(t, m.Provisional)
	}
	assert.Equal(t, model.Message{ID: "u1", Role: model.RoleUser, Content: "hello", CreatedAt: fixedClock()()}, msgs[0])
	assert.Equal(t, "a1", msgs[1].ID)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "reply to hello", msgs[1].Content)

	v, ok := b.Verdict("a1")
	require.True(t, ok)
	assert.Equal(t, model.VerdictPass, v.Kind)
	assert.False(t, b.Pending())
	assert.Equal(t, 1, b.ConfirmedPairs())

	_, ok = b.Message("local-1")
	assert.False(t, ok, "provisional id must not survive resolution")
}

func TestAppend_FailureRollsBack(t *testing.T) {
	b := chatlog.New(chatlog.WithIDGenerator(sequentialIDs()))
	_, err := b.Append(context.Background(), "first", echoSender("u1", "a1"))
	require.NoError(t, err)

	before := b.Messages()
	verdictsBefore := b.Verdicts()
	sendErr := errors.New("connection refused")

	_, err = b.Append(context.Background(), "second", func(context.Context, string) (*api.ChatReply, error) {
		return nil, sendErr
	})
	require.ErrorIs(t, err, sendErr)

	if diff := cmp.Diff(before, b.Messages()); diff != "" {
		t.Fatalf("log changed after failed send (-before +after):\n%s", diff)
	}
	assert.Equal(t, verdictsBefore, b.Verdicts())
	assert.False(t, b.Pending())
	assert.Equal(t, 1, b.ConfirmedPairs())
}

func TestAppend_FailureOnEmptyLogLeavesItEmpty(t *testing.T) {
	b := chatlog.New()
	_, err := b.Append(context.Background(), "hello", func(context.Context, string) (*api.ChatReply, error) {
		return nil, errors.New("transport error")
	})
	require.Error(t, err)
	assert.Empty(t, b.Messages())
}

func TestAppend_RejectsConcurrentSend(t *testing.T) {
	b := chatlog.New()
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := b.Append(context.Background(), "slow", func(ctx context.Context, text string) (*api.ChatReply, error) {
			close(started)
			<-release
			return echoSender()(ctx, text)
		})
		assert.NoError(t, err)
	}()

	<-started
	_, err := b.Append(context.Background(), "second", echoSender())
	assert.ErrorIs(t, err, chatlog.ErrSendInFlight)

	close(release)
	wg.Wait()

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "slow", msgs[0].Content)
}

func TestAppend_RejectsBlankText(t *testing.T) {
	b := chatlog.New()
	called := false
	_, err := b.Append(context.Background(), "   ", func(context.Context, string) (*api.ChatReply, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, chatlog.ErrEmptyMessage)
	assert.False(t, called)
	assert.Zero(t, b.Len())
}

func TestAppend_GeneratesVerdictKeyWithoutServerIDs(t *testing.T) {
	b := chatlog.New()
	for i := 0; i < 3; i++ {
		_, err := b.Append(context.Background(), fmt.Sprintf("msg %d", i), echoSender())
		require.NoError(t, err)
	}

	assert.Len(t, b.Verdicts(), 3, "each assistant reply gets its own verdict key")
	for _, m := range b.Messages() {
		if m.Role != model.RoleAssistant {
			continue
		}
		_, ok := b.Verdict(m.ID)
		assert.True(t, ok)
	}
}

func TestLoad_MergesHistoryAheadOfLocalEntries(t *testing.T) {
	b := chatlog.New()
	_, err := b.Append(context.Background(), "new question", echoSender("u9", "a9"))
	require.NoError(t, err)

	history := []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "hey"},
		{ID: "m2", Role: model.RoleAssistant, Content: "hello", Provisional: true},
		{ID: "m2", Role: model.RoleAssistant, Content: "duplicate"},
		{ID: "u9", Role: model.RoleUser, Content: "server copy"},
	}
	b.Load(history)

	msgs := b.Messages()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"m1", "m2", "u9", "a9"}, ids)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.False(t, msgs[1].Provisional)
	assert.Equal(t, "new question", msgs[2].Content, "local confirmed entry is not overwritten")

	v, ok := b.Verdict("a9")
	require.True(t, ok)
	assert.Equal(t, model.VerdictPass, v.Kind)
	got, ok := b.Message("a9")
	require.True(t, ok)
	assert.Equal(t, "reply to new question", got.Content)
}

func TestLoad_WhileSendPending(t *testing.T) {
	b := chatlog.New(chatlog.WithIDGenerator(sequentialIDs()))
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := b.Append(context.Background(), "slow", func(ctx context.Context, text string) (*api.ChatReply, error) {
			close(started)
			<-release
			return echoSender("u1", "a1")(ctx, text)
		})
		assert.NoError(t, err)
	}()

	<-started
	b.Load([]model.Message{{ID: "m1", Role: model.RoleUser, Content: "earlier"}})
	require.True(t, b.Pending())

	close(release)
	<-done

	msgs := b.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "u1", msgs[1].ID)
	assert.Equal(t, "a1", msgs[2].ID)
	for _, m := range msgs {
		assert.False(t, m.Provisional)
	}
}
