package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BRKME/LP/internal/store"
)

type sentMessage struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type fakeTelegram struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[int64]bool
}

func (f *fakeTelegram) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottest-token/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var m sentMessage
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Errorf("decode: %v", err)
		}
		f.mu.Lock()
		f.sent = append(f.sent, m)
		fail := f.failOn[m.ChatID]
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}
}

type fakeRecipients struct {
	ids     []int64
	err     error
	added   map[int64]string
	removed []int64
}

func (f *fakeRecipients) AddRecipient(_ context.Context, chatID int64, username string) (bool, error) {
	if f.added == nil {
		f.added = map[int64]string{}
	}
	_, exists := f.added[chatID]
	f.added[chatID] = username
	return !exists, nil
}

func (f *fakeRecipients) RemoveRecipient(_ context.Context, chatID int64) error {
	if _, ok := f.added[chatID]; !ok {
		return store.ErrNotFound
	}
	delete(f.added, chatID)
	f.removed = append(f.removed, chatID)
	return nil
}

func (f *fakeRecipients) RecipientChatIDs(context.Context) ([]int64, error) { return f.ids, f.err }
func (f *fakeRecipients) CountRecipients(context.Context) (int, error)      { return len(f.added), nil }

func newTestBot(t *testing.T, tg *fakeTelegram, chats []int64, rs RecipientStore) *Bot {
	t.Helper()
	srv := httptest.NewServer(tg.handler(t))
	t.Cleanup(srv.Close)
	b := NewBot("test-token", chats, rs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.baseURL = srv.URL + "/bot"
	b.client = srv.Client()
	return b
}

func TestNotifySendsToStaticAndSubscribedChats(t *testing.T) {
	tg := &fakeTelegram{}
	b := newTestBot(t, tg, []int64{1, 2}, &fakeRecipients{ids: []int64{2, 3}})

	err := b.Notify(context.Background(), "<b>report</b>")

	require.NoError(t, err)
	require.Len(t, tg.sent, 3)
	var ids []int64
	for _, m := range tg.sent {
		ids = append(ids, m.ChatID)
		assert.Equal(t, "HTML", m.ParseMode)
		assert.True(t, m.DisableWebPagePreview)
		assert.Equal(t, "<b>report</b>", m.Text)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestNotifyJoinsFailures(t *testing.T) {
	tg := &fakeTelegram{failOn: map[int64]bool{2: true}}
	b := newTestBot(t, tg, []int64{1, 2, 3}, nil)

	err := b.Notify(context.Background(), "report")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 2")
	assert.Contains(t, err.Error(), "blocked")
	assert.Len(t, tg.sent, 3, "delivery continues after a failure")
}

func TestNotifyStoreFailureStillSendsStatic(t *testing.T) {
	tg := &fakeTelegram{}
	b := newTestBot(t, tg, []int64{7}, &fakeRecipients{err: errors.New("db down")})

	err := b.Notify(context.Background(), "report")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list recipients")
	require.Len(t, tg.sent, 1)
	assert.Equal(t, int64(7), tg.sent[0].ChatID)
}

func TestNotifyNoRecipients(t *testing.T) {
	tg := &fakeTelegram{}
	b := newTestBot(t, tg, nil, nil)

	assert.NoError(t, b.Notify(context.Background(), "report"))
	assert.Empty(t, tg.sent)
}

func TestNotifySplitsLongReports(t *testing.T) {
	tg := &fakeTelegram{}
	b := newTestBot(t, tg, []int64{1}, nil)

	section := strings.Repeat("x", 3000) + "\n\n"
	err := b.Notify(context.Background(), section+section)

	require.NoError(t, err)
	require.Len(t, tg.sent, 2)
	for _, m := range tg.sent {
		assert.LessOrEqual(t, len(m.Text), maxMessageLen)
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\n\nbbbb\n\ncccc", 8)
	assert.Equal(t, []string{"aaaa\n\n", "bbbb\n\n", "cccc"}, parts)

	long := strings.Repeat("y", 25)
	parts = splitMessage(long, 10)
	assert.Equal(t, strings.Join(parts, ""), long)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 10)
	}
}

func TestSplitMessageHardCuts(t *testing.T) {
	accented := strings.Repeat("é", 10)
	parts := splitMessage(accented, 5)
	assert.Equal(t, accented, strings.Join(parts, ""))
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p), "part %q splits a rune", p)
		assert.LessOrEqual(t, len(p), 5)
	}

	parts = splitMessage("aaaaaa<b>bold</b>", 8)
	assert.Equal(t, []string{"aaaaaa", "<b>bold", "</b>"}, parts)
}

func TestHandleCommands(t *testing.T) {
	tg := &fakeTelegram{}
	rs := &fakeRecipients{}
	b := newTestBot(t, tg, nil, rs)
	ctx := context.Background()

	b.handleCommand(ctx, 42, "alice", "/start")
	assert.Equal(t, map[int64]string{42: "alice"}, rs.added)
	assert.Contains(t, tg.sent[0].Text, "Subscribed")

	b.handleCommand(ctx, 42, "alice", "/start@PoolScoutBot")
	assert.Contains(t, tg.sent[1].Text, "already subscribed")

	b.handleCommand(ctx, 42, "alice", "/stop")
	assert.Equal(t, []int64{42}, rs.removed)
	assert.Contains(t, tg.sent[2].Text, "Unsubscribed")

	b.handleCommand(ctx, 42, "alice", "/stop")
	assert.Contains(t, tg.sent[3].Text, "not subscribed")

	b.handleCommand(ctx, 42, "alice", "/help")
	assert.Contains(t, tg.sent[4].Text, "/start")

	b.handleCommand(ctx, 42, "alice", "hello")
	assert.Contains(t, tg.sent[5].Text, "Unknown command")
}

func TestHandleStartWithoutStore(t *testing.T) {
	tg := &fakeTelegram{}
	b := newTestBot(t, tg, nil, nil)

	b.handleCommand(context.Background(), 1, "bob", "/start")

	require.Len(t, tg.sent, 1)
	assert.Contains(t, tg.sent[0].Text, "not available")
}
