package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/notifier"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/poller"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/storage"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/transport"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeAdapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no messages sent")
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeAdapter) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

// upstreamStub answers the status probe and the queue lookup the add-address
// flow performs.
func upstreamStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/info_disable":
			fmt.Fprint(w, `{"status":"ok","aData":[]}`)
		case "/api/queue_info":
			fmt.Fprint(w, `{"status":"ok","street":"вул. Рокоссовського, 45","queues":"3.1"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, baseURL string) (*App, *fakeAdapter, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "app.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fa := &fakeAdapter{}
	client := svitlo.New(svitlo.Config{BaseURL: baseURL}, logx.Nop())
	notify := notifier.New(fa, 0, logx.Nop())
	poll := poller.New(st, client, notify, poller.Config{HourlyBudget: 5}, logx.Nop())

	return &App{
		log:         logx.Nop(),
		adapter:     fa,
		store:       st,
		client:      client,
		notify:      notify,
		poll:        poll,
		pending:     newPendingInput(),
		maxSubs:     5,
		defaultIval: 30,
	}, fa, st
}

func TestAddAddressPerUserCeiling(t *testing.T) {
	ctx := context.Background()
	srv := upstreamStub(t)
	a, fa, st := newTestApp(t, srv.URL)

	const chat = int64(7)
	if err := st.UpsertUser(ctx, storage.User{ChatID: chat, Username: "iryna"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	// this user gets a single slot even though the config default allows 5
	if ok, err := st.SetUserMaxSubscriptions(ctx, chat, 1); err != nil || !ok {
		t.Fatalf("SetUserMaxSubscriptions = %v, %v", ok, err)
	}

	add := func(account string) {
		t.Helper()
		a.pending.set(chat)
		a.handleMessage(ctx, &transport.Message{ChatID: chat, Text: account})
	}

	add("45000001")
	if got := fa.lastText(t); !strings.Contains(got, "Збережено") {
		t.Fatalf("first add reply = %q", got)
	}
	if n, _ := st.CountSubscriptions(ctx, chat); n != 1 {
		t.Fatalf("subscriptions after first add = %d", n)
	}

	add("45000002")
	if got := fa.lastText(t); !strings.Contains(got, "Досягнуто ліміту") {
		t.Fatalf("over-ceiling reply = %q", got)
	}
	if n, _ := st.CountSubscriptions(ctx, chat); n != 1 {
		t.Fatalf("subscriptions after denied add = %d, want still 1", n)
	}

	// raising the stored allowance takes effect immediately
	if ok, err := st.SetUserMaxSubscriptions(ctx, chat, 2); err != nil || !ok {
		t.Fatalf("raise allowance = %v, %v", ok, err)
	}
	add("45000002")
	if n, _ := st.CountSubscriptions(ctx, chat); n != 2 {
		t.Fatalf("subscriptions after raised allowance = %d, want 2", n)
	}
}

func TestCallbackSubActionValidation(t *testing.T) {
	ctx := context.Background()
	srv := upstreamStub(t)
	a, fa, st := newTestApp(t, srv.URL)

	id, err := st.AddSubscription(ctx, storage.Subscription{
		ChatID: 1, Account: "45000001", Street: "вул. Рокоссовського, 45",
		QueueCode: "3.1", Enabled: true, PollIntervalMinutes: 30,
	})
	if err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	// non-numeric id never reaches the store
	a.handleCallback(ctx, &transport.Callback{ID: "cb1", ChatID: 1, Data: "toggle:abc"})
	if got := fa.lastAnswer(); got != "Не знайдено" {
		t.Fatalf("malformed id answer = %q", got)
	}

	// another chat cannot act on someone else's subscription
	a.handleCallback(ctx, &transport.Callback{ID: "cb2", ChatID: 2, Data: fmt.Sprintf("toggle:%d", id)})
	sub, err := st.GetSubscription(ctx, id)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if !sub.Enabled {
		t.Fatal("foreign chat toggled the subscription")
	}

	// the owner can
	a.handleCallback(ctx, &transport.Callback{ID: "cb3", ChatID: 1, Data: fmt.Sprintf("toggle:%d", id)})
	sub, err = st.GetSubscription(ctx, id)
	if err != nil {
		t.Fatalf("GetSubscription after toggle: %v", err)
	}
	if sub.Enabled {
		t.Fatal("owner toggle had no effect")
	}
}
