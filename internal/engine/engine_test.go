package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/livia/internal/admission"
	"github.com/quailyquaily/livia/internal/dedup"
	"github.com/quailyquaily/livia/internal/dispatch"
	"github.com/quailyquaily/livia/internal/history"
	"github.com/quailyquaily/livia/internal/inbound"
	"github.com/quailyquaily/livia/internal/promptprofile"
	"github.com/quailyquaily/livia/internal/taskstore"
	"github.com/quailyquaily/livia/internal/usagelog"
	"github.com/quailyquaily/livia/llm"
)

type sentMessage struct {
	channel, thread, text, ts string
}

type fakeGateway struct {
	mu      sync.Mutex
	posts   []sentMessage
	deleted []string
	thread  []history.ThreadMessage
	replies chan sentMessage
	n       int
	botErrs int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{replies: make(chan sentMessage, 16)}
}

func (g *fakeGateway) PostMessage(_ context.Context, channelID, threadTS, text string) (string, error) {
	g.mu.Lock()
	g.n++
	m := sentMessage{channel: channelID, thread: threadTS, text: text, ts: fmt.Sprintf("8.%06d", g.n)}
	g.posts = append(g.posts, m)
	g.mu.Unlock()
	if text != promptprofile.DefaultPlaceholder {
		g.replies <- m
	}
	return m.ts, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, _, ts string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, ts)
	return nil
}

func (g *fakeGateway) ThreadMessages(context.Context, string, string) ([]history.ThreadMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]history.ThreadMessage(nil), g.thread...), nil
}

func (g *fakeGateway) ThreadRootText(context.Context, string, string) (string, error) {
	return "", nil
}

func (g *fakeGateway) UserName(context.Context, string) string { return "Ana Silva" }

func (g *fakeGateway) ConversationName(_ context.Context, id string) string {
	if strings.HasPrefix(id, "D") {
		return "Direct Message"
	}
	return "general"
}

func (g *fakeGateway) BotUserID(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.botErrs > 0 {
		g.botErrs--
		return "", errors.New("auth.test: service unavailable")
	}
	return "UBOT", nil
}

type fakeLLM struct {
	mu    sync.Mutex
	reqs  []llm.Request
	gate  chan struct{}
	reply string
}

func (c *fakeLLM) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return llm.Result{}, ctx.Err()
		}
	}
	return llm.Result{Text: c.reply}, nil
}

func (c *fakeLLM) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

type harness struct {
	engine *Engine
	gw     *fakeGateway
	llm    *fakeLLM
	table  *dedup.MemoryTable
	csv    string
}

func newHarness(t *testing.T, allowed map[string]bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := newFakeGateway()
	model := &fakeLLM{reply: "**Hello** Ana"}
	table := dedup.NewMemoryTable(dedup.DefaultCooldown, nil)
	csvPath := filepath.Join(t.TempDir(), "usage.csv")
	sink, err := usagelog.NewCSVSink(csvPath)
	if err != nil {
		t.Fatalf("NewCSVSink() error = %v", err)
	}
	e, err := New(Options{
		Gateway: gw,
		Filter:  admission.NewFilter(admission.Options{Roots: gw, Logger: logger}),
		Dedup:   table,
		History: history.NewBuilder(gw),
		Dispatcher: dispatch.New(dispatch.Options{
			Poster:    gw,
			Completer: model,
			Dedup:     table,
			Logger:    logger,
		}),
		Usage:           usagelog.NewRecorder(sink, logger),
		PollTimeout:     10 * time.Millisecond,
		AllowedChannels: allowed,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{engine: e, gw: gw, llm: model, table: table, csv: csvPath}
}

func freshTS(n int) string {
	return fmt.Sprintf("%d.%06d", time.Now().Unix(), n)
}

func directEnvelope(ts, text string) inbound.Envelope {
	return inbound.Envelope{
		EnvelopeID: "env-" + ts,
		Type:       "events_api",
		Payload: []byte(`{"team_id":"T1","event":{"type":"message","channel":"D1","channel_type":"im",` +
			`"user":"U1","text":"` + text + `","ts":"` + ts + `"}}`),
	}
}

func TestDirectMessageGetsReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	ts := freshTS(1)
	if err := h.engine.HandleEnvelope(directEnvelope(ts, "hi there")); err != nil {
		t.Fatalf("HandleEnvelope() error = %v", err)
	}

	var reply sentMessage
	select {
	case reply = <-h.gw.replies:
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply posted")
	}
	if reply.text != "Hello Ana" || reply.channel != "D1" || reply.thread != ts {
		t.Fatalf("reply = %+v", reply)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	h.gw.mu.Lock()
	deleted := append([]string(nil), h.gw.deleted...)
	h.gw.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "8.000001" {
		t.Fatalf("deleted = %v, want the placeholder", deleted)
	}
	if h.table.Len() != 0 {
		t.Fatalf("dedup entries = %d, want 0 after release", h.table.Len())
	}

	req := h.llm.reqs[0]
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[len(req.Messages)-1].Content != "hi there" {
		t.Fatalf("request messages = %+v", req.Messages)
	}

	items := h.engine.Tasks().List("", 10)
	if len(items) != 1 || items[0].Status != taskstore.TaskDone || items[0].Attempts != 1 {
		t.Fatalf("tasks = %+v", items)
	}

	raw, err := os.ReadFile(h.csv)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(raw), "U1,Ana Silva,Direct Message,") {
		t.Fatalf("usage csv = %q", raw)
	}
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.llm.gate = make(chan struct{})
	ctx := context.Background()

	ev, ok, err := inbound.Parse(directEnvelope(freshTS(2), "hello"))
	if err != nil || !ok {
		t.Fatalf("Parse() = (%v, %v)", ok, err)
	}
	if err := h.engine.process(ctx, ev); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	if err := h.engine.process(ctx, ev); err != nil {
		t.Fatalf("process(duplicate) error = %v", err)
	}
	if got := len(h.engine.Tasks().List("", 10)); got != 1 {
		t.Fatalf("tasks = %d, want 1", got)
	}

	close(h.llm.gate)
	h.engine.pool.Wait()
	h.engine.consumeResults()

	if h.llm.calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", h.llm.calls())
	}
	items := h.engine.Tasks().List("", 10)
	if items[0].Status != taskstore.TaskDone {
		t.Fatalf("task status = %q, want done", items[0].Status)
	}
}

func TestUnaddressedChannelMessageIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ev := inbound.Event{
		EventID:        freshTS(3),
		MessageTS:      freshTS(3),
		ConversationID: "C1",
		ChatType:       "channel",
		Kind:           inbound.ChannelShared,
		AuthorID:       "U1",
		Text:           "just chatting",
	}
	if err := h.engine.process(context.Background(), ev); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	h.engine.pool.Wait()
	if got := len(h.engine.Tasks().List("", 10)); got != 0 {
		t.Fatalf("tasks = %d, want 0", got)
	}
	if h.table.Len() != 0 {
		t.Fatalf("dedup entries = %d, want 0", h.table.Len())
	}
}

func TestAllowlistFiltersBeforeQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]bool{"C1": true})
	if h.engine.Enqueue(inbound.Event{ConversationID: "D1", EventID: "1.1"}) {
		t.Fatalf("Enqueue(D1) = true, want false")
	}
	if !h.engine.Enqueue(inbound.Event{ConversationID: "C1", EventID: "1.2"}) {
		t.Fatalf("Enqueue(C1) = false, want true")
	}
	if h.engine.QueueLen() != 1 {
		t.Fatalf("QueueLen() = %d, want 1", h.engine.QueueLen())
	}
}

func TestBotIdentityFailureDropsEventAndRetriesLater(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.gw.botErrs = 1
	ctx := context.Background()

	first, ok, err := inbound.Parse(directEnvelope(freshTS(4), "first"))
	if err != nil || !ok {
		t.Fatalf("Parse() = (%v, %v)", ok, err)
	}
	if err := h.engine.process(ctx, first); err == nil {
		t.Fatalf("process() error = nil, want identity lookup error")
	}
	if h.llm.calls() != 0 {
		t.Fatalf("llm calls = %d, want 0", h.llm.calls())
	}
	if h.table.Len() != 0 {
		t.Fatalf("dedup entries = %d, want 0", h.table.Len())
	}
	if got := len(h.engine.Tasks().List("", 10)); got != 0 {
		t.Fatalf("tasks = %d, want 0", got)
	}
	h.gw.mu.Lock()
	posts := len(h.gw.posts)
	h.gw.mu.Unlock()
	if posts != 0 {
		t.Fatalf("posts = %d, want 0", posts)
	}

	second, ok, err := inbound.Parse(directEnvelope(freshTS(5), "second"))
	if err != nil || !ok {
		t.Fatalf("Parse() = (%v, %v)", ok, err)
	}
	if err := h.engine.process(ctx, second); err != nil {
		t.Fatalf("process(second) error = %v", err)
	}
	h.engine.pool.Wait()
	h.engine.consumeResults()

	if h.llm.calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", h.llm.calls())
	}
	select {
	case reply := <-h.gw.replies:
		if reply.text != "Hello Ana" {
			t.Fatalf("reply = %+v", reply)
		}
	default:
		t.Fatalf("no reply posted for the second event")
	}
}

func TestMentionOnlyMessageRecordsUsageWithoutReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ev, ok, err := inbound.Parse(directEnvelope(freshTS(6), "<@UBOT>"))
	if err != nil || !ok {
		t.Fatalf("Parse() = (%v, %v)", ok, err)
	}
	if err := h.engine.process(context.Background(), ev); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	h.engine.pool.Wait()
	h.engine.consumeResults()

	if h.llm.calls() != 0 {
		t.Fatalf("llm calls = %d, want 0", h.llm.calls())
	}
	if h.table.Len() != 0 {
		t.Fatalf("dedup entries = %d, want 0", h.table.Len())
	}
	raw, err := os.ReadFile(h.csv)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(raw), "U1,Ana Silva,Direct Message,") {
		t.Fatalf("usage csv = %q", raw)
	}
}
