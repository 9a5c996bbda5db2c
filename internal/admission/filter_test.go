package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quailyquaily/livia/internal/inbound"
)

const testBot = "UBOT"

var testNow = time.Unix(1700000105, 0).UTC()

type fakeRoots struct {
	texts map[string]string
	err   error
	calls int
}

func (f *fakeRoots) ThreadRootText(_ context.Context, conversationID, rootID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.texts[conversationID+"/"+rootID], nil
}

func newTestFilter(roots ThreadRootReader) *Filter {
	return NewFilter(Options{
		Roots:  roots,
		Now:    func() time.Time { return testNow },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func channelEvent(text, threadRoot string) inbound.Event {
	return inbound.Event{
		EventID:        "1700000100.000200",
		MessageTS:      "1700000100.000200",
		ConversationID: "C100",
		ChatType:       "channel",
		Kind:           inbound.ChannelShared,
		AuthorID:       "U1",
		Text:           text,
		ThreadRootID:   threadRoot,
	}
}

func TestDecideDirectMessageAlwaysAdmits(t *testing.T) {
	t.Parallel()

	ev := channelEvent("plain question without any tag", "")
	ev.ConversationID = "D100"
	ev.ChatType = "im"
	ev.Kind = inbound.ChannelDirect

	roots := &fakeRoots{}
	d := newTestFilter(roots).Decide(context.Background(), ev, testBot)
	if !d.Admit || d.Reason != ReasonDirect {
		t.Fatalf("Decide() = %+v, want admit direct", d)
	}
	if roots.calls != 0 {
		t.Fatalf("root lookups = %d, want 0", roots.calls)
	}
}

func TestDecideChannelRules(t *testing.T) {
	t.Parallel()

	roots := &fakeRoots{texts: map[string]string{
		"C100/1700000000.000100": "<@UBOT> kick off",
		"C100/1700000000.000999": "just people talking",
	}}

	cases := []struct {
		name   string
		ev     inbound.Event
		admit  bool
		reason Reason
	}{
		{name: "no mention top level", ev: channelEvent("hello all", ""), reason: ReasonNotAddressed},
		{name: "explicit mention", ev: channelEvent("<@UBOT> hello", ""), admit: true, reason: ReasonMention},
		{name: "mention with label", ev: channelEvent("hey <@UBOT|livia>", ""), admit: true, reason: ReasonMention},
		{name: "other user mention", ev: channelEvent("<@U2> hello", ""), reason: ReasonNotAddressed},
		{name: "thread root mentions bot", ev: channelEvent("follow up", "1700000000.000100"), admit: true, reason: ReasonThreadMention},
		{name: "thread root without mention", ev: channelEvent("follow up", "1700000000.000999"), reason: ReasonNotAddressed},
	}
	f := newTestFilter(roots)
	for _, tc := range cases {
		d := f.Decide(context.Background(), tc.ev, testBot)
		if d.Admit != tc.admit || d.Reason != tc.reason {
			t.Fatalf("%s: Decide() = (%v, %q), want (%v, %q)", tc.name, d.Admit, d.Reason, tc.admit, tc.reason)
		}
	}
}

func TestDecideDropRules(t *testing.T) {
	t.Parallel()

	self := channelEvent("<@UBOT> echo", "")
	self.AuthorID = testBot

	stale := channelEvent("<@UBOT> late", "")
	stale.EventID = "1700000000.000100"

	noAuthor := channelEvent("<@UBOT> who", "")
	noAuthor.AuthorID = ""

	botMessage := channelEvent("<@UBOT> from a bot", "")
	botMessage.Subtype = "bot_message"

	cases := []struct {
		name   string
		ev     inbound.Event
		reason Reason
	}{
		{name: "self", ev: self, reason: ReasonSelf},
		{name: "stale", ev: stale, reason: ReasonStale},
		{name: "no author", ev: noAuthor, reason: ReasonNoAuthor},
		{name: "subtype", ev: botMessage, reason: ReasonSubtype},
	}
	f := newTestFilter(nil)
	for _, tc := range cases {
		d := f.Decide(context.Background(), tc.ev, testBot)
		if d.Admit || d.Reason != tc.reason {
			t.Fatalf("%s: Decide() = (%v, %q), want drop %q", tc.name, d.Admit, d.Reason, tc.reason)
		}
	}
}

func TestDecideRootLookupFailureDrops(t *testing.T) {
	t.Parallel()

	roots := &fakeRoots{err: errors.New("ratelimited")}
	d := newTestFilter(roots).Decide(context.Background(), channelEvent("more", "1700000000.000100"), testBot)
	if d.Admit || d.Reason != ReasonRootLookupFailed {
		t.Fatalf("Decide() = %+v, want drop %q", d, ReasonRootLookupFailed)
	}
	if roots.calls != 1 {
		t.Fatalf("root lookups = %d, want 1", roots.calls)
	}
}
