package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranslator struct {
	out   string
	err   error
	input string
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, _ string, text string) (string, error) {
	f.calls++
	f.input = text
	return f.out, f.err
}

type fakeHistory struct {
	recs  []chat.CanonicalRecord
	err   error
	asked int
}

func (f *fakeHistory) RecentInGroup(_ context.Context, _ string, n int) ([]chat.CanonicalRecord, error) {
	f.asked = n
	return f.recs, f.err
}

type sent struct {
	text      string
	secondary bool
}

type fakeSender struct{ msgs []sent }

func (f *fakeSender) SendMessage(_ context.Context, text string, secondary bool) {
	f.msgs = append(f.msgs, sent{text, secondary})
}

func ptr(s string) *string { return &s }

func groupRecord(body string) chat.CanonicalRecord {
	return chat.CanonicalRecord{
		AuthorName: "Ana",
		IsGroup:    true,
		GroupID:    ptr("120363@g.us"),
		Body:       body,
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestForward(t *testing.T) {
	ctx := context.Background()

	t.Run("stored message left out of its own context", func(t *testing.T) {
		tr := &fakeTranslator{out: "hello"}
		rec := groupRecord("hola")
		rec.UID.ID, rec.AuthorID = "M3", "555@c.us"
		self := rec
		h := &fakeHistory{recs: []chat.CanonicalRecord{
			self,
			{UID: chat.MessageID{ID: "M2"}, AuthorID: "555@c.us", AuthorName: "Bo", Body: "dos"},
			{UID: chat.MessageID{ID: "M1"}, AuthorID: "555@c.us", AuthorName: "Bo", Body: "uno"},
		}}
		f := NewForwarder([]string{"120363@g.us"}, 1, tr, h, &fakeSender{}, discard())

		f.Forward(ctx, rec)

		assert.Equal(t, 2, h.asked)
		assert.Contains(t, tr.input, "Bo: dos")
		assert.NotContains(t, tr.input, "Bo: uno")
		assert.NotContains(t, tr.input, "Ana: hola")
	})

	t.Run("translates with context", func(t *testing.T) {
		tr := &fakeTranslator{out: "good morning\n"}
		h := &fakeHistory{recs: []chat.CanonicalRecord{{UID: chat.MessageID{ID: "M0"}, AuthorName: "Bo", Body: "hola"}}}
		s := &fakeSender{}
		f := NewForwarder([]string{"120363@g.us"}, 5, tr, h, s, discard())

		f.Forward(ctx, groupRecord("buenos días"))

		assert.Equal(t, 6, h.asked)
		assert.Contains(t, tr.input, "buenos días")
		assert.Contains(t, tr.input, "Bo: hola")
		require.Len(t, s.msgs, 1)
		assert.True(t, s.msgs[0].secondary)
		assert.Equal(t, "Ana: good morning\n\n(Original: buenos días)", s.msgs[0].text)
	})

	t.Run("other groups ignored", func(t *testing.T) {
		tr := &fakeTranslator{out: "x"}
		s := &fakeSender{}
		f := NewForwarder([]string{"other@g.us"}, 5, tr, &fakeHistory{}, s, discard())
		f.Forward(ctx, groupRecord("hi"))
		assert.Zero(t, tr.calls)
		assert.Empty(t, s.msgs)
	})

	t.Run("direct chats ignored", func(t *testing.T) {
		s := &fakeSender{}
		f := NewForwarder([]string{"120363@g.us"}, 5, &fakeTranslator{}, &fakeHistory{}, s, discard())
		f.Forward(ctx, chat.CanonicalRecord{AuthorName: "Ana", Body: "hi"})
		assert.Empty(t, s.msgs)
	})

	t.Run("media forwarded untranslated", func(t *testing.T) {
		tr := &fakeTranslator{out: "x"}
		s := &fakeSender{}
		f := NewForwarder([]string{"120363@g.us"}, 5, tr, &fakeHistory{}, s, discard())
		rec := groupRecord("a cat on a sofa")
		rec.RawMsgObject.HasMedia = true
		rec.MediaPath = ptr("120363/1700000000000_a.jpeg")

		f.Forward(ctx, rec)

		assert.Zero(t, tr.calls)
		require.Len(t, s.msgs, 1)
		assert.Equal(t, "Ana: a cat on a sofa\n\nMedia link: 120363/1700000000000_a.jpeg", s.msgs[0].text)
	})

	t.Run("translation failure forwards original", func(t *testing.T) {
		s := &fakeSender{}
		f := NewForwarder([]string{"120363@g.us"}, 5, &fakeTranslator{err: errors.New("quota")}, &fakeHistory{}, s, discard())
		f.Forward(ctx, groupRecord("hola"))
		require.Len(t, s.msgs, 1)
		assert.Equal(t, "Ana: hola", s.msgs[0].text)
	})

	t.Run("history failure still translates", func(t *testing.T) {
		tr := &fakeTranslator{out: "hello"}
		s := &fakeSender{}
		f := NewForwarder([]string{"120363@g.us"}, 5, tr, &fakeHistory{err: errors.New("io")}, s, discard())
		f.Forward(ctx, groupRecord("hola"))
		assert.Equal(t, 1, tr.calls)
		assert.NotContains(t, tr.input, "Context")
		assert.Equal(t, "Ana: hello\n\n(Original: hola)", s.msgs[0].text)
	})

	t.Run("english passthrough has no original", func(t *testing.T) {
		s := &fakeSender{}
		f := NewForwarder([]string{"120363@g.us"}, 0, &fakeTranslator{out: "hello"}, nil, s, discard())
		f.Forward(ctx, groupRecord("hello"))
		assert.Equal(t, "Ana: hello", s.msgs[0].text)
	})
}
