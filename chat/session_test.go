package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"videoRAG/core"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Outbound
	seen chan Outbound
}

func newRecorder() *recorder { return &recorder{seen: make(chan Outbound, 256)} }

func (r *recorder) Emit(msg Outbound) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.seen <- msg
	return nil
}

func (r *recorder) all() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outbound(nil), r.msgs...)
}

// waitFor blocks until a message of type typ arrives.
func (r *recorder) waitFor(t *testing.T, typ string) Outbound {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-r.seen:
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; got %+v", typ, r.all())
		}
	}
}

type fakeRetriever struct {
	err      error
	hits     []core.ScoredEntry
	mu       sync.Mutex
	question []string
}

func (f *fakeRetriever) ChatRetrieve(_ context.Context, _, question string, _ int) ([]core.ScoredEntry, error) {
	f.mu.Lock()
	f.question = append(f.question, question)
	f.mu.Unlock()
	return f.hits, f.err
}

// chanStream yields tokens until the channel closes or ctx is cancelled.
type chanStream struct {
	ctx    context.Context
	tokens <-chan string
	closed bool
}

func (c *chanStream) Recv() (string, error) {
	select {
	case <-c.ctx.Done():
		return "", c.ctx.Err()
	case tok, ok := <-c.tokens:
		if !ok {
			return "", io.EOF
		}
		return tok, nil
	}
}

func (c *chanStream) Close() error { c.closed = true; return nil }

type fakeGenerator struct {
	mu      sync.Mutex
	streams []chan string
	err     error
	user    []string
}

// next hands out the token channel for the next Stream call.
func (g *fakeGenerator) queue(tokens ...string) chan string {
	ch := make(chan string, len(tokens)+1)
	for _, t := range tokens {
		ch <- t
	}
	g.mu.Lock()
	g.streams = append(g.streams, ch)
	g.mu.Unlock()
	return ch
}

func (g *fakeGenerator) Stream(ctx context.Context, _, user string) (core.TokenStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user = append(g.user, user)
	if g.err != nil {
		return nil, g.err
	}
	ch := g.streams[0]
	g.streams = g.streams[1:]
	return &chanStream{ctx: ctx, tokens: ch}, nil
}

func hitsFixture() []core.ScoredEntry {
	return []core.ScoredEntry{{Score: 0.9, Entry: core.Entry{Start: 75, Text: "the answer"}}}
}

func TestSessionStreamsAnswer(t *testing.T) {
	rec := newRecorder()
	gen := &fakeGenerator{}
	close(gen.queue("Hello", " world"))
	s := NewSession("v1", &fakeRetriever{hits: hitsFixture()}, gen, rec, 5)

	s.Greeting()
	s.Handle(Inbound{Type: TypeUserMessage, Text: "  what?  "})
	rec.waitFor(t, TypeDone)

	var types, tokens []string
	for _, m := range rec.all() {
		types = append(types, m.Type)
		if m.Type == TypeToken {
			tokens = append(tokens, m.Token)
		}
	}
	want := []string{TypeInfo, TypeInfo, TypeToken, TypeToken, TypeDone}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("message types = %v, want %v", types, want)
	}
	if strings.Join(tokens, "") != "Hello world" {
		t.Errorf("tokens = %q", tokens)
	}
	msgs := rec.all()
	if msgs[0].Message != MsgConnected || msgs[1].Message != MsgProcessing {
		t.Errorf("unexpected info messages %+v", msgs[:2])
	}
	if !strings.Contains(gen.user[0], "[01:15] the answer") || !strings.Contains(gen.user[0], "Question: what?") {
		t.Errorf("prompt missing context: %q", gen.user[0])
	}
	waitIdle(t, s)
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Idle {
		if time.Now().After(deadline) {
			t.Fatal("session never returned to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewQuestionCancelsPrevious(t *testing.T) {
	rec := newRecorder()
	gen := &fakeGenerator{}
	first := gen.queue("partial")
	second := gen.queue("fresh")
	close(second)
	ret := &fakeRetriever{hits: hitsFixture()}
	s := NewSession("v1", ret, gen, rec, 5)

	s.Handle(Inbound{Type: TypeUserMessage, Text: "first"})
	rec.waitFor(t, TypeToken)
	if s.State() != Generating {
		t.Fatal("expected the first answer to be generating")
	}

	s.Handle(Inbound{Type: TypeUserMessage, Text: "second"})
	// a late token for the cancelled answer must go nowhere
	first <- "stale"
	rec.waitFor(t, TypeDone)

	canceled := 0
	var afterCancel []Outbound
	for i, m := range rec.all() {
		if m.Type == TypeInfo && m.Message == MsgCanceledPrevious {
			canceled++
			afterCancel = rec.all()[i+1:]
		}
		if m.Token == "stale" {
			t.Error("cancelled answer kept streaming")
		}
	}
	if canceled != 1 {
		t.Fatalf("expected exactly one cancel notice, got %d in %+v", canceled, rec.all())
	}
	if len(afterCancel) < 3 || afterCancel[0].Message != MsgProcessing || afterCancel[1].Token != "fresh" || afterCancel[2].Type != TypeDone {
		t.Errorf("unexpected messages after cancel: %+v", afterCancel)
	}
	if len(ret.question) != 2 || ret.question[1] != "second" {
		t.Errorf("retrieval not re-run for the new question: %v", ret.question)
	}
}

func TestCancelWhileGenerating(t *testing.T) {
	rec := newRecorder()
	gen := &fakeGenerator{}
	gen.queue("tok")
	s := NewSession("v1", &fakeRetriever{}, gen, rec, 5)

	s.Handle(Inbound{Type: TypeUserMessage, Text: "q"})
	rec.waitFor(t, TypeToken)
	s.Handle(Inbound{Type: TypeCancel})

	if s.State() != Idle {
		t.Error("expected idle after cancel")
	}
	last := rec.all()[len(rec.all())-1]
	if last.Type != TypeInfo || last.Message != MsgCanceled {
		t.Errorf("expected cancel notice last, got %+v", last)
	}
}

func TestCancelWhileIdleIsNoop(t *testing.T) {
	rec := newRecorder()
	s := NewSession("v1", &fakeRetriever{}, &fakeGenerator{}, rec, 5)
	s.Handle(Inbound{Type: TypeCancel})
	if len(rec.all()) != 0 {
		t.Errorf("idle cancel emitted %+v", rec.all())
	}
}

func TestRejectsEmptyAndUnknown(t *testing.T) {
	rec := newRecorder()
	s := NewSession("v1", &fakeRetriever{}, &fakeGenerator{}, rec, 5)

	s.Handle(Inbound{Type: TypeUserMessage, Text: "   "})
	s.Handle(Inbound{Type: "ping"})

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("expected two errors, got %+v", msgs)
	}
	if msgs[0].Type != TypeError || msgs[0].Error != MsgEmptyQuestion {
		t.Errorf("unexpected %+v", msgs[0])
	}
	if msgs[1].Type != TypeError || msgs[1].Error != "Unknown message type: ping" {
		t.Errorf("unexpected %+v", msgs[1])
	}
	if s.State() != Idle {
		t.Error("errors must not change state")
	}
}

func TestRetrievalFailureReturnsToIdle(t *testing.T) {
	rec := newRecorder()
	ret := &fakeRetriever{err: &core.StateConflictError{VideoID: "v1", Status: core.StatusProcessing}}
	s := NewSession("v1", ret, &fakeGenerator{}, rec, 5)

	s.Handle(Inbound{Type: TypeUserMessage, Text: "q"})
	m := rec.waitFor(t, TypeError)
	if !strings.HasPrefix(m.Error, "Retrieval failed: ") {
		t.Errorf("unexpected error %q", m.Error)
	}
	waitIdle(t, s)

	// the session stays usable
	gen := &fakeGenerator{}
	close(gen.queue("ok"))
	s.generator = gen
	ret.err = nil
	s.Handle(Inbound{Type: TypeUserMessage, Text: "again"})
	rec.waitFor(t, TypeDone)
}

func TestEmptyIndexUsesPlaceholderContext(t *testing.T) {
	rec := newRecorder()
	gen := &fakeGenerator{}
	close(gen.queue("I don't know"))
	s := NewSession("v1", &fakeRetriever{err: core.ErrEmptyIndex}, gen, rec, 5)

	s.Handle(Inbound{Type: TypeUserMessage, Text: "q"})
	rec.waitFor(t, TypeDone)
	if !strings.Contains(gen.user[0], noExcerpts) {
		t.Errorf("expected placeholder context, got %q", gen.user[0])
	}
}

func TestGenerationErrorSurfaces(t *testing.T) {
	rec := newRecorder()
	gen := &fakeGenerator{err: errors.New("generator unavailable")}
	s := NewSession("v1", &fakeRetriever{}, gen, rec, 5)
	s.Handle(Inbound{Type: TypeUserMessage, Text: "q"})
	if m := rec.waitFor(t, TypeError); m.Error != "generator unavailable" {
		t.Errorf("unexpected error %q", m.Error)
	}
}

func TestCloseIsSilent(t *testing.T) {
	rec := newRecorder()
	gen := &fakeGenerator{}
	gen.queue("tok")
	s := NewSession("v1", &fakeRetriever{}, gen, rec, 5)
	s.Handle(Inbound{Type: TypeUserMessage, Text: "q"})
	rec.waitFor(t, TypeToken)

	before := len(rec.all())
	s.Close()
	if len(rec.all()) != before {
		t.Errorf("Close emitted %+v", rec.all()[before:])
	}
	if s.State() != Idle {
		t.Error("expected idle after Close")
	}
}
