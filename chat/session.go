// Package chat runs one question/answer conversation per connection. At most
// one answer is generated at a time; a new question or a cancel stops the
// running answer and waits for it to finish before anything else is sent.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"videoRAG/core"
)

var logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)

// Message types on the chat channel.
const (
	TypeUserMessage = "user_message"
	TypeCancel      = "cancel"

	TypeInfo  = "chat_info"
	TypeToken = "chat_token"
	TypeDone  = "chat_done"
	TypeError = "chat_error"
)

const (
	MsgConnected        = "Connected. Ask a question about this video."
	MsgProcessing       = "Processing your question..."
	MsgCanceledPrevious = "Canceled previous response."
	MsgCanceled         = "Canceled."
	MsgEmptyQuestion    = "Empty question"
)

type Inbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Outbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Emitter delivers one outbound message to the client.
type Emitter interface {
	Emit(msg Outbound) error
}

// Retriever supplies ranked context for a question about a video.
type Retriever interface {
	ChatRetrieve(ctx context.Context, videoID, question string, topK int) ([]core.ScoredEntry, error)
}

type State int

const (
	Idle State = iota
	Generating
)

func (s State) String() string {
	if s == Generating {
		return "generating"
	}
	return "idle"
}

type Session struct {
	videoID   string
	retriever Retriever
	generator core.Generator
	topK      int

	emitMu sync.Mutex
	out    Emitter

	// mu serializes Handle and Close; task fields are only touched under it
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(videoID string, retriever Retriever, generator core.Generator, out Emitter, topK int) *Session {
	if topK <= 0 {
		topK = 5
	}
	return &Session{videoID: videoID, retriever: retriever, generator: generator, out: out, topK: topK}
}

func (s *Session) emit(msg Outbound) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.out.Emit(msg)
}

func (s *Session) info(message string) { _ = s.emit(Outbound{Type: TypeInfo, Message: message}) }

func (s *Session) fail(message string) { _ = s.emit(Outbound{Type: TypeError, Error: message}) }

// Greeting is sent once when the connection opens.
func (s *Session) Greeting() { s.info(MsgConnected) }

// State reports whether an answer is being generated.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running() {
		return Generating
	}
	return Idle
}

func (s *Session) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// stop cancels the running task and waits for it to acknowledge.
func (s *Session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.cancel, s.done = nil, nil
}

// Handle applies one client message.
func (s *Session) Handle(msg Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case TypeUserMessage:
		question := strings.TrimSpace(msg.Text)
		if question == "" {
			s.fail(MsgEmptyQuestion)
			return
		}
		if s.running() {
			s.stop()
			s.info(MsgCanceledPrevious)
		}
		logger.Printf("video %s: question received (%d chars)", s.videoID, len(question))
		s.info(MsgProcessing)
		s.start(question)

	case TypeCancel:
		if s.running() {
			s.stop()
			s.info(MsgCanceled)
		}

	default:
		s.fail(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (s *Session) start(question string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		s.answer(ctx, question)
	}()
}

// answer retrieves context and streams tokens. Once ctx is cancelled it sends nothing.
func (s *Session) answer(ctx context.Context, question string) {
	hits, err := s.retriever.ChatRetrieve(ctx, s.videoID, question, s.topK)
	if ctx.Err() != nil {
		return
	}
	if err != nil && !errors.Is(err, core.ErrEmptyIndex) {
		s.fail(fmt.Sprintf("Retrieval failed: %v", err))
		return
	}

	stream, err := s.generator.Stream(ctx, systemPrompt, userPrompt(question, hits))
	if ctx.Err() != nil {
		if stream != nil {
			stream.Close()
		}
		return
	}
	if err != nil {
		s.fail(err.Error())
		return
	}
	defer stream.Close()

	for {
		tok, err := stream.Recv()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			_ = s.emit(Outbound{Type: TypeDone})
			return
		}
		if err != nil {
			logger.Printf("video %s: generation failed: %v", s.videoID, err)
			s.fail(err.Error())
			return
		}
		if err := s.emit(Outbound{Type: TypeToken, Token: tok}); err != nil {
			return
		}
	}
}

// Close stops any running answer without notifying the client.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running() {
		s.stop()
	}
	s.cancel, s.done = nil, nil
}
