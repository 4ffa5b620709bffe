// Package rpc speaks length-prefixed JSON-RPC 2.0 to the completion agent
// over its standard input and output.
package rpc

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

// ErrConnectionClosed is returned for any write attempted after the agent
// exited or the session was disposed.
var ErrConnectionClosed = errors.Transport(errors.New("agent connection closed"))

// DefaultRequestTimeout bounds a single request when Config leaves it unset.
const DefaultRequestTimeout = 10 * time.Second

// SignInConfirmTimeout is the minimum time allowed for signInConfirm.
const SignInConfirmTimeout = 2 * time.Minute

// Config configures a Session.
type Config struct {
	Logger         *zap.SugaredLogger
	RequestTimeout time.Duration

	// OnMessage sees every well-formed inbound frame before dispatch.
	// It runs on the read goroutine and must not block.
	OnMessage func(raw json.RawMessage)

	// OnNotification receives agent notifications such as statusNotification.
	// It runs on the read goroutine and must not block.
	OnNotification func(method string, params json.RawMessage)

	// TraceFrames logs every frame body at debug level.
	TraceFrames bool
}

// Session owns one duplex stream to one agent process. Requests are
// correlated to responses by a monotonic id; a response for an unknown id is
// discarded.
type Session struct {
	w       io.WriteCloser
	r       io.Reader
	logger  *zap.SugaredLogger
	timeout time.Duration
	cfg     Config

	nextID  atomic.Int64
	pending map[int64]chan *inbound
	mu      sync.Mutex

	writeMu sync.Mutex
	closed  atomic.Bool

	initialized       atomic.Bool
	initializing      atomic.Bool
	legacyCompletions atomic.Bool

	disposeOnce sync.Once
	done        chan struct{}
	shutdownErr error
	shutdownMu  sync.Mutex
}

// NewSession starts reading from r and returns a session writing to w.
func NewSession(r io.Reader, w io.WriteCloser, cfg Config) *Session {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s := &Session{
		w:       w,
		r:       r,
		logger:  logger.Or(cfg.Logger),
		timeout: timeout,
		cfg:     cfg,
		pending: make(map[int64]chan *inbound),
		done:    make(chan struct{}),
	}

	go s.readLoop()
	return s
}

// Done is closed once the inbound stream ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the inbound stream ended, or nil while it is open.
func (s *Session) Err() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shutdownErr
}

// Closed reports whether writes are no longer possible.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Initialized reports whether the handshake completed.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// Initialize performs the one-time handshake: initialize, then initialized.
// It must precede every other call.
func (s *Session) Initialize(ctx context.Context, params InitializeParams) (*protocol.InitializeResult, error) {
	if s.closed.Load() {
		return nil, errors.Protocol(errors.Wrap(ErrConnectionClosed, "cannot initialize: agent has exited"))
	}
	if !s.initializing.CompareAndSwap(false, true) {
		return nil, errors.Protocol(errors.New("initialize called twice"))
	}

	if params.InitializationOptions == nil {
		params.InitializationOptions = map[string]interface{}{}
	}

	var result protocol.InitializeResult
	if err := s.call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, errors.Protocol(errors.Wrap(err, "initialize handshake failed"))
	}

	if err := s.notify(MethodInitialized, struct{}{}); err != nil {
		return nil, errors.Protocol(errors.Wrap(err, "initialized notification failed"))
	}

	s.initialized.Store(true)

	name := ""
	if result.ServerInfo != nil {
		name = result.ServerInfo.Name
	}
	s.logger.Infow("Agent session initialized", "server", name, logger.FieldURI, params.RootURI)
	return &result, nil
}

// NotifyOpen tells the agent a document was opened. No response is expected.
func (s *Session) NotifyOpen(ctx context.Context, uri string, languageID string, version int32, text string) error {
	if err := s.requireInitialized(MethodDidOpen); err != nil {
		return err
	}
	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    version,
			Text:       text,
		},
	}
	return s.notify(MethodDidOpen, params)
}

// NotifyChange sends the full document text as a single replacement.
func (s *Session) NotifyChange(ctx context.Context, uri string, version int32, text string) error {
	if err := s.requireInitialized(MethodDidChange); err != nil {
		return err
	}
	params := protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: text}},
	}
	return s.notify(MethodDidChange, params)
}

// RequestCompletions asks for candidates at pos. Any failure is logged and
// yields an empty list; a flaky completion must not end the editing session.
func (s *Session) RequestCompletions(ctx context.Context, doc DocumentContext, pos protocol.Position, opts FormattingOptions) CompletionList {
	params := CompletionParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: doc.URI},
			Version:                doc.Version,
		},
		Position:          pos,
		Context:           CompletionContext{TriggerKind: TriggerKindAutomatic},
		FormattingOptions: opts,
	}

	list, err := s.requestCompletions(ctx, params)
	if err != nil {
		s.logger.Debugw("Completion request failed",
			logger.FieldURI, doc.URI,
			logger.FieldVersion, doc.Version,
			logger.FieldErrorKind, errors.Kind(err),
			logger.FieldError, err)
		return CompletionList{}
	}
	return list
}

func (s *Session) requestCompletions(ctx context.Context, params CompletionParams) (CompletionList, error) {
	if err := s.requireInitialized(MethodGetCompletionsCycling); err != nil {
		return CompletionList{}, err
	}

	method := MethodGetCompletionsCycling
	if s.legacyCompletions.Load() {
		method = MethodGetCompletions
	}

	var list CompletionList
	err := s.call(ctx, method, params, &list)

	var rpcErr *ResponseError
	if err != nil && method == MethodGetCompletionsCycling && errors.As(err, &rpcErr) && rpcErr.Code == CodeMethodNotFound {
		s.logger.Infow("Agent lacks getCompletionsCycling, switching to getCompletions")
		s.legacyCompletions.Store(true)
		list = CompletionList{}
		err = s.call(ctx, MethodGetCompletions, params, &list)
	}
	if err != nil {
		return CompletionList{}, err
	}
	return list, nil
}

// CheckStatus asks the agent whether a user is signed in.
func (s *Session) CheckStatus(ctx context.Context, localChecksOnly bool) (StatusResult, error) {
	var result StatusResult
	if err := s.requireInitialized(MethodCheckStatus); err != nil {
		return result, err
	}
	err := s.call(ctx, MethodCheckStatus, CheckStatusParams{LocalChecksOnly: localChecksOnly}, &result)
	return result, err
}

// SetEditorInfo identifies the host editor and plugin to the agent.
func (s *Session) SetEditorInfo(ctx context.Context, params SetEditorInfoParams) error {
	if err := s.requireInitialized(MethodSetEditorInfo); err != nil {
		return err
	}
	return s.call(ctx, MethodSetEditorInfo, params, nil)
}

// RequestSignIn starts the device-code flow.
func (s *Session) RequestSignIn(ctx context.Context) (SignInInitiateResult, error) {
	var result SignInInitiateResult
	if err := s.requireInitialized(MethodSignInInitiate); err != nil {
		return result, err
	}
	err := s.call(ctx, MethodSignInInitiate, struct{}{}, &result)
	return result, err
}

// ConfirmSignIn completes the device-code flow once the user authorized.
func (s *Session) ConfirmSignIn(ctx context.Context, userCode string) (StatusResult, error) {
	var result StatusResult
	if err := s.requireInitialized(MethodSignInConfirm); err != nil {
		return result, err
	}
	// the agent answers only after GitHub saw the code, which takes longer
	// than an ordinary request
	timeout := max(s.timeout, SignInConfirmTimeout)
	err := s.callWithTimeout(ctx, timeout, MethodSignInConfirm, SignInConfirmParams{UserCode: userCode}, &result)
	return result, err
}

// SignOut forgets the signed-in user.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.requireInitialized(MethodSignOut); err != nil {
		return err
	}
	return s.call(ctx, MethodSignOut, struct{}{}, nil)
}

// Dispose sends a polite exit notification and closes the write side.
// Safe to call more than once.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		if !s.closed.Load() {
			if err := s.notify(MethodExit, nil); err != nil {
				s.logger.Debugw("Exit notification failed", logger.FieldError, err)
			}
		}

		s.writeMu.Lock()
		s.closed.Store(true)
		if err := s.w.Close(); err != nil {
			s.logger.Debugw("Closing agent stdin failed", logger.FieldError, err)
		}
		s.writeMu.Unlock()

		s.failPending()
	})
}

func (s *Session) requireInitialized(method string) error {
	if s.closed.Load() {
		return errors.Wrapf(ErrConnectionClosed, "cannot send %s", method)
	}
	if !s.initialized.Load() {
		return errors.Protocol(errors.Newf("%s called before initialize", method))
	}
	return nil
}

func (s *Session) call(ctx context.Context, method string, params, result interface{}) error {
	return s.callWithTimeout(ctx, s.timeout, method, params, result)
}

func (s *Session) callWithTimeout(ctx context.Context, timeout time.Duration, method string, params, result interface{}) error {
	if s.closed.Load() {
		return errors.Wrapf(ErrConnectionClosed, "cannot call %s", method)
	}

	id := s.nextID.Add(1)
	responseChan := make(chan *inbound, 1)

	s.mu.Lock()
	s.pending[id] = responseChan
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	req := request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := s.write(req); err != nil {
		return errors.Wrapf(err, "failed to write request for method %s", method)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	select {
	case resp := <-responseChan:
		if resp == nil {
			return errors.Wrapf(ErrConnectionClosed, "no response to %s", method)
		}
		s.logger.Debugw("Agent response",
			logger.FieldMethod, method,
			logger.FieldRequestID, id,
			logger.FieldDurationMS, time.Since(started).Milliseconds())

		if resp.Error != nil {
			return errors.Request(errors.Wrapf(resp.Error, "method %s", method))
		}
		if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.Decode(errors.Wrapf(err, "failed to unmarshal response for method %s", method))
			}
		}
		return nil

	case <-s.done:
		return errors.Wrapf(ErrConnectionClosed, "agent exited while waiting for %s", method)

	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.Request(errors.Wrapf(errors.ErrTimeout, "%s after %s", method, timeout))
		}
		return errors.Request(errors.Wrapf(ctx.Err(), "%s cancelled", method))
	}
}

// notify sends a JSON-RPC notification (no response expected)
func (s *Session) notify(method string, params interface{}) error {
	return s.write(notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

func (s *Session) write(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON-RPC message")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrConnectionClosed
	}
	if s.cfg.TraceFrames {
		s.logger.Debugw("Agent frame out", logger.FieldSize, len(data), "body", string(data))
	}
	if err := WriteFrame(s.w, data); err != nil {
		return errors.Transport(err)
	}
	return nil
}

// readLoop feeds the decoder and dispatches every complete frame until the
// stream ends.
func (s *Session) readLoop() {
	var dec Decoder
	buf := make([]byte, 32*1024)

	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				raw, derr := dec.Next()
				if derr != nil {
					s.logger.Warnw("Dropped malformed agent frame",
						logger.FieldErrorKind, errors.Kind(derr),
						logger.FieldError, derr)
					continue
				}
				if raw == nil {
					break
				}
				s.dispatch(raw)
			}
		}
		if err != nil {
			if err == io.EOF {
				s.shutdown(errors.Wrap(ErrConnectionClosed, "agent stdout closed"))
			} else {
				s.shutdown(errors.Transport(errors.Wrap(err, "failed to read from agent")))
			}
			return
		}
	}
}

func (s *Session) dispatch(raw json.RawMessage) {
	if s.cfg.TraceFrames {
		s.logger.Debugw("Agent frame in", logger.FieldSize, len(raw), "body", string(raw))
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(raw)
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warnw("Dropped undecodable agent message",
			logger.FieldErrorKind, "decode",
			logger.FieldError, err)
		return
	}

	switch {
	case msg.Method != "" && msg.hasID():
		// The agent expects an answer; a null result keeps it moving.
		s.logger.Debugw("Answering agent request", logger.FieldMethod, msg.Method)
		go func(id json.RawMessage) {
			if err := s.write(reply{JSONRPC: "2.0", ID: id, Result: json.RawMessage("null")}); err != nil {
				s.logger.Debugw("Reply to agent request failed", logger.FieldMethod, msg.Method, logger.FieldError, err)
			}
		}(msg.ID)

	case msg.Method != "":
		s.logger.Debugw("Agent notification", logger.FieldMethod, msg.Method)
		if s.cfg.OnNotification != nil {
			s.cfg.OnNotification(msg.Method, msg.Params)
		}

	case msg.hasID():
		id, ok := msg.numericID()
		s.mu.Lock()
		ch, found := s.pending[id]
		if found {
			delete(s.pending, id)
		}
		s.mu.Unlock()

		if !ok || !found {
			s.logger.Debugw("Discarding response for unknown request", logger.FieldRequestID, string(msg.ID))
			return
		}
		ch <- &msg

	default:
		s.logger.Debugw("Ignoring agent message without id or method")
	}
}

func (s *Session) shutdown(cause error) {
	s.shutdownMu.Lock()
	if s.shutdownErr != nil {
		s.shutdownMu.Unlock()
		return
	}
	s.shutdownErr = cause
	s.shutdownMu.Unlock()

	s.closed.Store(true)
	close(s.done)
	s.failPending()

	s.logger.Infow("Agent session closed", logger.FieldError, cause)
}

// failPending wakes every waiting caller with a closed-connection result.
func (s *Session) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- nil:
		default:
		}
		delete(s.pending, id)
	}
}
