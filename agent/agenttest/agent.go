// Package agenttest provides an in-process stand-in for the completion agent.
// It speaks the same framing over io.Pipe pairs and records every message
// the client sends.
package agenttest

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/teranos/ghostline/agent/rpc"
)

// Handler answers one request. Returning a non-nil error sends a JSON-RPC
// error response instead of result.
type Handler func(params json.RawMessage) (result interface{}, err *rpc.ResponseError)

// Call is one message received from the client.
type Call struct {
	Method       string
	Params       json.RawMessage
	Notification bool
}

// Agent is a scripted fake agent.
type Agent struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	changed  chan struct{}

	// client writes here, agent reads
	clientWriter *io.PipeWriter
	agentReader  *io.PipeReader
	// agent writes here, client reads
	agentWriter  *io.PipeWriter
	clientReader *io.PipeReader

	writeMu sync.Mutex
	done    chan struct{}
}

// New starts a fake agent with default handlers for the handshake,
// status and completion methods.
func New() *Agent {
	ar, cw := io.Pipe()
	cr, aw := io.Pipe()

	a := &Agent{
		handlers:     make(map[string]Handler),
		changed:      make(chan struct{}, 1),
		clientWriter: cw,
		agentReader:  ar,
		agentWriter:  aw,
		clientReader: cr,
		done:         make(chan struct{}),
	}

	a.Handle(rpc.MethodInitialize, Result(map[string]interface{}{
		"capabilities": map[string]interface{}{},
		"serverInfo":   map[string]interface{}{"name": "fake-agent", "version": "1.0.0"},
	}))
	a.Handle(rpc.MethodSetEditorInfo, Result("OK"))
	a.Handle(rpc.MethodCheckStatus, Result(rpc.StatusResult{Status: rpc.StatusOK, User: "octocat"}))
	a.Handle(rpc.MethodGetCompletionsCycling, Result(rpc.CompletionList{}))
	a.Handle(rpc.MethodSignOut, Result(rpc.StatusResult{Status: rpc.StatusNotSignedIn}))

	go a.serve()
	return a
}

// Dial starts a fake agent and a session connected to it. Both are torn
// down when the test ends.
func Dial(t testing.TB, cfg rpc.Config) (*rpc.Session, *Agent) {
	t.Helper()
	a := New()
	s := rpc.NewSession(a.Stdout(), a.Stdin(), cfg)
	t.Cleanup(func() {
		s.Dispose()
		a.Close()
	})
	return s, a
}

// DialInitialized is Dial followed by a successful handshake.
func DialInitialized(t testing.TB, cfg rpc.Config) (*rpc.Session, *Agent) {
	t.Helper()
	s, a := Dial(t, cfg)
	if _, err := s.Initialize(context.Background(), rpc.InitializeParams{RootURI: "file:///vault"}); err != nil {
		t.Fatalf("initialize fake agent: %v", err)
	}
	return s, a
}

// Result returns a handler that always answers with v.
func Result(v interface{}) Handler {
	return func(json.RawMessage) (interface{}, *rpc.ResponseError) {
		return v, nil
	}
}

// Fail returns a handler that always answers with a JSON-RPC error.
func Fail(code int64, message string) Handler {
	return func(json.RawMessage) (interface{}, *rpc.ResponseError) {
		return nil, &rpc.ResponseError{Code: code, Message: message}
	}
}

// Silent returns a handler that never answers.
func Silent() Handler {
	return func(json.RawMessage) (interface{}, *rpc.ResponseError) {
		return silence{}, nil
	}
}

// Stdin is the writer the client sends frames to.
func (a *Agent) Stdin() io.WriteCloser {
	return a.clientWriter
}

// Stdout is the reader the client receives frames from.
func (a *Agent) Stdout() io.Reader {
	return a.clientReader
}

// Handle installs h for method, replacing any previous handler. A nil
// handler removes it, so the method answers MethodNotFound.
func (a *Agent) Handle(method string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h == nil {
		delete(a.handlers, method)
		return
	}
	a.handlers[method] = h
}

type silence struct{}

// Calls returns every message received so far.
func (a *Agent) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// Methods returns the method names received so far, in order.
func (a *Agent) Methods() []string {
	calls := a.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// CallsTo returns the messages received for method.
func (a *Agent) CallsTo(method string) []Call {
	var out []Call
	for _, c := range a.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// WaitFor blocks until n messages for method arrived or timeout elapses.
func (a *Agent) WaitFor(method string, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(a.CallsTo(method)) >= n {
			return true
		}
		select {
		case <-a.changed:
		case <-deadline:
			return len(a.CallsTo(method)) >= n
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Notify sends a notification to the client.
func (a *Agent) Notify(method string, params interface{}) error {
	return a.send(map[string]interface{}{"jsonrpc": "2.0", "method": method, "params": params})
}

// SendRaw writes raw bytes to the client, bypassing framing.
func (a *Agent) SendRaw(p []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.agentWriter.Write(p)
	return err
}

// Send frames v and writes it to the client.
func (a *Agent) Send(v interface{}) error {
	return a.send(v)
}

// Exit simulates the agent process dying: the client sees EOF.
func (a *Agent) Exit() {
	a.agentWriter.Close()
}

// Close tears down both pipes.
func (a *Agent) Close() {
	a.agentWriter.Close()
	a.agentReader.Close()
	<-a.done
}

func (a *Agent) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return rpc.WriteFrame(a.agentWriter, data)
}

func (a *Agent) serve() {
	defer close(a.done)

	var dec rpc.Decoder
	buf := make([]byte, 32*1024)
	for {
		n, err := a.agentReader.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				raw, derr := dec.Next()
				if derr != nil {
					continue
				}
				if raw == nil {
					break
				}
				a.handle(raw)
			}
		}
		if err != nil {
			return
		}
	}
}

func (a *Agent) handle(raw json.RawMessage) {
	var msg struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Method == "" {
		return
	}

	isNotification := len(msg.ID) == 0
	a.mu.Lock()
	a.calls = append(a.calls, Call{Method: msg.Method, Params: msg.Params, Notification: isNotification})
	h := a.handlers[msg.Method]
	a.mu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}

	if isNotification {
		return
	}

	if h == nil {
		_ = a.send(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      msg.ID,
			"error":   rpc.ResponseError{Code: rpc.CodeMethodNotFound, Message: "method not found: " + msg.Method},
		})
		return
	}

	result, rpcErr := h(msg.Params)
	if _, quiet := result.(silence); quiet {
		return
	}
	if rpcErr != nil {
		_ = a.send(map[string]interface{}{"jsonrpc": "2.0", "id": msg.ID, "error": rpcErr})
		return
	}
	_ = a.send(map[string]interface{}{"jsonrpc": "2.0", "id": msg.ID, "result": result})
}
