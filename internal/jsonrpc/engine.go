// Package jsonrpc implements a bidirectional JSON-RPC 2.0 endpoint over a
// message connection.
//
// An Engine both calls methods on the peer and serves the peer's calls.
// Outgoing requests get ids 1, 2, 3 and so on, never reused for the life of
// the Engine; notifications advance the same counter without carrying an id.
// Incoming messages are validated and either dispatched to a registered
// method handler or matched against pending outgoing calls. Malformed input
// produces an error reply only when the peer expects an answer, so two
// engines can never trap each other in an error loop.
//
// Batch requests are not supported and are rejected with Invalid Request.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageConn is the message-level connection an Engine runs on.
// *framing.Framer satisfies it.
type MessageConn interface {
	Send(msg []byte) error
	SetMessageHandler(fn func(msg []byte, err error))
	OnClosed(fn func(reason error))
}

// ResponseFunc receives the outcome of an outgoing call: the result, or an
// error that is a *Error from the peer or wraps ErrConnectionLost.
// For error responses result holds the error's data member, if any.
type ResponseFunc func(id uint64, result json.RawMessage, err error)

// RequestFunc handles an incoming request or notification. id is nil for
// notifications. Requests are answered with SendResult or SendError, now or
// later.
type RequestFunc func(method string, id *ID, params json.RawMessage)

// Stats holds engine counters.
type Stats struct {
	RequestsSent          uint64
	NotificationsSent     uint64
	ResultsSent           uint64
	ErrorsSent            uint64
	RequestsReceived      uint64
	NotificationsReceived uint64
	ResponsesReceived     uint64
	DroppedResponses      uint64
	ProtocolErrors        uint64
	PendingCalls          int
}

// Engine is a JSON-RPC 2.0 peer.
//
// Thread Safety:
//   - Not safe for concurrent use; it runs on the reactor goroutine.
type Engine struct {
	conn   MessageConn
	logger Logger

	lastID  uint64
	pending map[uint64]ResponseFunc

	handlers        map[string]RequestFunc
	fallback        RequestFunc
	reportAllErrors bool

	aliases *Aliases
	stats   Stats
}

// New creates an Engine on conn. It installs itself as conn's message
// handler and fails pending calls whenever conn closes.
func New(conn MessageConn, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	e := &Engine{
		conn:     conn,
		logger:   logger,
		pending:  make(map[uint64]ResponseFunc),
		handlers: make(map[string]RequestFunc),
		aliases:  newAliases(),
	}
	conn.SetMessageHandler(e.HandleMessage)
	conn.OnClosed(e.Reset)
	return e
}

// Handle registers fn for method, taking precedence over the fallback
// request handler. A nil fn removes the registration.
func (e *Engine) Handle(method string, fn RequestFunc) {
	if fn == nil {
		delete(e.handlers, method)
		return
	}
	e.handlers[method] = fn
}

// SetRequestHandler sets the handler for methods without a registration.
func (e *Engine) SetRequestHandler(fn RequestFunc) {
	e.fallback = fn
}

// SetReportAllErrors makes the engine send error replies for every
// malformed message, not only for requests that expect an answer.
func (e *Engine) SetReportAllErrors(on bool) {
	e.reportAllErrors = on
}

// Aliases returns the connection-scoped side table.
func (e *Engine) Aliases() *Aliases {
	return e.aliases
}

// Pending returns the number of calls awaiting a response.
func (e *Engine) Pending() int {
	return len(e.pending)
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.PendingCalls = len(e.pending)
	return s
}

type requestMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
}

type resultMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      ID              `json:"id"`
}

type errorMessage struct {
	JSONRPC string `json:"jsonrpc"`
	Error   *Error `json:"error"`
	ID      *ID    `json:"id"`
}

// SendRequest sends a method call, or a notification when cb is nil.
// params may be nil, a json.RawMessage, or any value encoding/json accepts.
//
// Returns:
//   - uint64: the request id; for notifications the counter value consumed
//   - error: encoding or send failure; no pending entry remains on error
func (e *Engine) SendRequest(method string, params any, cb ResponseFunc) (uint64, error) {
	if method == "" {
		return 0, ErrEmptyMethod
	}
	raw, err := encodeValue(params)
	if err != nil {
		return 0, fmt.Errorf("encoding params for %s: %w", method, err)
	}

	e.lastID++
	id := e.lastID
	msg := requestMessage{JSONRPC: "2.0", Method: method, Params: raw}
	if cb != nil {
		msg.ID = &id
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return id, fmt.Errorf("encoding request %s: %w", method, err)
	}
	if cb != nil {
		e.pending[id] = cb
	}
	if err := e.conn.Send(data); err != nil {
		delete(e.pending, id)
		return id, err
	}

	if cb != nil {
		e.stats.RequestsSent++
	} else {
		e.stats.NotificationsSent++
	}
	e.logger.Debug("sent request", "method", method, "id", id, "notification", cb == nil)
	return id, nil
}

// SendNotification sends a request that expects no answer.
func (e *Engine) SendNotification(method string, params any) error {
	_, err := e.SendRequest(method, params, nil)
	return err
}

// SendResult answers request id with result, which may be nil for a null result.
func (e *Engine) SendResult(id ID, result any) error {
	if id == "" {
		return ErrMissingID
	}
	raw, err := encodeValue(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	data, err := json.Marshal(resultMessage{JSONRPC: "2.0", Result: raw, ID: id})
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := e.conn.Send(data); err != nil {
		return err
	}
	e.stats.ResultsSent++
	return nil
}

// SendError answers request id with an error. A nil id is sent as null; an
// empty message becomes "Error code <n> (0x<hex>)".
func (e *Engine) SendError(id *ID, code int, message string, data any) error {
	rpcErr := NewError(code, message)
	raw, err := encodeValue(data)
	if err != nil {
		return fmt.Errorf("encoding error data: %w", err)
	}
	rpcErr.Data = raw
	return e.sendError(id, rpcErr)
}

func (e *Engine) sendError(id *ID, rpcErr *Error) error {
	data, err := json.Marshal(errorMessage{JSONRPC: "2.0", Error: rpcErr, ID: id})
	if err != nil {
		return fmt.Errorf("encoding error: %w", err)
	}
	if err := e.conn.Send(data); err != nil {
		return err
	}
	e.stats.ErrorsSent++
	return nil
}

// Reset fails every pending call with an error wrapping ErrConnectionLost
// and clears the alias table. It runs automatically when the connection
// closes. Callbacks run in id order and may issue new calls.
func (e *Engine) Reset(reason error) {
	e.aliases.Clear()
	if len(e.pending) == 0 {
		return
	}

	ids := make([]uint64, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	failed := e.pending
	e.pending = make(map[uint64]ResponseFunc)

	err := ErrConnectionLost
	if reason != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, reason)
	}
	e.logger.Info("failing pending calls", "count", len(ids), "reason", reason)
	for _, id := range ids {
		failed[id](id, nil, err)
	}
}

// HandleMessage processes one incoming message or framing error.
func (e *Engine) HandleMessage(msg []byte, ferr error) {
	if ferr != nil {
		e.reject(nil, false, NewError(CodeServerError, ferr.Error()))
		return
	}

	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return
	}
	if !json.Valid(msg) {
		e.reject(nil, false, NewError(CodeParseError, "Parse error - invalid JSON"))
		return
	}

	switch msg[0] {
	case '[':
		e.reject(nil, batchExpectsAnswer(msg),
			NewError(CodeInvalidRequest, "Invalid Request - batch mode not supported"))
		return
	case '{':
	default:
		e.reject(nil, false, NewError(CodeInvalidRequest, "Invalid Request - request must be JSON object"))
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		e.reject(nil, false, NewError(CodeParseError, err.Error()))
		return
	}

	var id *ID
	if raw, ok := fields["id"]; ok && !isNull(raw) {
		v := ID(raw)
		id = &v
	}
	methodRaw, hasMethod := fields["method"]
	safe := hasMethod && id != nil

	version, ok := fields["jsonrpc"]
	if !ok {
		e.reject(id, safe, NewError(CodeInvalidRequest, "Invalid Request - missing 'jsonrpc'"))
		return
	}
	var v string
	if err := json.Unmarshal(version, &v); err != nil || v != "2.0" {
		e.reject(id, safe, NewError(CodeInvalidRequest, "Invalid Request - wrong version in 'jsonrpc'"))
		return
	}

	if hasMethod {
		e.handleRequest(methodRaw, id, fields["params"], safe)
		return
	}
	e.handleResponse(fields, id)
}

func (e *Engine) handleRequest(methodRaw json.RawMessage, id *ID, params json.RawMessage, safe bool) {
	var method string
	if err := json.Unmarshal(methodRaw, &method); err != nil {
		e.reject(id, safe, NewError(CodeInvalidRequest, "Invalid Request - 'method' must be a string"))
		return
	}
	if method == "" {
		e.reject(id, safe, NewError(CodeInvalidRequest, "Invalid Request - empty 'method'"))
		return
	}

	fn, ok := e.handlers[method]
	if !ok {
		fn = e.fallback
	}
	if fn == nil {
		e.reject(id, safe, NewError(CodeMethodNotFound, "Method not found"))
		return
	}

	if isNull(params) {
		params = nil
	}
	if params != nil && params[0] != '{' && params[0] != '[' {
		e.reject(id, safe, NewError(CodeInvalidRequest, "Invalid Request - 'params' must be object or array"))
		return
	}

	if id != nil {
		e.stats.RequestsReceived++
	} else {
		e.stats.NotificationsReceived++
	}
	fn(method, id, params)
}

func (e *Engine) handleResponse(fields map[string]json.RawMessage, id *ID) {
	var (
		result  json.RawMessage
		respErr *Error
		local   bool
	)

	if raw, ok := fields["result"]; ok {
		result = raw
	} else if raw, ok := fields["error"]; ok && !isNull(raw) {
		respErr, result = decodeErrorObject(raw)
	} else {
		respErr = NewError(CodeInternalError, "Internal JSON-RPC error - response with neither 'result' nor 'error'")
		local = true
	}

	if id == nil {
		if local {
			e.reject(nil, false, respErr)
			return
		}
		e.stats.DroppedResponses++
		e.logger.Warn("received response without id that cannot be dispatched", "error", respErr)
		return
	}

	n, ok := id.Number()
	var cb ResponseFunc
	if ok {
		cb, ok = e.pending[n]
	}
	if !ok {
		e.stats.DroppedResponses++
		e.logger.Warn("received response with unknown id", "id", string(*id))
		return
	}
	delete(e.pending, n)
	e.stats.ResponsesReceived++

	if respErr != nil {
		cb(n, result, respErr)
		return
	}
	cb(n, result, nil)
}

// reject sends rpcErr back when that is safe or all errors are reported,
// and logs it otherwise.
func (e *Engine) reject(id *ID, safe bool, rpcErr *Error) {
	e.stats.ProtocolErrors++
	if !safe && !e.reportAllErrors {
		e.logger.Warn("received data that generated an error which cannot be sent back",
			"code", rpcErr.Code, "message", rpcErr.Message)
		return
	}
	if err := e.sendError(id, rpcErr); err != nil {
		e.logger.Warn("sending error reply failed", "code", rpcErr.Code, "error", err)
	}
}

// decodeErrorObject extracts code, message and data from an error member.
func decodeErrorObject(raw json.RawMessage) (*Error, json.RawMessage) {
	rpcErr := &Error{Code: CodeInternalError, Message: "malformed Error response"}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return rpcErr, nil
	}
	if c, ok := fields["code"]; ok {
		var code float64
		if err := json.Unmarshal(c, &code); err == nil {
			rpcErr.Code = int(code)
		}
	}
	if m, ok := fields["message"]; ok {
		var msg string
		if err := json.Unmarshal(m, &msg); err == nil {
			rpcErr.Message = msg
		} else {
			rpcErr.Message = string(m)
		}
	}
	data := fields["data"]
	if isNull(data) {
		data = nil
	}
	rpcErr.Data = data
	return rpcErr, data
}

// batchExpectsAnswer reports whether any element of a batch is a request
// carrying an id.
func batchExpectsAnswer(msg []byte) bool {
	var elems []map[string]json.RawMessage
	if err := json.Unmarshal(msg, &elems); err != nil {
		return false
	}
	for _, el := range elems {
		_, hasMethod := el["method"]
		id, hasID := el["id"]
		if hasMethod && hasID && !isNull(id) {
			return true
		}
	}
	return false
}

func encodeValue(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(x) {
			return nil, ErrInvalidValue
		}
		return x, nil
	}
	return json.Marshal(v)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
