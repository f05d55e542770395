package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/nerrad567/gray-logic-bridged/internal/jsonrpc"
)

var (
	errQuit          = errors.New("quit")
	errEmptyMethod   = errors.New("missing method name")
	errInvalidParams = errors.New("params must be a JSON array or object")
)

// command is one parsed input line.
type command struct {
	method string
	params json.RawMessage
	notify bool
}

// parseCommand reads "method [params]" or "!method [params]" for a
// notification. params may use JSONC (comments, trailing commas).
// Blank lines and lines starting with # yield a nil command.
func parseCommand(line string) (*command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	if line == "quit" || line == "exit" {
		return nil, errQuit
	}

	cmd := &command{}
	if rest, ok := strings.CutPrefix(line, "!"); ok {
		cmd.notify = true
		line = strings.TrimSpace(rest)
	}

	method, params, _ := strings.Cut(line, " ")
	if method == "" {
		return nil, errEmptyMethod
	}
	cmd.method = method

	params = strings.TrimSpace(params)
	if params == "" {
		return cmd, nil
	}
	raw := bytes.TrimSpace(jsonc.ToJSON([]byte(params)))
	if len(raw) == 0 || (raw[0] != '[' && raw[0] != '{') || !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s", errInvalidParams, params)
	}
	cmd.params = raw
	return cmd, nil
}

// console turns stdin lines into calls and prints everything the peer sends.
//
// Thread Safety:
//   - Not safe for concurrent use; it runs on the reactor goroutine.
type console struct {
	engine *jsonrpc.Engine
	out    io.Writer
	quit   func()

	buf          []byte
	outstanding  int
	exitWhenIdle bool
}

func newConsole(engine *jsonrpc.Engine, out io.Writer, quit func()) *console {
	c := &console{engine: engine, out: out, quit: quit}
	engine.SetRequestHandler(c.peerMessage)
	return c
}

// feed consumes raw input bytes and runs every complete line.
func (c *console) feed(data []byte) {
	c.buf = append(c.buf, data...)
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			return
		}
		line := string(c.buf[:i])
		c.buf = c.buf[i+1:]
		c.exec(line)
	}
}

// eof runs a trailing unterminated line, then quits once every call has
// been answered.
func (c *console) eof() {
	if len(c.buf) > 0 {
		line := string(c.buf)
		c.buf = nil
		c.exec(line)
	}
	c.exitWhenIdle = true
	c.maybeQuit()
}

func (c *console) exec(line string) {
	cmd, err := parseCommand(line)
	if errors.Is(err, errQuit) {
		c.quit()
		return
	}
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	if cmd == nil {
		return
	}

	var params any
	if cmd.params != nil {
		params = cmd.params
	}

	if cmd.notify {
		if err := c.engine.SendNotification(cmd.method, params); err != nil {
			fmt.Fprintf(c.out, "! %s: %v\n", cmd.method, err)
		}
		return
	}

	id, err := c.engine.SendRequest(cmd.method, params, c.response)
	if err != nil {
		fmt.Fprintf(c.out, "! %s: %v\n", cmd.method, err)
		return
	}
	c.outstanding++
	fmt.Fprintf(c.out, "> [%d] %s\n", id, cmd.method)
}

func (c *console) response(id uint64, result json.RawMessage, err error) {
	c.outstanding--
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		fmt.Fprintf(c.out, "< [%d] error %d: %s", id, rpcErr.Code, rpcErr.Message)
		if len(result) > 0 {
			fmt.Fprintf(c.out, " %s", result)
		}
		fmt.Fprintln(c.out)
	case err != nil:
		fmt.Fprintf(c.out, "< [%d] failed: %v\n", id, err)
	default:
		fmt.Fprintf(c.out, "< [%d] %s\n", id, result)
	}
	c.maybeQuit()
}

// peerMessage prints requests and notifications from the peer. Requests
// are answered with Method Not Found; the console serves nothing.
func (c *console) peerMessage(method string, id *jsonrpc.ID, params json.RawMessage) {
	if id == nil {
		fmt.Fprintf(c.out, "* %s %s\n", method, params)
		return
	}
	fmt.Fprintf(c.out, "? [%s] %s %s\n", id.String(), method, params)
	if err := c.engine.SendError(id, jsonrpc.CodeMethodNotFound, "Method not found", nil); err != nil {
		fmt.Fprintf(c.out, "! answering %s: %v\n", method, err)
	}
}

func (c *console) maybeQuit() {
	if c.exitWhenIdle && c.outstanding <= 0 {
		c.quit()
	}
}
