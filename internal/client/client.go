// Package client speaks the daemon's socket protocol on behalf of the
// CLI: one connection, one newline-framed request, one response.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/vintner-app/vintner/internal/bottle"
	"github.com/vintner-app/vintner/internal/catalog"
	"github.com/vintner-app/vintner/internal/journal"
	"github.com/vintner-app/vintner/internal/protocol"
	"github.com/vintner-app/vintner/internal/recipe"
)

// dialTimeout bounds connecting only. Requests run unbounded because a
// recipe application is open-ended.
const dialTimeout = 5 * time.Second

// Error is a failure the daemon reported, carrying the stable wire code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// ErrorCode returns the wire code carried by err, or "" when err did not
// come from the daemon.
func ErrorCode(err error) string {
	var daemonErr *Error
	if errors.As(err, &daemonErr) {
		return daemonErr.Code
	}
	return ""
}

// Client dials a daemon socket. The zero value is not usable; construct
// with New.
type Client struct {
	socketPath string
}

// New returns a client for the daemon listening at socketPath.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends one request and decodes the daemon's result into out. A nil
// out discards the result. Daemon-reported failures come back as *Error.
func (c *Client) Call(method string, params, out interface{}) error {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return fmt.Errorf("client: connect to daemon at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	req := protocol.Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("client: encode params: %w", err)
		}
		req.Params = payload
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("client: send request: %w", err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &Error{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.ID != req.ID {
		return fmt.Errorf("client: response id %q does not match request %q", resp.ID, req.ID)
	}
	if out == nil {
		return nil
	}
	if resp.Result == nil {
		return fmt.Errorf("client: response carries no result")
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("client: decode result: %w", err)
	}
	return nil
}

func readResponse(conn net.Conn) (protocol.Response, error) {
	reader := bufio.NewReader(io.LimitReader(conn, protocol.MaxLineBytes+1))
	line, err := reader.ReadBytes('\n')
	if len(line) > protocol.MaxLineBytes {
		return protocol.Response{}, fmt.Errorf("client: response exceeds the line size limit")
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return protocol.Response{}, fmt.Errorf("client: read response: %w", err)
		}
		if len(line) == 0 {
			return protocol.Response{}, fmt.Errorf("client: daemon closed the connection without a response")
		}
	}

	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("client: decode response: %w", err)
	}
	return resp, nil
}

// Ping checks daemon liveness.
func (c *Client) Ping() (protocol.PingResult, error) {
	var result protocol.PingResult
	err := c.Call(protocol.MethodServicePing, nil, &result)
	return result, err
}

// Info fetches the daemon's layout and runtime catalog.
func (c *Client) Info() (protocol.InfoResult, error) {
	var result protocol.InfoResult
	err := c.Call(protocol.MethodServiceInfo, nil, &result)
	return result, err
}

// Bottles lists every bottle the daemon tracks.
func (c *Client) Bottles() ([]bottle.Bottle, error) {
	var bottles []bottle.Bottle
	err := c.Call(protocol.MethodBottleList, nil, &bottles)
	return bottles, err
}

// CreateBottle provisions a bottle on a resolved runtime.
func (c *Client) CreateBottle(params protocol.CreateBottleParams) (bottle.Bottle, error) {
	var record bottle.Bottle
	err := c.Call(protocol.MethodBottleCreate, params, &record)
	return record, err
}

// DeleteBottle removes a bottle and returns the deleted id.
func (c *Client) DeleteBottle(id string) (string, error) {
	var deleted string
	err := c.Call(protocol.MethodBottleDelete, protocol.BottleIDParams{ID: id}, &deleted)
	return deleted, err
}

// Run launches an executable inside a bottle and waits for it.
func (c *Client) Run(params protocol.RunParams) (protocol.RunResult, error) {
	var result protocol.RunResult
	err := c.Call(protocol.MethodBottleRun, params, &result)
	return result, err
}

// History returns a bottle's launch journal, newest first.
func (c *Client) History(id string, limit int) ([]journal.Entry, error) {
	var entries []journal.Entry
	err := c.Call(protocol.MethodBottleHistory, protocol.HistoryParams{ID: id, Limit: limit}, &entries)
	return entries, err
}

// Recipes lists the recipes the daemon can apply.
func (c *Client) Recipes() ([]recipe.Summary, error) {
	var summaries []recipe.Summary
	err := c.Call(protocol.MethodRecipeList, nil, &summaries)
	return summaries, err
}

// Apply runs a recipe against a bottle.
func (c *Client) Apply(bottleID, recipeID string) (protocol.ApplyResult, error) {
	var result protocol.ApplyResult
	err := c.Call(protocol.MethodRecipeApply, protocol.ApplyParams{BottleID: bottleID, RecipeID: recipeID}, &result)
	return result, err
}

// Runtimes lists the wine runtimes the daemon can bind bottles to.
func (c *Client) Runtimes() ([]catalog.Runtime, error) {
	var result protocol.RuntimeListResult
	err := c.Call(protocol.MethodRuntimeList, nil, &result)
	return result.Runtimes, err
}

// CreateShortcut writes an app bundle that relaunches through the daemon.
func (c *Client) CreateShortcut(params protocol.ShortcutParams) (string, error) {
	var result protocol.ShortcutResult
	err := c.Call(protocol.MethodShortcutCreate, params, &result)
	return result.Shortcut, err
}
