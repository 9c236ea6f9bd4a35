// Package protocol defines the wire contract spoken over the daemon's
// Unix socket: newline-delimited JSON, one request and one response per
// connection. Field names follow the persisted bottle record convention
// (snake_case).
package protocol

import (
	"encoding/json"

	"github.com/vintner-app/vintner/internal/catalog"
)

// MaxLineBytes caps a single request or response line. Anything larger
// is rejected as a protocol error before JSON decoding is attempted.
const MaxLineBytes = 1 << 20

// Request represents a client request to the daemon.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorDetail carries a stable machine-readable code plus a human-readable
// message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response represents a daemon response. Exactly one of Result and Error
// is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// Methods understood by the daemon.
const (
	MethodServiceInfo    = "service.info"
	MethodServicePing    = "service.ping"
	MethodBottleList     = "bottle.list"
	MethodBottleCreate   = "bottle.create"
	MethodBottleDelete   = "bottle.delete"
	MethodBottleRun      = "bottle.run"
	MethodBottleHistory  = "bottle.history"
	MethodRecipeList     = "recipe.list"
	MethodRecipeApply    = "recipe.apply"
	MethodRuntimeList    = "runtime.list"
	MethodShortcutCreate = "shortcut.create"
)

// Error codes carried in ErrorDetail.Code.
const (
	CodeRuntimeNotFound = "runtime_not_found"
	CodeBottleNotFound  = "bottle_not_found"
	CodeRecipeNotFound  = "recipe_not_found"
	CodeRecipeInvalid   = "recipe_invalid"
	CodeLaunchFailed    = "launch_failed"
	CodeRecipeFailed    = "recipe_failed"
	CodeStorageError    = "storage_error"
	CodeProtocolError   = "protocol_error"
)

// CreateBottleParams are the parameters for bottle.create.
type CreateBottleParams struct {
	Name        string `json:"name"`
	WineVersion string `json:"wine_version"`
	WineLabel   string `json:"wine_label,omitempty"`
	WinePath    string `json:"wine_path,omitempty"`
	Channel     string `json:"channel,omitempty"`
}

// BottleIDParams are the parameters for methods addressing one bottle.
type BottleIDParams struct {
	ID string `json:"id"`
}

// RunParams are the parameters for bottle.run.
type RunParams struct {
	ID         string   `json:"id"`
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
}

// HistoryParams are the parameters for bottle.history.
type HistoryParams struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

// ApplyParams are the parameters for recipe.apply.
type ApplyParams struct {
	BottleID string `json:"bottle_id"`
	RecipeID string `json:"recipe_id"`
}

// ShortcutParams are the parameters for shortcut.create.
type ShortcutParams struct {
	ID         string   `json:"id"`
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
	Title      string   `json:"title,omitempty"`
	Directory  string   `json:"directory,omitempty"`
}

// PingResult is the result of service.ping.
type PingResult struct {
	Status string `json:"status"`
}

// InfoResult is the result of service.info.
type InfoResult struct {
	Version    string            `json:"version"`
	RuntimeDir string            `json:"runtime_dir"`
	BottleRoot string            `json:"bottle_root"`
	Runtimes   []catalog.Runtime `json:"runtimes"`
}

// RuntimeListResult is the result of runtime.list.
type RuntimeListResult struct {
	Runtimes []catalog.Runtime `json:"runtimes"`
}

// RunResult is the result of bottle.run.
type RunResult struct {
	ExitCode int  `json:"exit_code"`
	Success  bool `json:"success"`
}

// ApplyResult is the result of recipe.apply.
type ApplyResult struct {
	Applied string `json:"applied"`
}

// ShortcutResult is the result of shortcut.create.
type ShortcutResult struct {
	Shortcut string `json:"shortcut"`
}

// ResultResponse builds a success response, marshaling v as the result.
func ResultResponse(id string, v interface{}) (Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: id, Result: payload}, nil
}

// ErrorResponse builds an error response with the given code and message.
func ErrorResponse(id, code, message string) Response {
	return Response{ID: id, Error: &ErrorDetail{Code: code, Message: message}}
}
