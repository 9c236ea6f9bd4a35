package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"path/filepath"
	"time"

	"github.com/vintner-app/vintner/internal/bottle"
	"github.com/vintner-app/vintner/internal/catalog"
	"github.com/vintner-app/vintner/internal/journal"
	"github.com/vintner-app/vintner/internal/launch"
	"github.com/vintner-app/vintner/internal/protocol"
	"github.com/vintner-app/vintner/internal/recipe"
	"github.com/vintner-app/vintner/internal/shortcut"
)

var errLineTooLong = errors.New("request line exceeds limit")

// ProtocolHandler serves exactly one request on an accepted connection:
// read a newline-framed JSON request, dispatch it, write one response line,
// close.
type ProtocolHandler struct {
	daemon *Daemon
	conn   net.Conn
}

// NewProtocolHandler creates a handler bound to one connection.
func NewProtocolHandler(d *Daemon, conn net.Conn) *ProtocolHandler {
	return &ProtocolHandler{daemon: d, conn: conn}
}

// Handle processes the connection's single request.
func (h *ProtocolHandler) Handle() {
	defer h.conn.Close()

	line, err := readRequestLine(h.conn)
	if err != nil {
		if errors.Is(err, errLineTooLong) {
			h.respond(protocol.ErrorResponse("", protocol.CodeProtocolError, "request exceeds the line size limit"))
		}
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		h.respond(protocol.ErrorResponse("", protocol.CodeProtocolError, fmt.Sprintf("malformed request: %v", err)))
		return
	}

	h.respond(h.dispatch(&req))
}

// readRequestLine reads one newline-terminated request. A missing trailing
// newline before EOF is tolerated; an oversized line is not.
func readRequestLine(conn net.Conn) ([]byte, error) {
	reader := bufio.NewReader(io.LimitReader(conn, protocol.MaxLineBytes+1))
	line, err := reader.ReadBytes('\n')
	if len(line) > protocol.MaxLineBytes {
		return nil, errLineTooLong
	}
	if err != nil {
		if !errors.Is(err, io.EOF) || len(line) == 0 {
			return nil, err
		}
	}
	return line, nil
}

func (h *ProtocolHandler) respond(resp protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[Daemon] encode response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := h.conn.Write(data); err != nil {
		log.Printf("[Daemon] write response: %v", err)
	}
}

func (h *ProtocolHandler) dispatch(req *protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Daemon] panic handling %s: %v", req.Method, r)
			resp = protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, fmt.Sprintf("internal error handling %s", req.Method))
		}
	}()

	switch req.Method {
	case protocol.MethodServiceInfo:
		return h.handleServiceInfo(req)
	case protocol.MethodServicePing:
		return h.handleServicePing(req)
	case protocol.MethodBottleList:
		return h.handleBottleList(req)
	case protocol.MethodBottleCreate:
		return h.handleBottleCreate(req)
	case protocol.MethodBottleDelete:
		return h.handleBottleDelete(req)
	case protocol.MethodBottleRun:
		return h.handleBottleRun(req)
	case protocol.MethodBottleHistory:
		return h.handleBottleHistory(req)
	case protocol.MethodRecipeList:
		return h.handleRecipeList(req)
	case protocol.MethodRecipeApply:
		return h.handleRecipeApply(req)
	case protocol.MethodRuntimeList:
		return h.handleRuntimeList(req)
	case protocol.MethodShortcutCreate:
		return h.handleShortcutCreate(req)
	default:
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (h *ProtocolHandler) handleServiceInfo(req *protocol.Request) protocol.Response {
	runtimes, _, err := h.daemon.catalog.List()
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	if runtimes == nil {
		runtimes = []catalog.Runtime{}
	}
	return h.succeed(req, protocol.InfoResult{
		Version:    h.daemon.version,
		RuntimeDir: h.daemon.paths.RuntimeDir,
		BottleRoot: h.daemon.paths.BottleRoot,
		Runtimes:   runtimes,
	})
}

func (h *ProtocolHandler) handleServicePing(req *protocol.Request) protocol.Response {
	return h.succeed(req, protocol.PingResult{Status: "ok"})
}

func (h *ProtocolHandler) handleBottleList(req *protocol.Request) protocol.Response {
	bottles, err := h.daemon.registry.List()
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	if bottles == nil {
		bottles = []bottle.Bottle{}
	}
	return h.succeed(req, bottles)
}

func (h *ProtocolHandler) handleBottleCreate(req *protocol.Request) protocol.Response {
	var params protocol.CreateBottleParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, err.Error())
	}
	if params.Name == "" {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, "name is required")
	}

	rt, err := h.daemon.catalog.Resolve(catalog.ResolveSpec{
		Path:    params.WinePath,
		Channel: params.Channel,
		Version: params.WineVersion,
		Label:   params.WineLabel,
	})
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}

	record, err := h.daemon.registry.Create(params.Name, bottle.WineRuntime{
		Label:      rt.Label,
		Wine64Path: rt.Wine64Path,
		Version:    rt.Version,
		Channel:    rt.Channel,
	})
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	log.Printf("[Daemon] created bottle %s (%q) on %s", record.ID, record.Name, rt.Label)
	return h.succeed(req, record)
}

func (h *ProtocolHandler) handleBottleDelete(req *protocol.Request) protocol.Response {
	var params protocol.BottleIDParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, err.Error())
	}

	claim := h.daemon.registry.Acquire(params.ID)
	defer claim.Release()

	if err := h.daemon.registry.Delete(params.ID); err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	if err := h.daemon.journal.DeleteBottle(ctx, params.ID); err != nil {
		log.Printf("[Daemon] prune journal for %s: %v", params.ID, err)
	}

	log.Printf("[Daemon] deleted bottle %s", params.ID)
	return h.succeed(req, params.ID)
}

func (h *ProtocolHandler) handleBottleRun(req *protocol.Request) protocol.Response {
	var params protocol.RunParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, err.Error())
	}

	record, err := h.daemon.registry.Get(params.ID)
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}

	prefix := h.daemon.registry.PrefixDir(record.ID)
	spec := launch.RuntimeCommand(
		record.WineRuntime.Wine64Path,
		record.WineRuntime.Channel,
		append([]string{params.Executable}, params.Args...),
		prefix,
		catalog.InstallRoot(record.WineRuntime.Wine64Path),
		bottle.EnvStrings(record.Environment),
		filepath.Join(h.daemon.paths.Logs, "bottle-"+record.ID+".log"),
	)

	started := time.Now()
	outcome, err := h.daemon.supervisor.Launch(h.daemon.ctx, spec)
	h.daemon.recordLaunch(record.ID, params.Executable, params.Args, "run", started, outcome, err)
	if err != nil {
		return h.fail(req, err, protocol.CodeLaunchFailed)
	}
	return h.succeed(req, protocol.RunResult{ExitCode: outcome.ExitCode, Success: outcome.Success})
}

func (h *ProtocolHandler) handleBottleHistory(req *protocol.Request) protocol.Response {
	var params protocol.HistoryParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, err.Error())
	}

	if _, err := h.daemon.registry.Get(params.ID); err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	entries, err := h.daemon.journal.Tail(ctx, params.ID, params.Limit)
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return h.succeed(req, entries)
}

func (h *ProtocolHandler) handleRecipeList(req *protocol.Request) protocol.Response {
	summaries, err := h.daemon.recipes.List()
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	if summaries == nil {
		summaries = []recipe.Summary{}
	}
	return h.succeed(req, summaries)
}

func (h *ProtocolHandler) handleRecipeApply(req *protocol.Request) protocol.Response {
	var params protocol.ApplyParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, err.Error())
	}

	log.Printf("[Daemon] applying recipe %s to bottle %s", params.RecipeID, params.BottleID)
	if err := h.daemon.engine.Apply(h.daemon.ctx, params.BottleID, params.RecipeID); err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	return h.succeed(req, protocol.ApplyResult{Applied: params.RecipeID})
}

func (h *ProtocolHandler) handleRuntimeList(req *protocol.Request) protocol.Response {
	runtimes, skipped, err := h.daemon.catalog.List()
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	for _, s := range skipped {
		log.Printf("[Daemon] runtime scan skipped %s: %s", s.Dir, s.Reason)
	}
	if runtimes == nil {
		runtimes = []catalog.Runtime{}
	}
	return h.succeed(req, protocol.RuntimeListResult{Runtimes: runtimes})
}

func (h *ProtocolHandler) handleShortcutCreate(req *protocol.Request) protocol.Response {
	var params protocol.ShortcutParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, err.Error())
	}
	if params.Executable == "" {
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, "executable is required")
	}

	record, err := h.daemon.registry.Get(params.ID)
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}

	path, err := shortcut.Create(shortcut.Spec{
		BottleID:   record.ID,
		BottleName: record.Name,
		Executable: params.Executable,
		Args:       params.Args,
		Title:      params.Title,
		Directory:  params.Directory,
	})
	if err != nil {
		return h.fail(req, err, protocol.CodeStorageError)
	}
	log.Printf("[Daemon] created shortcut %s for bottle %s", path, record.ID)
	return h.succeed(req, protocol.ShortcutResult{Shortcut: path})
}

func (h *ProtocolHandler) succeed(req *protocol.Request, v interface{}) protocol.Response {
	resp, err := protocol.ResultResponse(req.ID, v)
	if err != nil {
		log.Printf("[Daemon] encode result for %s: %v", req.Method, err)
		return protocol.ErrorResponse(req.ID, protocol.CodeProtocolError, "failed to encode result")
	}
	return resp
}

func (h *ProtocolHandler) fail(req *protocol.Request, err error, fallback string) protocol.Response {
	return protocol.ErrorResponse(req.ID, errorCode(err, fallback), err.Error())
}

// errorCode classifies a domain error into its wire code. Errors outside
// the known taxonomy fall back to the operation's default bucket.
func errorCode(err error, fallback string) string {
	switch {
	case catalog.IsNoRuntime(err):
		return protocol.CodeRuntimeNotFound
	case bottle.IsNotFound(err):
		return protocol.CodeBottleNotFound
	case recipe.IsNotFound(err):
		return protocol.CodeRecipeNotFound
	case recipe.IsInvalid(err):
		return protocol.CodeRecipeInvalid
	case recipe.IsStepError(err):
		return protocol.CodeRecipeFailed
	case launch.IsStartError(err):
		return protocol.CodeLaunchFailed
	default:
		return fallback
	}
}

func decodeParams(req *protocol.Request, v interface{}) error {
	if len(req.Params) == 0 {
		return errors.New("params are required")
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
