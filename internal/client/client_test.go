package client

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vintner-app/vintner/internal/protocol"
)

// serveOnce answers exactly one connection on a fresh socket. respond
// receives the decoded request and returns the raw response line.
func serveOnce(t *testing.T, respond func(req protocol.Request) string) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "vintner-")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	socketPath := filepath.Join(dir, "vintner.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))

		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		io.WriteString(conn, respond(req))
	}()

	return socketPath
}

func resultLine(t *testing.T, id string, v interface{}) string {
	t.Helper()
	resp, err := protocol.ResultResponse(id, v)
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	return string(data) + "\n"
}

func TestCallRoundTrip(t *testing.T) {
	var seen protocol.Request
	socketPath := serveOnce(t, func(req protocol.Request) string {
		seen = req
		return resultLine(t, req.ID, protocol.PingResult{Status: "ok"})
	})

	result, err := New(socketPath).Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if result.Status != "ok" {
		t.Errorf("status = %q, want ok", result.Status)
	}
	if seen.Method != protocol.MethodServicePing {
		t.Errorf("method = %q, want %q", seen.Method, protocol.MethodServicePing)
	}
	if seen.ID == "" {
		t.Errorf("request carried no id")
	}
}

func TestCallSendsParams(t *testing.T) {
	socketPath := serveOnce(t, func(req protocol.Request) string {
		var params protocol.ApplyParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return resultLine(t, req.ID, protocol.ApplyResult{})
		}
		return resultLine(t, req.ID, protocol.ApplyResult{Applied: params.RecipeID})
	})

	result, err := New(socketPath).Apply("b-1", "steam-install")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Applied != "steam-install" {
		t.Errorf("applied = %q, want steam-install", result.Applied)
	}
}

func TestCallDaemonError(t *testing.T) {
	socketPath := serveOnce(t, func(req protocol.Request) string {
		resp := protocol.ErrorResponse(req.ID, protocol.CodeBottleNotFound, "bottle b-1 not found")
		data, _ := json.Marshal(resp)
		return string(data) + "\n"
	})

	_, err := New(socketPath).Bottles()
	if err == nil {
		t.Fatalf("expected daemon error")
	}
	if ErrorCode(err) != protocol.CodeBottleNotFound {
		t.Errorf("code = %q, want %q", ErrorCode(err), protocol.CodeBottleNotFound)
	}
	if !strings.Contains(err.Error(), "bottle b-1 not found") {
		t.Errorf("error = %q, want daemon message", err)
	}
}

func TestCallNoDaemon(t *testing.T) {
	dir, err := os.MkdirTemp("", "vintner-")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	_, err = New(filepath.Join(dir, "vintner.sock")).Ping()
	if err == nil {
		t.Fatalf("expected connect failure")
	}
	if !strings.Contains(err.Error(), "connect to daemon") {
		t.Errorf("error = %q, want connect failure", err)
	}
	if ErrorCode(err) != "" {
		t.Errorf("transport failure carries a wire code: %q", ErrorCode(err))
	}
}

func TestCallIDMismatch(t *testing.T) {
	socketPath := serveOnce(t, func(req protocol.Request) string {
		return resultLine(t, "someone-else", protocol.PingResult{Status: "ok"})
	})

	_, err := New(socketPath).Ping()
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected id mismatch error, got %v", err)
	}
}

func TestCallEmptyResponse(t *testing.T) {
	socketPath := serveOnce(t, func(req protocol.Request) string {
		return ""
	})

	_, err := New(socketPath).Ping()
	if err == nil || !strings.Contains(err.Error(), "without a response") {
		t.Fatalf("expected closed-connection error, got %v", err)
	}
}

func TestCallToleratesMissingNewline(t *testing.T) {
	socketPath := serveOnce(t, func(req protocol.Request) string {
		return strings.TrimSuffix(resultLine(t, req.ID, protocol.PingResult{Status: "ok"}), "\n")
	})

	result, err := New(socketPath).Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if result.Status != "ok" {
		t.Errorf("status = %q, want ok", result.Status)
	}
}

func TestDeleteBottleDecodesBareString(t *testing.T) {
	socketPath := serveOnce(t, func(req protocol.Request) string {
		var params protocol.BottleIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return resultLine(t, req.ID, "")
		}
		return resultLine(t, req.ID, params.ID)
	})

	deleted, err := New(socketPath).DeleteBottle("b-42")
	if err != nil {
		t.Fatalf("DeleteBottle: %v", err)
	}
	if deleted != "b-42" {
		t.Errorf("deleted = %q, want b-42", deleted)
	}
}
