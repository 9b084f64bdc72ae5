package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// Response is sent back for every request line.
type Response struct {
	Status string          `json:"status"` // "ok" or "error"
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ErrRemote wraps error responses returned by the daemon.
var ErrRemote = errors.New("ipc error")

// Handler executes a request. A non-nil result is returned as Response.Data.
type Handler func(ctx context.Context, req Request) (any, error)

// Serve listens on socketPath until ctx is canceled.
func Serve(ctx context.Context, socketPath string, h Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleConn(ctx, conn, h, logger)
	}
}

func handleConn(ctx context.Context, conn net.Conn, h Handler, logger *slog.Logger) {
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		resp := dispatch(ctx, []byte(line), h)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func dispatch(ctx context.Context, line []byte, h Handler) Response {
	req, err := Unmarshal(line)
	if err != nil {
		return Response{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
	}
	result, err := h(ctx, req)
	if err != nil {
		return Response{Status: "error", Error: err.Error()}
	}
	resp := Response{Status: "ok"}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return Response{Status: "error", Error: fmt.Sprintf("encode result: %v", err)}
		}
		resp.Data = data
	}
	return resp
}

// Send delivers one request and waits for the response. Error responses are
// returned as errors wrapping ErrRemote.
func Send(socketPath string, req Request, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := Marshal(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}
