package main

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
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local tools (toyctl, scripts, a vibe-room bridge feeding stream segments)
// send JSON events to the daemon over a unix socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//
// "ok" means the event was queued. Rejections by the session are reported to
// state websocket clients as command_failed.
// ============================================================================

// maxIPCLine bounds one request line; stream_segments batches can be large.
const maxIPCLine = 1 << 20

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
}

// IPCServerConfig controls who may talk to the daemon.
type IPCServerConfig struct {
	SocketPath  string
	AllowAnyUID bool
}

// runIPCServer serves the unix socket until ctx is canceled.
func runIPCServer(ctx context.Context, cfg IPCServerConfig, events chan<- Event, logger *slog.Logger) error {
	socketPath := ExpandPath(cfg.SocketPath)
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	mode := os.FileMode(0o600)
	if cfg.AllowAnyUID {
		mode = 0o666
	}
	if err := os.Chmod(socketPath, mode); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath, "allow_any_uid", cfg.AllowAnyUID)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		if !cfg.AllowAnyUID {
			if err := checkPeer(conn); err != nil {
				logger.Warn("IPC peer rejected", "error", err)
				_ = json.NewEncoder(conn).Encode(IPCResponse{Status: "error", Error: "permission denied"})
				conn.Close()
				continue
			}
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// checkPeer rejects peers running under another uid. Platforms without peer
// credentials rely on the socket file mode alone.
func checkPeer(conn net.Conn) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	uid, err := peerUID(uc)
	if errors.Is(err, errPeerCredUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("peer credentials: %w", err)
	}
	if self := os.Getuid(); uid != self {
		return fmt.Errorf("peer uid %d does not match daemon uid %d", uid, self)
	}
	return nil
}

func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxIPCLine)
	encoder := json.NewEncoder(conn)

	reply := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "bytes", len(line))

		ev, err := UnmarshalEvent(line)
		if err != nil {
			reply(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		select {
		case events <- ev:
			reply(IPCResponse{Status: "ok"})
		case <-ctx.Done():
			reply(IPCResponse{Status: "error", Error: "daemon shutting down"})
			return
		default:
			reply(IPCResponse{Status: "error", Error: "event queue full"})
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("IPC read error", "error", err)
	}

	logger.Debug("IPC connection closed")
}

// SendIPCEvent sends an event to the daemon via IPC and returns the response
func SendIPCEvent(socketPath string, ev Event) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}
