package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"toyremote/remote"
)

// ============================================================================
// toyctl - command-line client for toyremoted
// ============================================================================
// Commands are sent over the daemon's IPC socket as line-delimited JSON
// envelopes. "watch" follows the state websocket instead.
//
// Usage:
//   toyctl power on
//   toyctl play wave -loop
//   toyctl drag Lovense/Edge 0 0.6
//   toyctl stream segments.yaml -enactor peer
//   toyctl watch
// ============================================================================

// envelope mirrors the daemon's EventEnvelope.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ipcResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := flag.String("socket", "/tmp/toyremote.sock", "Unix domain socket path of the daemon")
	wsURL := flag.String("ws", "ws://127.0.0.1:8091/ws/state", "State websocket URL (watch only)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "watch" {
		if err := watch(*wsURL); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	env, err := buildEnvelope(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := send(*socketPath, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

// buildEnvelope turns a subcommand and its arguments into a wire envelope.
func buildEnvelope(cmd string, args []string) (envelope, error) {
	switch cmd {
	case "power":
		fs := flag.NewFlagSet("power", flag.ContinueOnError)
		enactor := fs.String("enactor", "", "Acting user (default: owner)")
		state, rest := splitLeading(args)
		if err := fs.Parse(rest); err != nil {
			return envelope{}, err
		}
		on, err := parseOnOff(state)
		if err != nil {
			return envelope{}, err
		}
		return makeEnvelope("set_power", map[string]any{"on": on, "enactor": *enactor})

	case "play":
		fs := flag.NewFlagSet("play", flag.ContinueOnError)
		start := fs.Int("start", 0, "Start offset in ms")
		dur := fs.Int("duration", 0, "Duration in ms (0 = to the end)")
		loop := fs.Bool("loop", false, "Loop playback; -loop=false plays a looping pattern once (default: the pattern's own setting)")
		enactor := fs.String("enactor", "", "Acting user (default: owner)")
		pattern, rest := splitLeading(args)
		if err := fs.Parse(rest); err != nil {
			return envelope{}, err
		}
		if pattern == "" {
			return envelope{}, errors.New("play requires a pattern id or name")
		}
		data := map[string]any{
			"pattern":     pattern,
			"start_ms":    *start,
			"duration_ms": *dur,
			"enactor":     *enactor,
		}
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "loop" {
				data["loop"] = *loop
			}
		})
		return makeEnvelope("play_pattern", data)

	case "stop":
		fs := flag.NewFlagSet("stop", flag.ContinueOnError)
		enactor := fs.String("enactor", "", "Acting user (default: owner)")
		if err := fs.Parse(args); err != nil {
			return envelope{}, err
		}
		return makeEnvelope("stop_pattern", map[string]any{"enactor": *enactor})

	case "record":
		if len(args) == 0 {
			return envelope{}, errors.New("record requires prepare|start|stop|cancel")
		}
		switch args[0] {
		case "prepare":
			return envelope{Type: "prepare_recording"}, nil
		case "start":
			name := strings.Join(args[1:], " ")
			return makeEnvelope("start_recording", map[string]any{"name": name})
		case "stop":
			return envelope{Type: "stop_recording"}, nil
		case "cancel":
			return envelope{Type: "cancel_recording"}, nil
		default:
			return envelope{}, fmt.Errorf("unknown record action: %s", args[0])
		}

	case "drag":
		if len(args) != 3 {
			return envelope{}, errors.New("drag requires <brand[/kind]> <motor> <position>")
		}
		data, err := motorData(args[0], args[1])
		if err != nil {
			return envelope{}, err
		}
		pos, err := strconv.ParseFloat(args[2], 64)
		if err != nil || pos < 0 || pos > 1 {
			return envelope{}, fmt.Errorf("position must be a number in [0, 1]: %q", args[2])
		}
		data["position"] = pos
		return makeEnvelope("set_position", data)

	case "release":
		if len(args) != 2 {
			return envelope{}, errors.New("release requires <brand[/kind]> <motor>")
		}
		data, err := motorData(args[0], args[1])
		if err != nil {
			return envelope{}, err
		}
		return makeEnvelope("end_drag", data)

	case "enable", "disable":
		if len(args) != 1 {
			return envelope{}, fmt.Errorf("%s requires <brand[/kind]>", cmd)
		}
		data := deviceData(args[0])
		data["enabled"] = cmd == "enable"
		return makeEnvelope("set_device_enabled", data)

	case "loop", "float":
		if len(args) != 3 {
			return envelope{}, fmt.Errorf("%s requires <brand[/kind]> <motor> on|off", cmd)
		}
		data, err := motorData(args[0], args[1])
		if err != nil {
			return envelope{}, err
		}
		on, err := parseOnOff(args[2])
		if err != nil {
			return envelope{}, err
		}
		data["on"] = on
		if cmd == "loop" {
			return makeEnvelope("set_motor_loop", data)
		}
		return makeEnvelope("set_motor_float", data)

	case "stream":
		fs := flag.NewFlagSet("stream", flag.ContinueOnError)
		enactor := fs.String("enactor", "", "Acting peer (default: owner field of the file)")
		path, rest := splitLeading(args)
		if err := fs.Parse(rest); err != nil {
			return envelope{}, err
		}
		if path == "" {
			return envelope{}, errors.New("stream requires a segments file")
		}
		batch, err := loadStreamBatch(path)
		if err != nil {
			return envelope{}, err
		}
		if *enactor != "" {
			batch.Owner = *enactor
		}
		if batch.Owner == "" {
			return envelope{}, errors.New("stream requires an enactor (-enactor or owner in the file)")
		}
		return makeEnvelope("stream_segments", map[string]any{"enactor": batch.Owner, "segments": batch.Segments})

	case "reload":
		return envelope{Type: "reload_patterns"}, nil

	default:
		return envelope{}, fmt.Errorf("unknown command: %s", cmd)
	}
}

func makeEnvelope(typ string, data any) (envelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return envelope{Type: typ, Data: b}, nil
}

// splitLeading separates a leading positional argument from trailing flags.
func splitLeading(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", args
	}
	return args[0], args[1:]
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on|off, got %q", s)
	}
}

// deviceData parses "Brand" or "Brand/Kind".
func deviceData(ref string) map[string]any {
	brand, kind, _ := strings.Cut(ref, "/")
	data := map[string]any{"brand": brand}
	if kind != "" {
		data["kind"] = kind
	}
	return data
}

func motorData(ref, motor string) (map[string]any, error) {
	idx, err := strconv.Atoi(motor)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("invalid motor index: %q", motor)
	}
	data := deviceData(ref)
	data["motor"] = idx
	return data, nil
}

// loadStreamBatch reads a YAML document with an owner and a list of segments.
func loadStreamBatch(path string) (remote.StreamBatch, error) {
	var batch remote.StreamBatch
	b, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &batch); err != nil {
		return batch, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(batch.Segments) == 0 {
		return batch, fmt.Errorf("%s: no segments", path)
	}
	for i, seg := range batch.Segments {
		mt, err := remote.ParseMotorType(string(seg.MotorType))
		if err != nil {
			return batch, fmt.Errorf("%s: segment %d: %w", path, i, err)
		}
		batch.Segments[i].MotorType = mt
	}
	return batch, nil
}

func send(socketPath string, env envelope) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	return nil
}

// watch prints every state frame until interrupted or the daemon goes away.
func watch(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	log.Printf("connected (press Ctrl+C to exit)")

	done := make(chan struct{})
	go func() {
		defer close(done)
		printFrames(conn, os.Stdout)
	}()

	select {
	case <-sigc:
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
	return nil
}

func printFrames(conn *websocket.Conn, w io.Writer) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}
		fmt.Fprintln(w, formatFrame(message))
	}
}

// formatFrame renders one state frame as "[type] data".
func formatFrame(message []byte) string {
	var f struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &f); err != nil || f.Type == "" {
		return string(message)
	}
	return fmt.Sprintf("[%s] %s", f.Type, string(f.Data))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `toyctl - Control the toyremoted daemon

Usage:
  toyctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/toyremote.sock)
  -ws URL         State websocket URL for watch (default: ws://127.0.0.1:8091/ws/state)

Commands:
  power on|off [-enactor UID]                   Toggle session power
  play <pattern> [-start MS] [-duration MS] [-loop[=false]] [-enactor UID]
  stop [-enactor UID]                           Stop the playing pattern
  record prepare|start [name]|stop|cancel       Record a pattern
  drag <brand[/kind]> <motor> <position>        Drag a motor (position in [0, 1])
  release <brand[/kind]> <motor>                End a drag
  enable|disable <brand[/kind]>                 Toggle a device's output
  loop|float <brand[/kind]> <motor> on|off      Toggle a motor function
  stream <file.yaml> [-enactor UID]             Inject stream segments
  reload                                        Reload the pattern library
  watch                                         Print state changes

Examples:
  toyctl power on
  toyctl play wave -loop
  toyctl drag Lovense/Edge 0 0.6
`)
}
