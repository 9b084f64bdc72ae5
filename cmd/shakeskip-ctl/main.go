package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"shakeskip/internal/ipc"
)

// shakeskip-ctl sends requests to shakeskipd over its IPC socket, either one
// per invocation or from an interactive prompt.

const defaultSocket = "/tmp/shakeskip.sock"

var errUsage = errors.New("usage")

func main() {
	socketPath := defaultSocket
	timeout := 2 * time.Second

	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				fmt.Fprintln(os.Stderr, "error: -socket requires an argument")
				os.Exit(1)
			}
			socketPath = args[1]
			args = args[2:]
		case "-h", "--help", "-help":
			printUsage(os.Stdout)
			return
		default:
			fmt.Fprintf(os.Stderr, "error: unknown option: %s\n", args[0])
			os.Exit(1)
		}
	}

	if len(args) == 0 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if args[0] == "repl" {
		if err := repl(socketPath, timeout); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}
	if args[0] == "help" {
		printUsage(os.Stdout)
		return
	}

	req, err := parseCommand(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
		}
		os.Exit(1)
	}
	if err := send(os.Stdout, socketPath, req, timeout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// parseCommand turns command line words into an IPC request.
func parseCommand(args []string) (ipc.Request, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing command", errUsage)
	}
	arg := func(i int, what string) (string, error) {
		if len(args) <= i {
			return "", fmt.Errorf("%w: %s requires %s", errUsage, args[0], what)
		}
		return args[i], nil
	}
	float := func(what string) (float64, error) {
		s, err := arg(1, what)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", what, s)
		}
		return v, nil
	}
	onOff := func() (bool, error) {
		s, err := arg(1, "on|off")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(s) {
		case "on", "true", "1", "yes":
			return true, nil
		case "off", "false", "0", "no":
			return false, nil
		}
		return false, fmt.Errorf("expected on or off, got %q", s)
	}

	switch args[0] {
	case "skip", "trigger":
		return ipc.TriggerSkip{}, nil
	case "stop", "cancel":
		return ipc.StopSkip{}, nil
	case "play":
		return ipc.Play{}, nil
	case "pause":
		return ipc.Pause{}, nil
	case "toggle":
		return ipc.TogglePlayPause{}, nil
	case "next":
		return ipc.Next{}, nil
	case "previous", "prev":
		return ipc.Previous{}, nil
	case "status":
		return ipc.GetStatus{}, nil
	case "reset-count":
		return ipc.ResetCount{}, nil
	case "reset":
		return ipc.ResetDetector{}, nil

	case "volume":
		v, err := float("a level in [0, 1]")
		if err != nil {
			return nil, err
		}
		return ipc.SetVolume{Volume: v}, nil

	case "seek":
		v, err := float("a position in ms")
		if err != nil {
			return nil, err
		}
		return ipc.Seek{PositionMs: int64(v)}, nil

	case "sensitivity":
		v, err := float("a threshold in m/s²")
		if err != nil {
			return nil, err
		}
		return ipc.SetSensitivity{Value: v}, nil

	case "enable":
		return ipc.SetEnabled{Enabled: true}, nil
	case "disable":
		return ipc.SetEnabled{Enabled: false}, nil

	case "haptic":
		on, err := onOff()
		if err != nil {
			return nil, err
		}
		return ipc.SetHaptic{Enabled: on}, nil

	case "sample":
		if len(args) != 4 {
			return nil, fmt.Errorf("%w: sample requires x y z", errUsage)
		}
		var xyz [3]float64
		for i := range xyz {
			v, err := strconv.ParseFloat(args[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid axis value %q", args[i+1])
			}
			xyz[i] = v
		}
		return ipc.InjectSample{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
	}
	return nil, fmt.Errorf("%w: unknown command: %s", errUsage, args[0])
}

func send(w io.Writer, socketPath string, req ipc.Request, timeout time.Duration) error {
	resp, err := ipc.Send(socketPath, req, timeout)
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		fmt.Fprintln(w, "ok")
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Data, "", "  "); err != nil {
		fmt.Fprintln(w, string(resp.Data))
		return nil
	}
	fmt.Fprintln(w, out.String())
	return nil
}

func repl(socketPath string, timeout time.Duration) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "shakeskip> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("skip"),
			readline.PcItem("stop"),
			readline.PcItem("play"),
			readline.PcItem("pause"),
			readline.PcItem("toggle"),
			readline.PcItem("next"),
			readline.PcItem("previous"),
			readline.PcItem("status"),
			readline.PcItem("volume"),
			readline.PcItem("seek"),
			readline.PcItem("sensitivity"),
			readline.PcItem("enable"),
			readline.PcItem("disable"),
			readline.PcItem("haptic", readline.PcItem("on"), readline.PcItem("off")),
			readline.PcItem("reset-count"),
			readline.PcItem("reset"),
			readline.PcItem("sample"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return fmt.Errorf("start prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// io.EOF on ctrl-d
			return nil
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		switch words[0] {
		case "exit", "quit":
			return nil
		case "help":
			printUsage(rl.Stdout())
			continue
		}

		req, err := parseCommand(words)
		if err != nil {
			fmt.Fprintln(rl.Stderr(), "error:", err)
			continue
		}
		if err := send(rl.Stdout(), socketPath, req, timeout); err != nil {
			fmt.Fprintln(rl.Stderr(), "error:", err)
		}
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `shakeskip-ctl - control shakeskipd over IPC

Usage:
  shakeskip-ctl [options] <command> [args]
  shakeskip-ctl [options] repl

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  skip, trigger           Start a skip simulation
  stop, cancel            Stop the simulation in flight
  play | pause | toggle   Transport control
  next | previous, prev   Move through the play queue, wrapping at the ends
  volume <0..1>           Set the user volume
  seek <ms>               Seek to an absolute position
  status                  Print daemon status as JSON
  sensitivity <m/s²>      Set the shake threshold (10..25)
  enable | disable        Turn shake detection on or off
  haptic on|off           Toggle haptic feedback
  reset-count             Reset the shake counter
  reset                   Reset the detector filter and debounce
  sample <x> <y> <z>      Inject one accelerometer sample
  repl                    Interactive prompt with completion

Examples:
  shakeskip-ctl skip
  shakeskip-ctl sensitivity 18
  shakeskip-ctl -socket /run/shakeskip.sock status
`, defaultSocket)
}
