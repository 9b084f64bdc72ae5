package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// shakeskip-watch prints the shakeskipd state stream, one line per event.

type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL  = flag.String("ws", "ws://127.0.0.1:3081/ws/state", "shakeskipd state websocket URL")
		raw    = flag.Bool("raw", false, "Print frames exactly as received")
		skipTp = flag.Bool("quiet-transport", false, "Hide transport_changed events")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected (press Ctrl+C to exit)")

	// The server pings every 20s; a missed ping means the daemon is gone.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if *raw {
				fmt.Println(string(msg))
				continue
			}
			printEvent(msg, *skipTp)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func printEvent(msg []byte, hideTransport bool) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", msg)
		return
	}
	ts := env.Ts.Local().Format("15:04:05.000")

	switch env.Type {
	case "shake_detected":
		var d struct {
			Magnitude float64 `json:"magnitude"`
			Count     uint64  `json:"count"`
		}
		_ = json.Unmarshal(env.Data, &d)
		fmt.Printf("%s [SHAKE] #%d %.1f m/s²\n", ts, d.Count, d.Magnitude)

	case "haptic_pulse":
		fmt.Printf("%s [HAPTIC]\n", ts)

	case "simulation_changed":
		var d struct {
			SimulationID string `json:"simulation_id"`
			Phase        string `json:"phase"`
			Outcome      string `json:"outcome"`
		}
		_ = json.Unmarshal(env.Data, &d)
		if d.Outcome != "" {
			fmt.Printf("%s [SKIP] %s %s\n", ts, short(d.SimulationID), d.Outcome)
		} else {
			fmt.Printf("%s [SKIP] %s %s\n", ts, short(d.SimulationID), d.Phase)
		}

	case "transport_changed":
		if hideTransport {
			return
		}
		var d struct {
			MediaID     string  `json:"media_id"`
			Playing     bool    `json:"playing"`
			PositionMs  int64   `json:"position_ms"`
			Volume      float64 `json:"volume"`
			QueueIndex  int     `json:"queue_index"`
			QueueLength int     `json:"queue_length"`
		}
		_ = json.Unmarshal(env.Data, &d)
		state := "paused"
		if d.Playing {
			state = "playing"
		}
		fmt.Printf("%s [TRANSPORT] %s pos=%.3fs vol=%.2f", ts, state, float64(d.PositionMs)/1000, d.Volume)
		if d.QueueLength > 1 {
			fmt.Printf(" track=%d/%d %s", d.QueueIndex+1, d.QueueLength, d.MediaID)
		}
		fmt.Println()

	default:
		var pretty map[string]any
		if err := json.Unmarshal(env.Data, &pretty); err != nil {
			fmt.Printf("%s [%s]\n", ts, env.Type)
			return
		}
		b, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("%s [%s]\n%s\n", ts, env.Type, b)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
