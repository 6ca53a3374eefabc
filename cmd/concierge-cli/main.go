// Command concierge-cli drives a running concierge over its UI websocket:
// it can send typed turns, stream synthetic speech into the microphone
// channel, or sit in an interactive prompt printing every event.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws/ui", "concierge UI websocket URL")
	text := flag.String("text", "", "send this utterance and exit after the reply")
	repeat := flag.Int("repeat", 1, "number of turns to send with -text")
	speak := flag.Duration("speak", 0, "stream this much synthetic speech as a voice turn")
	lang := flag.String("lang", "", "language code to select before sending")
	timeout := flag.Duration("timeout", 60*time.Second, "per-turn reply timeout")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{conn: conn, events: make(chan event, 64)}
	go c.readLoop()

	if *lang != "" {
		c.command(map[string]any{"type": "language", "language": *lang})
	}

	switch {
	case *text != "":
		os.Exit(c.runTyped(*text, *repeat, *timeout))
	case *speak > 0:
		os.Exit(c.runSpoken(*speak, *timeout))
	default:
		c.interactive()
	}
}

type event struct {
	Type     string          `json:"type"`
	State    string          `json:"state,omitempty"`
	Text     string          `json:"text,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	Message  *message        `json:"message,omitempty"`
	Advisory json.RawMessage `json:"advisory,omitempty"`
}

type message struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Sentiment string `json:"sentiment,omitempty"`
	AudioRef  string `json:"audio_ref,omitempty"`
}

type client struct {
	conn   *websocket.Conn
	events chan event
}

func (c *client) readLoop() {
	defer close(c.events)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var ev event
		if err = json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.events <- ev
	}
}

func (c *client) command(cmd map[string]any) {
	if err := c.conn.WriteJSON(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "send %v: %v\n", cmd["type"], err)
	}
}

// awaitReply waits for the next assistant message.
func (c *client) awaitReply(timeout time.Duration) (*message, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if ev.Type == "error" {
				return nil, fmt.Errorf("%s", ev.Text)
			}
			if ev.Type == "message" && ev.Message != nil && ev.Message.Role == "assistant" {
				return ev.Message, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("no reply within %s", timeout)
		}
	}
}

func (c *client) runTyped(text string, repeat int, timeout time.Duration) int {
	var latencies []float64
	failed := 0
	for range max(repeat, 1) {
		start := time.Now()
		c.command(map[string]any{"type": "send", "text": text})
		reply, err := c.awaitReply(timeout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed++
			continue
		}
		latencies = append(latencies, float64(time.Since(start).Milliseconds()))
		if reply.Sentiment == "negative" {
			failed++
		}
		fmt.Printf("assistant: %s\n", reply.Text)
	}
	printSummary(latencies, failed)
	if failed > 0 {
		return 1
	}
	return 0
}

func (c *client) runSpoken(d time.Duration, timeout time.Duration) int {
	c.command(map[string]any{"type": "mic", "sample_rate": sampleRate, "permission": true})
	c.command(map[string]any{"type": "listen"})

	if !c.awaitCaptureState("listening", 5*time.Second) {
		fmt.Fprintln(os.Stderr, "capture never started listening")
		return 1
	}
	if err := c.streamAudio(append(synthesizeSpeech(d), silence(time.Second)...)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	c.command(map[string]any{"type": "mic_end"})

	reply, err := c.awaitReply(timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("assistant: %s\n", reply.Text)
	return 0
}

func (c *client) awaitCaptureState(state string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return false
			}
			if ev.Type == "capture_state" && ev.State == state {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// streamAudio paces PCM out in 20ms frames, like a live microphone.
func (c *client) streamAudio(pcm []byte) error {
	const frame = sampleRate / 50 * 2
	for i := 0; i < len(pcm); i += frame {
		end := min(i+frame, len(pcm))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm[i:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func (c *client) interactive() {
	go func() {
		for ev := range c.events {
			printEvent(ev)
		}
		fmt.Println("connection closed")
		os.Exit(0)
	}()

	fmt.Println("type a message, or /listen /stop /audio on|off /lang <code> /reset /quit")
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		c.command(parseLine(line))
	}
}

func parseLine(line string) map[string]any {
	if !strings.HasPrefix(line, "/") {
		return map[string]any{"type": "send", "text": line}
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	switch name {
	case "listen":
		return map[string]any{"type": "listen"}
	case "stop":
		return map[string]any{"type": "stop_listening"}
	case "audio":
		return map[string]any{"type": "audio", "enabled": arg != "off"}
	case "lang":
		return map[string]any{"type": "language", "language": arg}
	case "reset":
		return map[string]any{"type": "reset_session"}
	case "offline", "online":
		return map[string]any{"type": "online", "online": name == "online"}
	}
	return map[string]any{"type": name}
}

func printEvent(ev event) {
	switch ev.Type {
	case "message":
		if ev.Message != nil {
			fmt.Printf("%s: %s\n", ev.Message.Role, ev.Message.Text)
		}
	case "capture_state", "playback_state":
		fmt.Printf("[%s] %s\n", ev.Type, ev.State)
	case "typing":
		if ev.Enabled != nil && *ev.Enabled {
			fmt.Println("[assistant is typing]")
		}
	case "advisory":
		fmt.Printf("[advisory] %s\n", ev.Advisory)
	case "advisory_cleared":
		fmt.Printf("[advisory cleared] %s\n", ev.Kind)
	case "error":
		fmt.Printf("[error] %s\n", ev.Text)
	default:
		fmt.Printf("[%s]\n", ev.Type)
	}
}
