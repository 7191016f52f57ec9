// Package probe measures signaling round trips against a running baby-cam
// server using ping/pong envelopes.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
)

type Config struct {
	// URL is the signaling WebSocket, e.g. ws://localhost:3000/.
	URL string
	// Origin is sent as the Origin header when set.
	Origin string

	Count    int
	Interval time.Duration
	// Timeout bounds the wait for each pong.
	Timeout time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Sample is one answered ping.
type Sample struct {
	Seq int
	RTT time.Duration
	// ClockOffset estimates server clock minus client clock, assuming a
	// symmetric path.
	ClockOffset time.Duration
}

type Report struct {
	Role    string
	Sent    int
	Samples []Sample
}

func (r Report) Lost() int {
	return r.Sent - len(r.Samples)
}

// Stats returns the min, mean and max RTT. All are zero without samples.
func (r Report) Stats() (lo, mean, hi time.Duration) {
	if len(r.Samples) == 0 {
		return 0, 0, 0
	}
	lo, hi = r.Samples[0].RTT, r.Samples[0].RTT
	var total time.Duration
	for _, s := range r.Samples {
		total += s.RTT
		lo = min(lo, s.RTT)
		hi = max(hi, s.RTT)
	}
	return lo, total / time.Duration(len(r.Samples)), hi
}

// TableData renders the samples for pterm.DefaultTable.
func (r Report) TableData() pterm.TableData {
	data := pterm.TableData{{"seq", "rtt", "clock offset"}}
	for _, s := range r.Samples {
		data = append(data, []string{
			strconv.Itoa(s.Seq),
			s.RTT.Round(time.Microsecond).String(),
			s.ClockOffset.Round(time.Millisecond).String(),
		})
	}
	return data
}

type pong struct {
	Type     string          `json:"type"`
	Role     string          `json:"role"`
	TS       json.RawMessage `json:"ts"`
	ServerTS int64           `json:"serverTs"`
}

// Run connects, records the assigned role and sends cfg.Count pings.
func Run(ctx context.Context, cfg Config) (Report, error) {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return Report{}, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	var report Report
	done := make(chan struct{})
	defer close(done)
	frames := make(chan pong, 16)
	readErr := make(chan error, 1)
	go readFrames(conn, frames, readErr, done)

	// The role announcement always comes first.
	select {
	case msg := <-frames:
		if msg.Type != "role" {
			return report, fmt.Errorf("expected role announcement, got %q", msg.Type)
		}
		report.Role = msg.Role
	case err := <-readErr:
		return report, fmt.Errorf("read role: %w", err)
	case <-time.After(cfg.Timeout):
		return report, errors.New("timed out waiting for role announcement")
	case <-ctx.Done():
		return report, ctx.Err()
	}

	for seq := 1; seq <= cfg.Count; seq++ {
		if seq > 1 && cfg.Interval > 0 {
			select {
			case <-time.After(cfg.Interval):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}

		// ts is in the server's unit (Unix ms) so serverTs >= ts holds; the
		// RTT uses the monotonic reading in sent.
		sent := time.Now()
		ts := strconv.FormatInt(sent.UnixMilli(), 10)
		if err := conn.WriteJSON(map[string]any{"type": "ping", "ts": json.RawMessage(ts)}); err != nil {
			return report, fmt.Errorf("send ping %d: %w", seq, err)
		}
		report.Sent++

		serverTS, err := awaitPong(ctx, frames, readErr, ts, cfg.Timeout)
		if err != nil {
			if errors.Is(err, errPongTimeout) {
				continue
			}
			return report, err
		}
		rtt := time.Since(sent)
		report.Samples = append(report.Samples, Sample{
			Seq:         seq,
			RTT:         rtt,
			ClockOffset: time.UnixMilli(serverTS).Sub(sent.Add(rtt / 2)),
		})
	}
	return report, nil
}

// readFrames decodes inbound frames until the connection fails or done is
// closed. Frames that are not JSON objects are skipped.
func readFrames(conn *websocket.Conn, frames chan<- pong, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		var msg pong
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		select {
		case frames <- msg:
		case <-done:
			return
		}
	}
}

var errPongTimeout = errors.New("probe: pong timed out")

// awaitPong waits for the pong echoing ts and returns its serverTs. Relayed
// negotiation frames and late pongs are skipped.
func awaitPong(ctx context.Context, frames <-chan pong, readErr <-chan error, ts string, timeout time.Duration) (int64, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-frames:
			if msg.Type != "pong" || string(msg.TS) != ts {
				continue
			}
			return msg.ServerTS, nil
		case err := <-readErr:
			return 0, fmt.Errorf("read pong: %w", err)
		case <-timer.C:
			return 0, errPongTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
