package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type envelope struct {
	NS   string          `json:"ns"`
	Data json.RawMessage `json:"data,omitempty"`
}

type request struct {
	ID    string `json:"id"`
	Query any    `json:"query"`
}

type snapshotEvent struct {
	ID   string `json:"id"`
	Data []struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
		Type string         `json:"type"`
	} `json:"data"`
}

type latencySample struct {
	dur time.Duration
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "websocket address to target")
	database := flag.String("database", "loadtest", "database name used by all clients")
	accesskey := flag.String("accesskey", "", "database access key")
	collection := flag.String("collection", "bench", "collection written to and watched")
	clients := flag.Int("clients", 100, "number of concurrent websocket subscribers")
	messages := flag.Int("messages", 20, "number of writes to send")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between writes")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("database", *database).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	u, err := url.Parse(*addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid websocket address")
	}
	q := u.Query()
	q.Set("database", *database)
	if *accesskey != "" {
		q.Set("accesskey", *accesskey)
	}
	u.RawQuery = q.Encode()

	latencyCh := make(chan latencySample, *clients**messages)
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn, _, err := dialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				logger.Error().Err(err).Int("client", id).Msg("dial failed")
				return
			}
			defer conn.Close()

			if err := subscribe(conn, *collection); err != nil {
				logger.Error().Err(err).Int("client", id).Msg("subscribe failed")
				return
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				readerLoop(ctx, conn, latencyCh, logger)
			}()

			if id == 0 {
				writer(ctx, conn, *collection, *messages, *interval, logger)
				// give fan-out time to drain before tearing everyone down
				time.Sleep(time.Second)
				stop()
			} else {
				<-ctx.Done()
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(latencyCh)
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

func send(conn *websocket.Conn, ns string, req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return conn.WriteJSON(envelope{NS: ns, Data: data})
}

func subscribe(conn *websocket.Conn, collection string) error {
	return send(conn, "snapshot", request{
		ID: "watch",
		Query: map[string]any{
			"path": []string{collection},
			"type": "get",
		},
	})
}

func writer(ctx context.Context, conn *websocket.Conn, collection string, messages int, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < messages; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := request{
				ID: fmt.Sprintf("write-%d", i),
				Query: map[string]any{
					"path": []string{collection, fmt.Sprintf("doc-%d", i)},
					"type": "set",
					"data": map[string]any{
						"seq":     i,
						"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
					},
				},
			}
			if err := send(conn, "v2", req); err != nil {
				logger.Error().Err(err).Msg("failed to send write")
				return
			}
		}
	}
}

func readerLoop(ctx context.Context, conn *websocket.Conn, latencies chan<- latencySample, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		switch env.NS {
		case "snapshot":
			var event snapshotEvent
			if err := json.Unmarshal(env.Data, &event); err != nil {
				logger.Warn().Err(err).Msg("failed to decode snapshot event")
				continue
			}
			for _, change := range event.Data {
				sentAt, _ := change.Data["sent_at"].(string)
				if sentAt == "" {
					continue
				}
				if ts, err := time.Parse(time.RFC3339Nano, sentAt); err == nil {
					latencies <- latencySample{dur: time.Since(ts)}
				}
			}
		case "error_msg":
			logger.Warn().RawJSON("data", env.Data).Msg("server error")
		}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under50ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 50*time.Millisecond {
			under50ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under50ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Samples: %d\nAvg latency: %s\nMax latency: %s\n<50ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of change deliveries met the 50ms target")
	}
}
