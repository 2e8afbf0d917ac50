// WebSocket load testing tool for the cworld server.
// Usage: go run test/loadtest/ws-loadtest.go -url ws://127.0.0.1:8080/ws -conns 100 -duration 60s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func frame(event string, payload any) []byte {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(envelope{Event: event, Payload: raw})
	return data
}

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL to connect to")
	conns := flag.Int("conns", 10, "Number of concurrent participants")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	moveInterval := flag.Duration("interval", 200*time.Millisecond, "Movement send interval per participant")
	chatEvery := flag.Int("chat-every", 50, "Send one chat message per this many moves (0 disables)")
	flag.Parse()

	fmt.Printf("cworld Load Test\n")
	fmt.Printf("  URL:           %s\n", *url)
	fmt.Printf("  Participants:  %d\n", *conns)
	fmt.Printf("  Duration:      %s\n", *duration)
	fmt.Printf("  Move interval: %s\n", *moveInterval)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		connected    atomic.Int64
		sent         atomic.Int64
		received     atomic.Int64
		errors       atomic.Int64
		connectFails atomic.Int64
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c, _, err := websocket.Dial(ctx, *url, nil)
			if err != nil {
				connectFails.Add(1)
				return
			}
			connected.Add(1)
			defer c.CloseNow()

			// Read goroutine drains broadcasts so writes never stall.
			go func() {
				for {
					_, _, err := c.Read(ctx)
					if err != nil {
						return
					}
					received.Add(1)
				}
			}()

			join := frame("join", map[string]string{
				"username": fmt.Sprintf("loadtest-%d", id),
			})
			if err := c.Write(ctx, websocket.MessageText, join); err != nil {
				errors.Add(1)
				return
			}
			sent.Add(1)

			rng := rand.New(rand.NewSource(int64(id)))
			ticker := time.NewTicker(*moveInterval)
			defer ticker.Stop()

			moves := 0
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					moves++
					var msg []byte
					if *chatEvery > 0 && moves%*chatEvery == 0 {
						msg = frame("chat", map[string]string{
							"text": fmt.Sprintf("move %d from %d", moves, id),
						})
					} else {
						msg = frame("move", map[string]any{
							"position": map[string]float64{
								"x": rng.Float64()*20 - 10,
								"y": 0,
								"z": rng.Float64()*20 - 10,
							},
							"rotation": map[string]float64{"y": rng.Float64() * 360},
						})
					}
					if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
						errors.Add(1)
						return
					}
					sent.Add(1)
				}
			}
		}(i)
	}

	// Progress reporting
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				fmt.Printf("[%s] connected=%d sent=%d recv=%d errors=%d connect_fails=%d\n",
					elapsed, connected.Load(), sent.Load(), received.Load(), errors.Load(), connectFails.Load())
			}
		}
	}()

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Connected:       %d / %d\n", connected.Load(), *conns)
	fmt.Printf("  Connect fails:   %d\n", connectFails.Load())
	fmt.Printf("  Messages sent:   %d\n", sent.Load())
	fmt.Printf("  Messages recv:   %d\n", received.Load())
	fmt.Printf("  Errors:          %d\n", errors.Load())
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Send rate:       %.1f msg/s\n", float64(sent.Load())/elapsed.Seconds())
		fmt.Printf("  Recv rate:       %.1f msg/s\n", float64(received.Load())/elapsed.Seconds())
	}

	if connectFails.Load() > 0 || errors.Load() > 0 {
		log.Fatal("Load test completed with errors")
	}
}
