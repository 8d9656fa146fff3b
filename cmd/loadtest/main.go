package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/tinychat/pkg/client"
	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/google/uuid"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

// Stats tracks load test results
type Stats struct {
	admitted         atomic.Int64
	rejected         atomic.Int64
	connectionErrors atomic.Int64
	totalHandshakeUs atomic.Int64

	messagesSent   atomic.Int64
	messagesFailed atomic.Int64
	serverEnds     atomic.Int64
	disconnections atomic.Int64
}

func (s *Stats) recordAdmitted(handshake time.Duration) {
	s.admitted.Add(1)
	s.totalHandshakeUs.Add(handshake.Microseconds())
}

func (s *Stats) avgHandshakeMs() float64 {
	admitted := s.admitted.Load()
	if admitted == 0 {
		return 0
	}
	return float64(s.totalHandshakeUs.Load()) / float64(admitted) / 1000
}

// BotClient is one simulated user
type BotClient struct {
	id       int
	username string
	conn     *client.Connection
	stats    *Stats
}

// NewBotClient creates a bot. Bots sharing a username exercise rejection.
func NewBotClient(id int, serverAddr, username string, useWebSocket bool, stats *Stats) (*BotClient, error) {
	conn, err := client.NewConnection(serverAddr, useWebSocket)
	if err != nil {
		return nil, err
	}
	return &BotClient{id: id, username: username, conn: conn, stats: stats}, nil
}

// Connect runs the handshake and reports whether the bot was admitted
func (bc *BotClient) Connect() bool {
	start := time.Now()
	_, err := bc.conn.Connect(bc.username)
	switch {
	case err == nil:
		bc.stats.recordAdmitted(time.Since(start))
		return true
	case errors.Is(err, handshake.ErrAuthenticationFailed):
		bc.stats.rejected.Add(1)
	default:
		bc.stats.connectionErrors.Add(1)
		log.Printf("[Bot %d] Connect failed: %v", bc.id, err)
	}
	return false
}

func randomMessage() string {
	n := 3 + rand.Intn(10)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Run chats until stop is closed or the server ends the session
func (bc *BotClient) Run(stop <-chan struct{}, minDelay, maxDelay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bot %d] PANIC: %v", bc.id, r)
		}
	}()
	defer bc.conn.Close("Load test finished")

	for {
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}

		select {
		case <-stop:
			return

		case p, ok := <-bc.conn.Incoming():
			if !ok {
				if err := <-bc.conn.Errors(); err != nil {
					bc.stats.disconnections.Add(1)
				}
				return
			}
			if end, isEnd := p.(*protocol.ServerEnd); isEnd {
				bc.stats.serverEnds.Add(1)
				log.Printf("[Bot %d] Server ended session: %s", bc.id, end.Reason)
				return
			}

		case <-time.After(delay):
			if err := bc.conn.SendChat(randomMessage()); err != nil {
				bc.stats.messagesFailed.Add(1)
				continue
			}
			bc.stats.messagesSent.Add(1)
		}
	}
}

func main() {
	serverAddr := flag.String("server", "localhost:6470", "Server address (host:port)")
	useWebSocket := flag.Bool("ws", false, "Connect over WebSocket")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duplicates := flag.Float64("duplicates", 0.1, "Fraction of clients reusing another client's username")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between chat lines")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between chat lines")
	flag.Parse()

	if *numClients < 1 {
		log.Fatalf("-clients must be at least 1")
	}

	rampUpDuration := 5 * time.Second
	staggerDelay := rampUpDuration / time.Duration(*numClients)

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d (%.0f%% duplicate usernames)", *numClients, *duplicates*100)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	stats := &Stats{}
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		stopAll()
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Printf("Stats: %d admitted, %d rejected, %d conn errors, %d sent, avg handshake %.2fms",
					stats.admitted.Load(), stats.rejected.Load(), stats.connectionErrors.Load(),
					stats.messagesSent.Load(), stats.avgHandshakeMs())
			case <-stop:
				return
			}
		}
	}()

	start := time.Now()
	var usernames []string
	var wg sync.WaitGroup

launch:
	for i := 0; i < *numClients; i++ {
		username := fmt.Sprintf("bot%d-%s", i, uuid.NewString()[:8])
		if len(usernames) > 0 && rand.Float64() < *duplicates {
			username = usernames[rand.Intn(len(usernames))]
		} else {
			usernames = append(usernames, username)
		}

		bot, err := NewBotClient(i, *serverAddr, username, *useWebSocket, stats)
		if err != nil {
			log.Fatalf("Invalid server address: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if bot.Connect() {
				bot.Run(stop, *minDelay, *maxDelay)
			}
		}()

		select {
		case <-stop:
			break launch
		case <-time.After(staggerDelay):
		}
	}

	select {
	case <-stop:
	case <-time.After(time.Until(start.Add(*duration))):
		stopAll()
	}
	wg.Wait()

	totalDuration := time.Since(start)
	sent := stats.messagesSent.Load()

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", totalDuration)
	log.Printf("Admitted: %d", stats.admitted.Load())
	log.Printf("Rejected (username taken): %d", stats.rejected.Load())
	log.Printf("Connection errors: %d", stats.connectionErrors.Load())
	log.Printf("Average handshake time: %.2fms", stats.avgHandshakeMs())
	log.Printf("Chat lines sent: %d (%.1f/s)", sent, float64(sent)/totalDuration.Seconds())
	log.Printf("Chat lines failed: %d", stats.messagesFailed.Load())
	log.Printf("Sessions ended by server: %d", stats.serverEnds.Load())
	log.Printf("Disconnections: %d", stats.disconnections.Load())
}
