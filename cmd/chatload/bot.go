package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fior4neee/Message-Broadcasting/pkg/client"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(strings.NewReplacer(",", "", ".", "").Replace(strings.ToLower(loremIpsum)))

// generateNickname glues fragments of two random words to the bot id so
// names stay unique within a run.
func generateNickname(rng *rand.Rand, id int) string {
	fragment := func() string {
		word := loremWords[rng.Intn(len(loremWords))]
		n := len(word)
		if n > 6 {
			n = 3 + rng.Intn(4)
		} else if n > 3 {
			n = 3
		}
		return word[:n]
	}
	return fmt.Sprintf("%s%s%d", fragment(), fragment(), id)
}

// randomMessage returns 5-20 lorem words
func randomMessage(rng *rand.Rand) string {
	words := make([]string, 5+rng.Intn(16))
	for i := range words {
		words[i] = loremWords[rng.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Stats tracks load test counters across all bots
type Stats struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	messagesFailed   atomic.Int64
	connectionErrors atomic.Int64
	disconnections   atomic.Int64
	serverErrors     atomic.Int64

	pongs       atomic.Int64
	totalRTTMus atomic.Int64 // in microseconds
}

func (s *Stats) recordSent()            { s.messagesSent.Add(1) }
func (s *Stats) recordReceived()        { s.messagesReceived.Add(1) }
func (s *Stats) recordFailure()         { s.messagesFailed.Add(1) }
func (s *Stats) recordConnectionError() { s.connectionErrors.Add(1) }
func (s *Stats) recordDisconnection()   { s.disconnections.Add(1) }
func (s *Stats) recordServerError()     { s.serverErrors.Add(1) }

func (s *Stats) recordPong(rtt time.Duration) {
	s.pongs.Add(1)
	s.totalRTTMus.Add(rtt.Microseconds())
}

type snapshot struct {
	sent, received, failed int64
	connErrors             int64
	disconnections         int64
	serverErrors           int64
	avgRTT                 time.Duration
}

func (s *Stats) snapshot() snapshot {
	snap := snapshot{
		sent:           s.messagesSent.Load(),
		received:       s.messagesReceived.Load(),
		failed:         s.messagesFailed.Load(),
		connErrors:     s.connectionErrors.Load(),
		disconnections: s.disconnections.Load(),
		serverErrors:   s.serverErrors.Load(),
	}
	if pongs := s.pongs.Load(); pongs > 0 {
		snap.avgRTT = time.Duration(s.totalRTTMus.Load()/pongs) * time.Microsecond
	}
	return snap
}

// bot is one logged-in chat client posting random messages
type bot struct {
	id    int
	c     *client.Client
	stats *Stats
	rng   *rand.Rand
}

func newBot(ctx context.Context, id int, addr string, stats *Stats) (*bot, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	nickname := generateNickname(rng, id)

	c, err := client.Dial(ctx, addr, client.Options{Nickname: nickname, LoginAttempts: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := c.Login(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to log in as %s: %w", nickname, err)
	}

	return &bot{id: id, c: c, stats: stats, rng: rng}, nil
}

// consume counts what the server fans out to this bot until the connection ends
func (b *bot) consume(wg *sync.WaitGroup) {
	defer wg.Done()
	for ev := range b.c.Events() {
		switch ev.Kind {
		case client.EventChat:
			b.stats.recordReceived()
		case client.EventPong:
			b.stats.recordPong(ev.Latency)
		case client.EventError:
			b.stats.recordServerError()
		}
	}
}

func (b *bot) run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	var wg sync.WaitGroup
	wg.Add(1)
	go b.consume(&wg)
	defer wg.Wait()
	defer b.c.Close()

	end := time.Now().Add(duration)
	for iteration := 1; time.Now().Before(end); iteration++ {
		if _, err := b.c.SendChat(randomMessage(b.rng)); err != nil {
			if errors.Is(err, client.ErrClosed) {
				b.stats.recordDisconnection()
				return
			}
			b.stats.recordFailure()
		} else {
			b.stats.recordSent()
		}

		// Ping every 3 iterations to sample round trip time
		if iteration%3 == 0 {
			b.c.Ping()
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(b.rng.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
			return
		case <-b.c.Done():
			b.stats.recordDisconnection()
			return
		case <-time.After(delay):
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(shutdownDelay):
		}
	}
}
