// Package memory provides in-process implementations of the cache
// interfaces for single-instance deployments without Redis.
package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

const defaultStreamMaxLen = 10000

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus implements domain.SignalBus with in-process fan-out. Slow
// subscribers drop messages rather than block publishers.
type SignalBus struct {
	mu        sync.RWMutex
	subs      map[*subscriber]struct{}
	streams   map[string][]domain.StreamMessage
	seq       map[string]int64
	maxStream int
}

// NewSignalBus creates a SignalBus whose streams keep at most maxLen entries.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{
		subs:      make(map[*subscriber]struct{}),
		streams:   make(map[string][]domain.StreamMessage),
		seq:       make(map[string]int64),
		maxStream: maxLen,
	}
}

func matches(pattern, channel string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == channel
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

// Publish delivers payload to every subscriber whose channel matches.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel (glob
// patterns allowed). It is closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to a bounded in-memory stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.seq[stream]),
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxStream {
		msgs = msgs[len(msgs)-b.maxStream:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID. "0" and "0-0" read
// from the beginning; "$" returns nothing.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after := streamSeq(lastID)

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) int64 {
	head, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ domain.SignalBus = (*SignalBus)(nil)
