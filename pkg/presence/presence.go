// Package presence mirrors the local session table into Redis so any node
// can answer whether a user is online somewhere in the cluster.
package presence

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Local is the node's own session table.
type Local interface {
	IsOnline(userID string) bool
	OnlineUsers() []string
	OnConnect(fn func(userID string))
	OnDisconnect(fn func(userID string))
}

// Presence keeps presence:{user_id} as a sorted set of node ids scored by
// the time their claim expires. A crashed node's claim simply lapses.
type Presence struct {
	client *redis.Client
	local  Local
	nodeID string
	ttl    time.Duration

	mu sync.Mutex
}

func New(client *redis.Client, local Local, nodeID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = time.Minute
	}
	p := &Presence{client: client, local: local, nodeID: nodeID, ttl: ttl}
	local.OnConnect(p.changed)
	local.OnDisconnect(p.changed)
	return p
}

func key(userID string) string {
	return "presence:" + userID
}

func (p *Presence) changed(userID string) {
	go p.sync(userID)
}

// sync writes the current local state. Holding mu while reading local state
// makes the last writer also the one that saw the newest state.
func (p *Presence) sync(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	if p.local.IsOnline(userID) {
		err = p.claim(ctx, userID)
	} else {
		err = p.client.ZRem(ctx, key(userID), p.nodeID).Err()
	}
	if err != nil {
		log.Printf("Failed to sync presence for %s: %v", userID, err)
	}
}

func (p *Presence) claim(ctx context.Context, userID string) error {
	expires := time.Now().Add(p.ttl).UnixMilli()
	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, key(userID), redis.Z{Score: float64(expires), Member: p.nodeID})
	pipe.PExpire(ctx, key(userID), 2*p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Online reports whether any node holds a live claim for userID.
func (p *Presence) Online(ctx context.Context, userID string) (bool, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := p.client.ZCount(ctx, key(userID), now, "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("count presence claims for %s: %w", userID, err)
	}
	return n > 0, nil
}

// Run refreshes this node's claims until ctx is done, then withdraws them.
func (p *Presence) Run(ctx context.Context) {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.withdraw()
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Presence) refresh(ctx context.Context) {
	for _, userID := range p.local.OnlineUsers() {
		if err := p.claim(ctx, userID); err != nil {
			log.Printf("Failed to refresh presence for %s: %v", userID, err)
		}
	}
}

func (p *Presence) withdraw() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, userID := range p.local.OnlineUsers() {
		if err := p.client.ZRem(ctx, key(userID), p.nodeID).Err(); err != nil {
			log.Printf("Failed to withdraw presence for %s: %v", userID, err)
		}
	}
}
