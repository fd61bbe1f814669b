// Package snowflake generates time-ordered 63-bit message ids.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrInvalidNode = errors.New("node number must be between 0 and 1023")

// Node hands out ids that are strictly increasing for a single node.
type Node struct {
	mu   sync.Mutex
	last int64 // milliseconds since epoch of the last id
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrInvalidNode
	}
	return &Node{node: node}, nil
}

// Generate returns the next id.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli() - epoch

	// Clock moved backwards: keep issuing from the last known millisecond.
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// Step exhausted, borrow the next millisecond.
			now++
		}
	} else {
		n.step = 0
	}

	n.last = now

	return (now << timeShift) | (n.node << nodeShift) | n.step
}

// Time returns the creation time embedded in id, at millisecond precision.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch).UTC()
}

// FirstID returns the smallest id any node can generate at or after t.
// It turns a timestamp cursor into an id cursor.
func FirstID(t time.Time) int64 {
	ms := t.UnixMilli() - epoch
	if ms < 0 {
		return 0
	}
	return ms << timeShift
}
