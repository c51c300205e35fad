package service

import (
	"sync"

	"github.com/evpower/balancehub/db/models"
	"github.com/google/uuid"
)

// TopicTopUps receives every reconciled top-up.
const TopicTopUps = "topups"

type Pubsub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan models.TopUpEvent
}

func NewPubsub() *Pubsub {
	ps := &Pubsub{}
	ps.subs = make(map[string]map[string]chan models.TopUpEvent)
	return ps
}

func (ps *Pubsub) Subscribe(topic string, ch chan models.TopUpEvent) (subId string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		ps.subs[topic] = make(map[string]chan models.TopUpEvent)
	}
	subId = uuid.New().String()
	ps.subs[topic][subId] = ch
	return subId
}

func (ps *Pubsub) Unsubscribe(id string, topic string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		return
	}
	if ps.subs[topic][id] == nil {
		return
	}
	close(ps.subs[topic][id])
	delete(ps.subs[topic], id)
	if len(ps.subs[topic]) == 0 {
		delete(ps.subs, topic)
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the message.
// It returns the number of subscribers that did not receive it.
func (ps *Pubsub) Publish(topic string, msg models.TopUpEvent) (dropped int) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subs[topic] {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

func (ps *Pubsub) Subscribers(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[topic])
}
