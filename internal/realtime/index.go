package realtime

import "sync"

// SubscriptionIndex tracks every live subscription so a save to one topic
// can be matched against candidate subscribers without scanning every
// client. Pattern matching means a topic name cannot be used as a map
// key directly, so the index
// keeps a flat set and relies on Subscription.Matches per candidate.
type SubscriptionIndex struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewSubscriptionIndex constructs an empty index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{subs: make(map[string]*Subscription)}
}

// Add indexes a subscription.
func (idx *SubscriptionIndex) Add(sub *Subscription) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.subs[sub.ID] = sub
}

// Remove removes a subscription from the index.
func (idx *SubscriptionIndex) Remove(subID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.subs, subID)
}

// Candidates returns every subscription whose pattern matches topicName.
func (idx *SubscriptionIndex) Candidates(topicName string) []*Subscription {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []*Subscription
	for _, sub := range idx.subs {
		if sub.Matches(topicName) {
			out = append(out, sub)
		}
	}
	return out
}

// Count returns the total number of indexed subscriptions.
func (idx *SubscriptionIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.subs)
}
