package mempool

// evictOldestLocked drops the lowest-sequence entry to make room.
// Returns false if the pool is empty. Caller holds the write lock.
func (p *Pool) evictOldestLocked() bool {
	var oldest *entry
	for _, e := range p.items {
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	if oldest == nil {
		return false
	}
	delete(p.items, oldest.hash)
	return true
}

// Evict removes the oldest item, returning how many were dropped.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.evictOldestLocked() {
		return 1
	}
	return 0
}
