package ingest

import (
	"container/list"
	"sync"
)

// dedupeLRU is a fixed-size set of recently seen dedupe keys. It answers
// most duplicate checks without touching the database.
type dedupeLRU struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	keys    map[string]*list.Element
}

func newDedupeLRU(maxSize int) *dedupeLRU {
	if maxSize < 10000 {
		maxSize = 10000
	}
	return &dedupeLRU{
		maxSize: maxSize,
		order:   list.New(),
		keys:    make(map[string]*list.Element, maxSize),
	}
}

// seen records key and reports whether it was already present.
func (d *dedupeLRU) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.keys[key]; ok {
		d.order.MoveToFront(el)
		return true
	}
	d.keys[key] = d.order.PushFront(key)
	for d.order.Len() > d.maxSize {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.keys, oldest.Value.(string))
	}
	return false
}

func (d *dedupeLRU) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
