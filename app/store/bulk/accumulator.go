package bulk

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	log "github.com/go-pkgz/lgr"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// accumulator buffers accepted items and cuts them into batches
// when batch is full or flushEvery passed since the first item of the batch,
// whichever comes first
type accumulator struct {
	queueLock     sync.Mutex
	queue         deque.Deque
	firstAt       time.Time // time the oldest item of the open batch was added
	queueNotifier chan struct{}
	stop          chan struct{}
	shutdownWait  sync.WaitGroup
	flushCount    int
	flushEvery    time.Duration
	submit        func(batch []types.BulkItem)
}

// queuedItem is a buffered item with the time it was added
type queuedItem struct {
	item    types.BulkItem
	addedAt time.Time
}

func newAccumulator(flushCount int, flushEvery time.Duration, submit func([]types.BulkItem)) *accumulator {
	return &accumulator{
		queueNotifier: make(chan struct{}, 1),
		stop:          make(chan struct{}),
		flushCount:    flushCount,
		flushEvery:    flushEvery,
		submit:        submit,
	}
}

// start runs the worker, must be called once
func (a *accumulator) start() {
	a.shutdownWait.Add(1)
	go a.worker()
}

// add appends item to the open batch
func (a *accumulator) add(item types.BulkItem) {
	a.queueLock.Lock()
	now := time.Now()
	if a.queue.Len() == 0 {
		a.firstAt = now
	}
	a.queue.PushBack(queuedItem{item: item, addedAt: now})
	a.queueLock.Unlock()
	a.notify()
}

// flush hands every buffered item to submit, in batches of at most flushCount.
// Returns after all of them are handed off. Flush of empty buffer is a no-op.
func (a *accumulator) flush() {
	for {
		batch := a.cut(func(n int) bool { return n > 0 })
		if batch == nil {
			break
		}
		a.submit(batch)
	}
	a.notify() // let worker re-arm its timer for whatever is left
}

// close stops the worker. Items still buffered are not submitted, call flush first.
func (a *accumulator) close() {
	close(a.stop)
	a.shutdownWait.Wait()
}

func (a *accumulator) notify() {
	select {
	case a.queueNotifier <- struct{}{}:
	default:
	}
}

// cut removes up to flushCount items from the head of the queue if cond(queueLen) holds
func (a *accumulator) cut(cond func(n int) bool) []types.BulkItem {
	a.queueLock.Lock()
	defer a.queueLock.Unlock()

	n := a.queue.Len()
	if !cond(n) {
		return nil
	}
	if n > a.flushCount {
		n = a.flushCount
	}
	batch := make([]types.BulkItem, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, a.queue.PopFront().(queuedItem).item)
	}
	// leftovers form the next batch, its age is the age of the oldest of them
	a.firstAt = time.Time{}
	if a.queue.Len() > 0 {
		a.firstAt = a.queue.Front().(queuedItem).addedAt
	}
	return batch
}

func (a *accumulator) flushFull() {
	for {
		batch := a.cut(func(n int) bool { return n >= a.flushCount })
		if batch == nil {
			return
		}
		a.submit(batch)
	}
}

func (a *accumulator) flushExpired() {
	batch := a.cut(func(n int) bool { return n > 0 && time.Since(a.firstAt) >= a.flushEvery })
	if batch != nil {
		a.submit(batch)
	}
}

// nextFlush returns time left until the open batch expires, false if nothing is buffered
func (a *accumulator) nextFlush() (time.Duration, bool) {
	a.queueLock.Lock()
	defer a.queueLock.Unlock()
	if a.queue.Len() == 0 {
		return 0, false
	}
	left := a.flushEvery - time.Since(a.firstAt)
	if left < 0 {
		left = 0
	}
	return left, true
}

func (a *accumulator) worker() {
	log.Printf("[DEBUG] start bulk accumulator, size %d, interval %v", a.flushCount, a.flushEvery)
	defer a.shutdownWait.Done()

	tmr := time.NewTimer(a.flushEvery)
	stopTimer(tmr)
	for {
		select {
		case <-a.stop:
			stopTimer(tmr)
			log.Printf("[DEBUG] shutdown bulk accumulator")
			return
		case <-tmr.C:
			a.flushExpired()
			a.flushFull()
		case <-a.queueNotifier:
			a.flushFull()
		}
		stopTimer(tmr)
		if left, ok := a.nextFlush(); ok {
			tmr.Reset(left)
		}
	}
}

func stopTimer(tmr *time.Timer) {
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
}
