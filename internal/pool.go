package internal

// WorkerPool runs filesystem housekeeping (workspace removal on expiry) off the goroutines
// that trigger it. Upload sessions never queue work here: they own their files directly.
type WorkerPool struct {
	N  int
	ch chan func()
}

// Create a new worker pool of size N. Up to N work can be done concurrently.
// Queue blocks once N items are in flight and N more are buffered, so a burst of expiring
// workspaces cannot pile up unbounded removal work in memory.
func NewWorkerPool(n int) *WorkerPool {
	return &WorkerPool{
		N:  n,
		ch: make(chan func(), n),
	}
}

// Start the workers. Only call this once.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.N; i++ {
		go wp.worker()
	}
}

// Stop the worker pool. Queued work still runs. Only call this once, and never Queue afterwards.
func (wp *WorkerPool) Stop() {
	close(wp.ch)
}

// Queue some work on the pool. May or may not block until some work is processed.
func (wp *WorkerPool) Queue(fn func()) {
	wp.ch <- fn
}

func (wp *WorkerPool) worker() {
	for fn := range wp.ch {
		fn()
	}
}
