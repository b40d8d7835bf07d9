package workspace

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/wsdrop/wsdrop/internal"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Directory is the in-memory mapping of identifiers to workspaces created by this process.
// With a retention period, workspaces are deleted from disk once they have not received a
// file for that long. With no retention, entries live as long as the process. Workspaces
// leased by a live session are never deleted.
type Directory struct {
	store     *Store
	cache     *ttlcache.Cache[string, string]
	pool      *internal.WorkerPool
	retention time.Duration

	unsubscribe func()

	mu     sync.Mutex
	leases map[string]int
}

func NewDirectory(store *Store, retention time.Duration) *Directory {
	if retention < 0 {
		retention = 0
	}
	d := &Directory{
		store: store,
		cache: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](retention),
			ttlcache.WithDisableTouchOnHit[string, string](), // downloads don't extend retention
		),
		pool:      internal.NewWorkerPool(2),
		retention: retention,
		leases:    make(map[string]int),
	}
	d.unsubscribe = d.cache.OnEviction(d.onEviction)
	return d
}

// Start expiring workspaces. Only call this once.
func (d *Directory) Start() {
	d.pool.Start()
	go d.cache.Start()
}

// Stop expiring workspaces. Only call this once, after Start.
func (d *Directory) Stop() {
	d.cache.Stop()
	// waits for eviction callbacks still queueing removals
	d.unsubscribe()
	d.pool.Stop()
}

// Acquire marks the workspace for id as in use by a live session. It is not removed on expiry
// until every lease is released.
func (d *Directory) Acquire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leases[id]++
}

// Release drops a lease taken with Acquire. When the last lease goes, retention restarts from
// now for a workspace that exists on disk.
func (d *Directory) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.leases[id] > 1 {
		d.leases[id]--
		return
	}
	delete(d.leases, id)
	if _, err := os.Stat(d.store.Path(id)); err == nil {
		d.Register(id)
	}
}

// Register records that the workspace for id now exists, or refreshes its retention.
func (d *Directory) Register(id string) {
	d.cache.Set(id, d.store.Path(id), ttlcache.DefaultTTL)
}

// Forget drops id from the mapping without touching the disk.
func (d *Directory) Forget(id string) {
	d.cache.Delete(id)
}

// Known reports whether this process created the workspace for id and it has not expired.
func (d *Directory) Known(id string) bool {
	return d.cache.Get(id) != nil
}

func (d *Directory) Len() int {
	return d.cache.Len()
}

func (d *Directory) onEviction(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, string]) {
	if reason != ttlcache.EvictionReasonExpired {
		return
	}
	id := item.Key()
	d.pool.Queue(func() {
		d.expire(id)
	})
}

func (d *Directory) expire(id string) {
	// held across the removal so a new lease cannot start while files are deleted
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.leases[id] > 0 {
		logger.Debug().Str("id", id).Msg("workspace expired while in use, keeping it")
		d.Register(id)
		return
	}
	if d.Known(id) {
		// registered again after expiring
		return
	}
	if err := d.store.Remove(id); err != nil {
		logger.Err(err).Str("id", id).Msg("failed to remove expired workspace")
		return
	}
	logger.Info().Str("id", id).Dur("retention", d.retention).Msg("removed expired workspace")
}
