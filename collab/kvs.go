package collab

import (
	"context"
	"sync"

	"github.com/rankmesh/tbon/future"
	"github.com/rankmesh/tbon/internal/reactor"
	"github.com/rankmesh/tbon/internal/status"
)

// kvsEntry is one key's current value plus the version counter Watch
// sequences are keyed against.
type kvsEntry struct {
	value   []byte
	version uint64
	removed bool
}

// KVSOp is one write within a Commit transaction: Put a value, or
// Unlink (remove) a key.
type KVSOp struct {
	Key    string
	Value  []byte
	Unlink bool
}

// KVSTxn is an ordered batch of operations applied atomically by
// Commit — kvs_commit(txn) in the core's contract.
type KVSTxn struct {
	Namespace string
	Ops       []KVSOp
}

// KVS is an in-process namespaced key/value store with version-tracked
// watches, the local stand-in for the content-addressed, overlay-wide
// store the core's higher-level services address via namespace/key —
// this module only needs the client-facing lookup/commit/watch
// contract, not the overlay replication it rides on in production.
type KVS struct {
	loop *reactor.Loop

	mu         sync.RWMutex
	namespaces map[string]map[string]*kvsEntry
	watchers   map[string][]chan kvsEvent // keyed by namespace+"\x00"+key
}

type kvsEvent struct {
	entry kvsEntry
	ok    bool
}

// NewKVS constructs an empty store. loop drives the futures returned
// by Lookup and Commit.
func NewKVS(loop *reactor.Loop) *KVS {
	return &KVS{
		loop:       loop,
		namespaces: make(map[string]map[string]*kvsEntry),
		watchers:   make(map[string][]chan kvsEvent),
	}
}

// Lookup resolves namespace/key to its current value (kvs_lookup →
// future<value>), failing with NotFound if unset or removed.
func (k *KVS) Lookup(namespace, key string) *future.Future {
	f := future.New(k.loop, nil)
	k.mu.RLock()
	entry, ok := k.namespaces[namespace][key]
	k.mu.RUnlock()
	if !ok || entry.removed {
		_ = f.FulfillError(status.NotFound)
		return f
	}
	_ = f.Fulfill(entry.value, nil)
	return f
}

// Commit applies txn's operations atomically and notifies any watchers
// of the affected keys (kvs_commit(txn) → future<unit>).
func (k *KVS) Commit(txn KVSTxn) *future.Future {
	f := future.New(k.loop, nil)
	if txn.Namespace == "" {
		_ = f.FulfillError(status.Invalid)
		return f
	}

	k.mu.Lock()
	ns, ok := k.namespaces[txn.Namespace]
	if !ok {
		ns = make(map[string]*kvsEntry)
		k.namespaces[txn.Namespace] = ns
	}
	type touched struct {
		key   string
		entry kvsEntry
	}
	var changed []touched
	for _, op := range txn.Ops {
		cur := ns[op.Key]
		var next kvsEntry
		if cur != nil {
			next.version = cur.version
		}
		next.version++
		if op.Unlink {
			next.removed = true
		} else {
			next.value = op.Value
		}
		ns[op.Key] = &next
		changed = append(changed, touched{key: op.Key, entry: next})
	}
	// snapshot subscriber channels while still holding the lock, then
	// deliver after releasing it so a slow watcher can't stall Commit.
	type delivery struct {
		chans []chan kvsEvent
		ev    kvsEvent
	}
	var deliveries []delivery
	for _, c := range changed {
		watchKey := txn.Namespace + "\x00" + c.key
		if chans := k.watchers[watchKey]; len(chans) > 0 {
			cp := make([]chan kvsEvent, len(chans))
			copy(cp, chans)
			deliveries = append(deliveries, delivery{chans: cp, ev: kvsEvent{entry: c.entry, ok: true}})
		}
		if c.entry.removed {
			delete(k.watchers, watchKey)
		}
	}
	k.mu.Unlock()

	for _, d := range deliveries {
		for _, ch := range d.chans {
			select {
			case ch <- d.ev:
			default: // slow watcher, drop this version; it'll see the next one or the close
			}
		}
	}

	_ = f.Fulfill(struct{}{}, nil)
	return f
}

// KVSVersion is one value observed by Watch.
type KVSVersion struct {
	Value   []byte
	Removed bool
}

// Watch returns a cancellable channel of successive versions of
// namespace/key (kvs_watch(key, flags) → lazy sequence of value
// versions) — grounded on longpoll's cancellable-sequence shape,
// rewritten over a plain buffered channel plus ctx-driven teardown
// rather than longpoll's min/max/partial-timeout batching, which has
// no analogue for a single watched key. The returned channel closes
// when ctx is done or the key is removed (a finite sequence); absent
// either, it is unbounded.
func (k *KVS) Watch(ctx context.Context, namespace, key string) <-chan KVSVersion {
	out := make(chan KVSVersion, 8)
	events := make(chan kvsEvent, 8)
	watchKey := namespace + "\x00" + key

	k.mu.Lock()
	k.watchers[watchKey] = append(k.watchers[watchKey], events)
	var current kvsEvent
	if entry, ok := k.namespaces[namespace][key]; ok {
		current = kvsEvent{entry: *entry, ok: true}
	}
	k.mu.Unlock()

	unregister := func() {
		k.mu.Lock()
		chans := k.watchers[watchKey]
		for i, c := range chans {
			if c == events {
				k.watchers[watchKey] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		k.mu.Unlock()
	}

	go func() {
		defer close(out)
		defer unregister()
		if current.ok {
			if !deliverVersion(ctx, out, current.entry) {
				return
			}
			if current.entry.removed {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !deliverVersion(ctx, out, ev.entry) {
					return
				}
				if ev.entry.removed {
					return
				}
			}
		}
	}()

	return out
}

func deliverVersion(ctx context.Context, out chan<- KVSVersion, entry kvsEntry) bool {
	select {
	case out <- KVSVersion{Value: entry.value, Removed: entry.removed}:
		return true
	case <-ctx.Done():
		return false
	}
}
