// Package storage persists minicl dispatch profiles in BadgerDB.
//
// A ProfileStore implements minicl.ProfileSink. Every dispatch of a context opened
// with minicl.WithProfileSink(store) becomes one gob-encoded record under the key
//
//	profile/<context-id>/<sequence>
//
// so the records of one context iterate in dispatch order.
//
// Example Usage:
//
//	store, err := storage.OpenProfileStore("/var/lib/minicl/profile")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	ctx, err := minicl.New(source, 0, minicl.WithProfileSink(store))
//	...
//	summaries, _ := store.Summaries()
//
// An empty directory opens an in-memory store, which is what tests use.
package storage

import (
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/minicl"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("storage: profile store closed")

// ProfileStore is a thread-safe BadgerDB store of dispatch records.
type ProfileStore struct {
	db       *badger.DB
	inMemory bool
}

// KernelSummary aggregates the stored dispatches of one kernel.
type KernelSummary struct {
	Kernel     string
	Dispatches int
	Failures   int
	WorkItems  uint64
	Total      time.Duration
	Min        time.Duration
	Max        time.Duration
}

// Mean is the average duration of the successful dispatches.
func (s KernelSummary) Mean() time.Duration {
	ok := s.Dispatches - s.Failures
	if ok <= 0 {
		return 0
	}
	return s.Total / time.Duration(ok)
}

// badgerLogger routes badger's log output to klog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { klog.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { klog.Warningf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { klog.V(3).Infof("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { klog.V(5).Infof("badger: "+format, args...) }

// OpenProfileStore opens (or creates) the store in dir. An empty dir keeps the store
// in memory.
func OpenProfileStore(dir string) (*ProfileStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open profile store %q", dir)
	}
	klog.V(1).Infof("storage: profile store opened (dir=%q in-memory=%v)", dir, dir == "")
	return &ProfileStore{db: db, inMemory: dir == ""}, nil
}

// InMemory reports whether the store lives only in memory.
func (s *ProfileStore) InMemory() bool { return s.inMemory }

// RecordDispatch stores rec. It implements minicl.ProfileSink.
func (s *ProfileStore) RecordDispatch(rec minicl.DispatchRecord) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	data, err := serializeRecord(&rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ContextID, rec.Seq), data)
	})
}

// List returns the records of one context in dispatch order.
func (s *ProfileStore) List(contextID string) ([]minicl.DispatchRecord, error) {
	var out []minicl.DispatchRecord
	err := s.scan(contextPrefix(contextID), func(rec *minicl.DispatchRecord) {
		out = append(out, *rec)
	})
	return out, err
}

// Contexts returns the IDs of every context with stored records, sorted.
func (s *ProfileStore) Contexts() ([]string, error) {
	if s.db.IsClosed() {
		return nil, ErrStoreClosed
	}
	seen := map[string]bool{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(profilePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			seen[contextOf(it.Item().Key())] = true
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: list contexts")
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Summaries aggregates every stored record per kernel, sorted by kernel name.
func (s *ProfileStore) Summaries() ([]KernelSummary, error) {
	byKernel := map[string]*KernelSummary{}
	err := s.scan([]byte(profilePrefix), func(rec *minicl.DispatchRecord) {
		sum, ok := byKernel[rec.Kernel]
		if !ok {
			sum = &KernelSummary{Kernel: rec.Kernel}
			byKernel[rec.Kernel] = sum
		}
		sum.Dispatches++
		if rec.Err != "" {
			sum.Failures++
			return
		}
		sum.WorkItems += uint64(rec.GlobalSize)
		sum.Total += rec.Duration
		if sum.Min == 0 || rec.Duration < sum.Min {
			sum.Min = rec.Duration
		}
		sum.Max = max(sum.Max, rec.Duration)
	})
	if err != nil {
		return nil, err
	}

	out := make([]KernelSummary, 0, len(byKernel))
	for _, sum := range byKernel {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kernel < out[j].Kernel })
	return out, nil
}

func (s *ProfileStore) scan(prefix []byte, fn func(*minicl.DispatchRecord)) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec *minicl.DispatchRecord
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = deserializeRecord(val)
				return err
			})
			if err != nil {
				return errors.Wrapf(err, "key %q", it.Item().Key())
			}
			fn(rec)
		}
		return nil
	})
	return errors.Wrap(err, "storage: scan profiles")
}

// Close flushes and closes the store.
func (s *ProfileStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return errors.Wrap(s.db.Close(), "storage: close profile store")
}
