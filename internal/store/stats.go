package store

import (
	"encoding/binary"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

const counterPrefix = "stats/"

// Stats keeps named counters on disk. Only counters are stored, never messages.
type Stats struct {
	db *badger.DB
}

// OpenStats opens the counter store in dir. With inMemory set dir is ignored.
func OpenStats(dir string, inMemory bool) (*Stats, error) {
	if !inMemory && dir == "" {
		return nil, errors.New("stats directory not specified")
	}

	opts := badger.DefaultOptions(dir).WithInMemory(inMemory)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("")
	}
	return openStats(opts)
}

func openStats(opts badger.Options) (*Stats, error) {
	db, err := badger.Open(opts.WithLogger(badgerLogger{log.WithField("component", "badger")}))
	if err != nil {
		return nil, err
	}

	return &Stats{db: db}, nil
}

// badgerLogger demotes badger's chatty info output to debug.
type badgerLogger struct {
	*log.Entry
}

func (l badgerLogger) Infof(f string, args ...interface{}) {
	l.Debugf(f, args...)
}

func (s *Stats) Close() error {
	return s.db.Close()
}

func counterKey(name string) []byte {
	return append([]byte(counterPrefix), name...)
}

// Add increments each named counter by its delta. Counters are removed from
// deltas once stored, so after an error deltas holds exactly the ones that
// were not.
func (s *Stats) Add(deltas map[string]uint64) error {
	txn := s.db.NewTransaction(true)
	defer func() {
		txn.Discard()
	}()

	batch := make([]string, 0, len(deltas))
	commit := func() error {
		if err := txn.Commit(); err != nil {
			return err
		}
		for _, name := range batch {
			delete(deltas, name)
		}
		batch = batch[:0]
		return nil
	}

	for name, d := range deltas {
		if d == 0 {
			delete(deltas, name)
			continue
		}

		key := counterKey(name)
		val, err := get(txn, key)
		if err != nil {
			return err
		}

		if err = txn.Set(key, binary.BigEndian.AppendUint64(nil, val+d)); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				return err
			}
			if err = commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			if err = txn.Set(key, binary.BigEndian.AppendUint64(nil, val+d)); err != nil {
				return err
			}
		}
		batch = append(batch, name)
	}

	return commit()
}

func get(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.New("corrupt counter " + strings.TrimPrefix(string(key), counterPrefix))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

// Get returns a counter. Unknown counters are 0.
func (s *Stats) Get(name string) (v uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		v, err = get(txn, counterKey(name))
		return err
	})
	return
}

// Each calls fn for every counter whose name starts with prefix, in name order.
func (s *Stats) Each(prefix string, fn func(name string, v uint64)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := counterKey(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) != 8 {
				continue
			}

			fn(string(k[len(counterPrefix):]), binary.BigEndian.Uint64(val))
		}
		return nil
	})
}
