package badger

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Serialization Strategy
// ======================
//
// BadgerDB stores raw bytes, so every struct is JSON-encoded before storing.
// JSON keeps the database debuggable with standard tooling and tolerates
// schema evolution (new fields decode to zero values in old records). Index
// entries store the target ocID as raw bytes since no structure is needed.

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return metadata.WriteFailure("failed to encode record: "+err.Error(), string(key))
	}
	if err := txn.Set(key, data); err != nil {
		return metadata.WriteFailure("failed to write record: "+err.Error(), string(key))
	}
	return nil
}

// decodeJSON wraps json.Unmarshal with the store's error type so scan
// callbacks stay terse.
func decodeJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return metadata.WriteFailure("failed to decode record: "+err.Error(), "")
	}
	return nil
}

// getJSON decodes the value at key into out. Returns badger.ErrKeyNotFound
// unchanged so callers can map it to a domain error with context.
func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// scanPrefix iterates all keys under prefix, decoding nothing. fn receives
// each item; returning a non-nil error aborts the scan.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}
