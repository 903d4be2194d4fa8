package badger

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize different
// data types into logical namespaces. This design:
//   - Prevents key collisions between different data types
//   - Enables efficient range scans (e.g., all records under a directory)
//   - Makes the database structure self-documenting
//
// Key Namespace Prefixes:
//
// Data Type          Prefix   Key Format                            Value Type
// ===============================================================================
// Accounts           "acc:"   acc:<accountID>                       Account (JSON)
// Metadata           "m:"     m:<account>\x00<ocID>                 Metadata (JSON)
// Directory Index    "c:"     c:<account>\x00<serverURL>\x00<ocID>  ocID (bytes)
// Directories        "d:"     d:<account>\x00<ocID>                 Directory (JSON)
// Local Files        "lf:"    lf:<account>\x00<ocID>                LocalFile (JSON)
// Tags               "t:"     t:<account>\x00<ocID>                 Tag (JSON)
//
// Key Design Rationale:
//
// 1. Metadata (m:)
//    - One entry per file/directory record, point lookup by ocID: O(1)
//    - The ocID is the stable server identifier and survives renames
//
// 2. Directory Index (c:)
//    - Denormalized: one entry per record under a given parent path
//    - Listing a directory is a range scan over c:<account>\x00<serverURL>\x00
//    - Kept in the same transaction as the m: entry it points at
//
// 3. Directories (d:)
//    - One entry per directory read-state record, keyed by ocID
//    - Lookups by path scan the d: namespace; directory counts are small
//      compared to file counts, so the scan stays cheap
//
// Separator Choice:
// Server URLs contain ':' and '/', so key segments are separated by the NUL
// byte, which cannot appear in a URL or an ocID. Exact-path range scans
// terminate at the trailing NUL and never match a sibling path that shares a
// prefix.

const (
	prefixAccount   = "acc:"
	prefixMetadata  = "m:"
	prefixDirIndex  = "c:"
	prefixDirectory = "d:"
	prefixLocalFile = "lf:"
	prefixTag       = "t:"

	sep = "\x00"
)

func accountKey(id string) []byte {
	return []byte(prefixAccount + id)
}

func metadataKey(account, ocID string) []byte {
	return []byte(prefixMetadata + account + sep + ocID)
}

func metadataPrefix(account string) []byte {
	return []byte(prefixMetadata + account + sep)
}

func dirIndexKey(account, serverURL, ocID string) []byte {
	return []byte(prefixDirIndex + account + sep + serverURL + sep + ocID)
}

func dirIndexPrefix(account, serverURL string) []byte {
	return []byte(prefixDirIndex + account + sep + serverURL + sep)
}

func directoryKey(account, ocID string) []byte {
	return []byte(prefixDirectory + account + sep + ocID)
}

func directoryPrefix(account string) []byte {
	return []byte(prefixDirectory + account + sep)
}

func localFileKey(account, ocID string) []byte {
	return []byte(prefixLocalFile + account + sep + ocID)
}

func localFilePrefix(account string) []byte {
	return []byte(prefixLocalFile + account + sep)
}

func tagKey(account, ocID string) []byte {
	return []byte(prefixTag + account + sep + ocID)
}

func tagPrefix(account string) []byte {
	return []byte(prefixTag + account + sep)
}
