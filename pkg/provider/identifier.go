package provider

// IdentifierKind discriminates the closed set of item identifier shapes.
type IdentifierKind int

const (
	// KindRoot is the account's root container.
	KindRoot IdentifierKind = iota

	// KindWorkingSet is the virtual flat collection of favorited and
	// tagged items.
	KindWorkingSet

	// KindEntry is a concrete file or directory addressed by its ocId.
	KindEntry
)

// Reserved string tokens. The double-underscore namespace keeps them out of
// the ocId value space; server identifiers never start with "__".
const (
	rootToken       = "__root__"
	workingSetToken = "__workingset__"
)

// ItemIdentifier addresses one enumerable thing: the root container, the
// working set, or an entry by ocId. The zero value is the root container.
type ItemIdentifier struct {
	kind IdentifierKind
	ocID string
}

// Root is the identifier of the account's root container.
var Root = ItemIdentifier{kind: KindRoot}

// WorkingSet is the identifier of the working-set container.
var WorkingSet = ItemIdentifier{kind: KindWorkingSet}

// Entry builds the identifier of the record with the given ocId.
func Entry(ocID string) ItemIdentifier {
	return ItemIdentifier{kind: KindEntry, ocID: ocID}
}

// ParseIdentifier maps a string token back to an identifier.
func ParseIdentifier(token string) ItemIdentifier {
	switch token {
	case rootToken:
		return Root
	case workingSetToken:
		return WorkingSet
	default:
		return Entry(token)
	}
}

// Kind returns the identifier's discriminator.
func (id ItemIdentifier) Kind() IdentifierKind {
	return id.kind
}

// IsRoot reports whether id addresses the root container.
func (id ItemIdentifier) IsRoot() bool {
	return id.kind == KindRoot
}

// IsWorkingSet reports whether id addresses the working set.
func (id ItemIdentifier) IsWorkingSet() bool {
	return id.kind == KindWorkingSet
}

// IsEntry reports whether id addresses a concrete record.
func (id ItemIdentifier) IsEntry() bool {
	return id.kind == KindEntry
}

// OcID returns the addressed record's ocId, or "" for root and working set.
func (id ItemIdentifier) OcID() string {
	return id.ocID
}

// String returns the opaque token form handed across the protocol boundary.
func (id ItemIdentifier) String() string {
	switch id.kind {
	case KindRoot:
		return rootToken
	case KindWorkingSet:
		return workingSetToken
	default:
		return id.ocID
	}
}
