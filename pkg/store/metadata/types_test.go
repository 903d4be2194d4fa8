package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortMetadatas(t *testing.T) {
	records := []*Metadata{
		{OcID: "b", FileName: "same.txt"},
		{OcID: "c", FileName: "zeta.txt"},
		{OcID: "a", FileName: "same.txt"},
		{OcID: "d", FileName: "alpha.txt"},
	}
	SortMetadatas(records)

	assert.Equal(t, "alpha.txt", records[0].FileName)
	// Equal names fall back to ocId so ordering stays deterministic.
	assert.Equal(t, "a", records[1].OcID)
	assert.Equal(t, "b", records[2].OcID)
	assert.Equal(t, "zeta.txt", records[3].FileName)
}

func TestComputeFavoriteRank(t *testing.T) {
	records := []*Metadata{
		{OcID: "w", FileNameView: "Work", Directory: true, Favorite: true},
		{OcID: "a", FileNameView: "Archive", Directory: true, Favorite: true},
		{OcID: "m", FileNameView: "Misc", Directory: true},
		{OcID: "f", FileNameView: "afile.txt", Favorite: true},
	}

	ranks := ComputeFavoriteRank(records, 10)
	assert.Len(t, ranks, 2)
	assert.Equal(t, int64(11), ranks["a"])
	assert.Equal(t, int64(12), ranks["w"])

	assert.Empty(t, ComputeFavoriteRank(nil, 10))
}

func TestStoreErrorPredicates(t *testing.T) {
	err := NotFound("metadata not found", "oc1")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsWriteFailure(err))
	assert.Contains(t, err.Error(), "oc1")

	err = WriteFailure("disk full", "/db")
	assert.True(t, IsWriteFailure(err))
	assert.False(t, IsNotFound(err))

	assert.False(t, IsNotFound(nil))
}

func TestStatusClasses(t *testing.T) {
	assert.True(t, StatusNormal.IsTerminal())
	assert.True(t, StatusHide.IsTerminal())
	assert.False(t, StatusUploading.IsTerminal())
	assert.True(t, StatusWaitDownload.IsDownload())
	assert.True(t, StatusUploadError.IsUpload())
	assert.False(t, StatusNormal.IsUpload())
}
