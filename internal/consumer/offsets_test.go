package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetTracker_CommitsOnlyContiguousPrefix(t *testing.T) {
	tr := newOffsetTracker()
	for _, off := range []int64{10, 11, 12, 13} {
		tr.Track("transactions.created", 0, off)
	}

	tr.Done("transactions.created", 0, 11)
	tr.Done("transactions.created", 0, 13)
	assert.Empty(t, tr.Committable(), "offset 10 is still in flight")

	tr.Done("transactions.created", 0, 10)
	assert.Equal(t, []Offset{{Topic: "transactions.created", Partition: 0, Offset: 11}}, tr.Committable())

	tr.Done("transactions.created", 0, 12)
	offsets := tr.Committable()
	require.Len(t, offsets, 1)
	assert.Equal(t, int64(13), offsets[0].Offset)
	assert.Zero(t, tr.Pending())
}

func TestOffsetTracker_CommittedIsNotRepeated(t *testing.T) {
	tr := newOffsetTracker()
	tr.Track("t", 1, 0)
	tr.Done("t", 1, 0)

	offsets := tr.Committable()
	require.Len(t, offsets, 1)
	tr.Committed(offsets)
	assert.Empty(t, tr.Committable())

	tr.Track("t", 1, 1)
	assert.Empty(t, tr.Committable())
	assert.Equal(t, 1, tr.Pending())
}

func TestOffsetTracker_PartitionsAreIndependent(t *testing.T) {
	tr := newOffsetTracker()
	tr.Track("a", 0, 5)
	tr.Track("a", 1, 7)
	tr.Track("b", 0, 3)

	tr.Done("a", 1, 7)
	tr.Done("b", 0, 3)

	assert.Equal(t, []Offset{
		{Topic: "a", Partition: 1, Offset: 7},
		{Topic: "b", Partition: 0, Offset: 3},
	}, tr.Committable())
}

func TestOffsetTracker_FailedCommitIsRetried(t *testing.T) {
	tr := newOffsetTracker()
	tr.Track("t", 0, 0)
	tr.Done("t", 0, 0)

	first := tr.Committable()
	require.Len(t, first, 1)

	// nothing acknowledged: the same offsets come back
	assert.Equal(t, first, tr.Committable())
}

func TestOffsetTracker_DoneForUnknownPartitionIsIgnored(t *testing.T) {
	tr := newOffsetTracker()
	tr.Done("t", 9, 1)
	assert.Empty(t, tr.Committable())
}
