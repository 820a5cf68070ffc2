package vpn

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineSplitterCarriesPartialLines(t *testing.T) {
	var s lineSplitter

	assert.Empty(t, s.Feed([]byte("Initialization Seq")))
	assert.Equal(t, []string{"Initialization Sequence Completed"}, s.Feed([]byte("uence Completed\nnext")))
	assert.Equal(t, []string{"next line"}, s.Feed([]byte(" line\n")))
	assert.Empty(t, s.Flush())
}

func TestLineSplitterNormalizesEndings(t *testing.T) {
	var s lineSplitter

	lines := s.Feed([]byte("first\r\n\r\n  second  \n\n\tthird\r\n"))
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestLineSplitterFlushesRemainder(t *testing.T) {
	var s lineSplitter

	assert.Empty(t, s.Feed([]byte("no newline at end\r")))
	assert.Equal(t, []string{"no newline at end"}, s.Flush())
	assert.Empty(t, s.Flush())
}

func TestLogRingEvictsOldest(t *testing.T) {
	ring := newLogRing(1000)
	for i := 0; i < 1001; i++ {
		ring.Add(fmt.Sprintf("line %d", i))
	}

	lines := ring.Snapshot()
	assert.Len(t, lines, 1000)
	assert.Equal(t, "line 1", lines[0])
	assert.Equal(t, "line 1000", lines[999])
}

func TestLogRingSnapshotIsCopy(t *testing.T) {
	ring := newLogRing(3)
	ring.Add("a")
	ring.Add("b")

	snap := ring.Snapshot()
	snap[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, ring.Snapshot())
}

func TestLogRingReset(t *testing.T) {
	ring := newLogRing(2)
	ring.Add("a")
	ring.Add("b")
	ring.Add("c")
	assert.Equal(t, []string{"b", "c"}, ring.Snapshot())

	ring.Reset()
	assert.Equal(t, 0, ring.Len())
	assert.Empty(t, ring.Snapshot())

	ring.Add("d")
	assert.Equal(t, []string{"d"}, ring.Snapshot())
}
