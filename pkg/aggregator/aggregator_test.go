package aggregator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineCollector struct {
	mu    sync.Mutex
	lines []Line
}

func (c *lineCollector) handle(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *lineCollector) all() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func TestAttachReturnsUniqueShortIDs(t *testing.T) {
	a := New(false, nil, nil)
	id1, err := a.Attach()
	require.NoError(t, err)
	id2, err := a.Attach()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestFeedEmitsOneLinePerNewline(t *testing.T) {
	c := &lineCollector{}
	a := New(false, c.handle, nil)
	id, err := a.Attach()
	require.NoError(t, err)

	a.Feed(id, []byte("first line\nsecond line\nthird partial"))

	lines := c.all()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0].Text, "first line")
	assert.Contains(t, lines[0].Text, id)
	assert.Contains(t, lines[1].Text, "second line")
}

func TestFeedBuffersAcrossCalls(t *testing.T) {
	c := &lineCollector{}
	a := New(false, c.handle, nil)
	id, err := a.Attach()
	require.NoError(t, err)

	a.Feed(id, []byte("partial "))
	a.Feed(id, []byte("complete\n"))

	lines := c.all()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Text, "partial complete")
}

func TestFeedIgnoresUnknownChild(t *testing.T) {
	c := &lineCollector{}
	a := New(false, c.handle, nil)
	a.Feed("nonexistent", []byte("hello\n"))
	assert.Empty(t, c.all())
}

func TestMetricsTracksBytesAndLines(t *testing.T) {
	a := New(false, nil, nil)
	id, err := a.Attach()
	require.NoError(t, err)

	a.Feed(id, []byte("abc\ndef\n"))
	m, ok := a.Metrics(id)
	require.True(t, ok)
	assert.EqualValues(t, 8, m.Bytes)
	assert.Equal(t, 2, m.Lines)
}

func TestRecordInterventionIncrementsCounter(t *testing.T) {
	a := New(false, nil, nil)
	id, err := a.Attach()
	require.NoError(t, err)

	a.RecordIntervention(id)
	a.RecordIntervention(id)

	m, ok := a.Metrics(id)
	require.True(t, ok)
	assert.Equal(t, 2, m.Interventions)
}

func TestDetachFlushesPartialLineAndEmitsComplete(t *testing.T) {
	lc := &lineCollector{}
	var completed []ChildComplete
	a := New(false, lc.handle, func(cc ChildComplete) { completed = append(completed, cc) })

	id, err := a.Attach()
	require.NoError(t, err)
	a.Feed(id, []byte("unterminated tail"))

	a.Detach(id)

	lines := lc.all()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Text, "unterminated tail")

	require.Len(t, completed, 1)
	assert.Equal(t, id, completed[0].ShortID)
	assert.Equal(t, 1, completed[0].LineCount)

	_, ok := a.Metrics(id)
	assert.False(t, ok)
}

func TestGlobalStatsAggregatesAcrossChildren(t *testing.T) {
	a := New(false, nil, nil)
	id1, err := a.Attach()
	require.NoError(t, err)
	id2, err := a.Attach()
	require.NoError(t, err)

	a.Feed(id1, []byte("aa\n"))
	a.Feed(id2, []byte("bb\ncc\n"))

	stats := a.GlobalStats()
	assert.Equal(t, 2, stats.ActiveCount)
	assert.Equal(t, 3, stats.TotalLines)
	assert.EqualValues(t, 9, stats.TotalBytes)

	a.Detach(id1)
	stats = a.GlobalStats()
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, 2, stats.TotalChildIDs)
}

func TestColorizeEmbedsAnsiCodes(t *testing.T) {
	c := &lineCollector{}
	a := New(true, c.handle, nil)
	id, err := a.Attach()
	require.NoError(t, err)

	a.Feed(id, []byte("hello\n"))
	lines := c.all()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Text, "\x1b[")
}
