package perf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocks(t *testing.T) {
	s := NewSession("migrate")
	outer := s.StartBlock("MIGRATION", "0001_authors.sql")
	inner := s.StartBlock("SQL", "CreateAuthor")
	inner.End()
	s.Checkpoint("MIGRATION", "applied")
	s.EndSession()

	blocks := s.Blocks()
	require.Len(t, blocks, 3)
	for _, b := range blocks {
		assert.False(t, b.End.IsZero())
		assert.GreaterOrEqual(t, b.DurationMs(), 0.0)
	}
	assert.Equal(t, "CreateAuthor", blocks[1].Description)

	// Ending an already-closed block leaves its end time alone.
	end := blocks[0].End
	outer.End()
	assert.Equal(t, end, s.Blocks()[0].End)

	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[SQL] CreateAuthor")
}

func TestNilSession(t *testing.T) {
	ctx := context.Background()
	s := ExtractPerf(ctx)
	assert.Nil(t, s)

	// None of these may panic.
	s.StartBlock("SQL", "nothing").End()
	s.Checkpoint("SQL", "nothing")
	s.EndSession()
	assert.Empty(t, s.Blocks())

	sess := NewSession("x")
	assert.Same(t, sess, ExtractPerf(AttachPerf(ctx, sess)))
}
