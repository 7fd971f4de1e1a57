package fieldkit

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayEmptyLog(t *testing.T) {
	delta, err := Replay(FieldMap{"name": "Plot A"}, nil)
	require.NoError(t, err)
	assert.Empty(t, delta)
}

func TestReplayFoldsInOrder(t *testing.T) {
	baseline := FieldMap{"name": "", "status": "active"}
	log := []Transaction{
		Patch(FieldMap{"name": "First"}),
		Patch(FieldMap{"name": "Second"}),
		Patch(FieldMap{"status": "archived"}),
	}
	delta, err := Replay(baseline, log)
	require.NoError(t, err)
	assert.Equal(t, FieldMap{"name": "Second", "status": "archived"}, delta)
}

func TestReplaySeesPredecessorWrites(t *testing.T) {
	baseline := FieldMap{"count": int64(0)}
	bump := func(state FieldMap) (FieldMap, error) {
		n, _ := state["count"].(int64)
		return FieldMap{"count": n + 1}, nil
	}
	delta, err := Replay(baseline, []Transaction{bump, bump, bump})
	require.NoError(t, err)
	assert.Equal(t, int64(3), delta["count"])
}

func TestReplayElidesRevertedEdits(t *testing.T) {
	baseline := FieldMap{"name": "Plot A", "notes": ""}
	log := []Transaction{
		Patch(FieldMap{"name": "Plot B", "notes": "wip"}),
		Patch(FieldMap{"name": "Plot A"}),
	}
	delta, err := Replay(baseline, log)
	require.NoError(t, err)
	assert.Equal(t, FieldMap{"notes": "wip"}, delta)
}

func TestReplayIsIdempotent(t *testing.T) {
	baseline := FieldMap{"name": "", "archived": false}
	log := []Transaction{
		Patch(FieldMap{"name": "Barn"}),
		Patch(FieldMap{"archived": true}),
	}
	first, err := Replay(baseline, log)
	require.NoError(t, err)
	second, err := Replay(baseline, log)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReplayDoesNotMutateBaseline(t *testing.T) {
	baseline := FieldMap{"name": "Barn"}
	_, err := Replay(baseline, []Transaction{Patch(FieldMap{"name": "Coop"})})
	require.NoError(t, err)
	assert.Equal(t, "Barn", baseline["name"])
}

func TestReplayAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	log := []Transaction{
		Patch(FieldMap{"name": "First"}),
		func(FieldMap) (FieldMap, error) { return nil, boom },
	}
	delta, err := Replay(FieldMap{}, log)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, delta)
}
