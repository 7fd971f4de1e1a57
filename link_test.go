package fieldkit

import (
	"testing"

	"github.com/jgaehring/field-kit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkInvalidReferent(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.Link(&Ref{token: 424242}, "location", "asset")
	assert.ErrorIs(t, err, ErrInvalidReferent)
}

func TestLinkResolvesToOneTarget(t *testing.T) {
	h := newHarness(t)
	src, err := h.e.Checkout("asset", "plant", "")
	require.NoError(t, err)
	link, err := h.e.Link(src, "location", "asset")
	require.NoError(t, err)

	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"location": Identifier{Type: "land", ID: "loc-1"},
	}))

	ent, col, err := h.e.Resolve(link)
	require.NoError(t, err)
	assert.Nil(t, col)
	id, err := h.e.ID(ent)
	require.NoError(t, err)
	assert.Equal(t, "loc-1", id)
	h.await(ent)

	deps := h.e.rev(src).depsSnapshot()
	require.Len(t, deps, 1)
	for _, rel := range deps {
		assert.Equal(t, "location", rel)
	}
}

// Listeners attached to the satellite before the relationship resolves
// migrate onto the target and keep firing afterwards.
func TestLinkMigratesListenersOnResolve(t *testing.T) {
	h := newHarness(t)
	h.tr.gate = make(chan struct{})
	h.tr.fn = func(kind string, req transport.Request) (transport.Evaluation, error) {
		if req.Filter.ID == "loc-1" {
			return transport.Evaluation{
				Connectivity: transport.StatusOnline,
				Data:         []FieldMap{{"id": "loc-1", "type": "land", "name": "North Field"}},
			}, nil
		}
		return transport.Evaluation{Connectivity: transport.StatusOnline}, nil
	}

	src, err := h.e.Checkout("asset", "plant", "")
	require.NoError(t, err)
	link, err := h.e.Link(src, "location", "asset")
	require.NoError(t, err)
	ent, _, err := h.e.Resolve(link)
	require.NoError(t, err)

	got := make(chan FieldMap, 1)
	off, err := h.e.On(ent, EventSync, func(fields FieldMap) {
		got <- fields
	})
	require.NoError(t, err)
	defer off()

	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"location": Identifier{Type: "land", ID: "loc-1"},
	}))
	close(h.tr.gate)
	h.await(ent)

	select {
	case fields := <-got:
		assert.Equal(t, "North Field", fields["name"])
	default:
		t.Fatal("migrated listener never fired")
	}
}

func TestLinkClearsOnEmptyValue(t *testing.T) {
	h := newHarness(t)
	src, err := h.e.Checkout("asset", "plant", "")
	require.NoError(t, err)
	link, err := h.e.Link(src, "location", "asset")
	require.NoError(t, err)
	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"location": Identifier{Type: "land", ID: "loc-1"},
	}))
	require.NoError(t, h.e.ReviseFields(src, FieldMap{"location": nil}))

	ent, _, err := h.e.Resolve(link)
	require.NoError(t, err)
	id, err := h.e.ID(ent)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, h.e.rev(src).depsSnapshot())
}

// Two id-less identifiers written in one revision yield exactly two
// members with distinct synthesized ids, no matter how many update
// passes the splice re-triggers.
func TestLinkAppendsIdlessElementsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	src, err := h.e.Checkout("log", "activity", "")
	require.NoError(t, err)
	link, err := h.e.Link(src, "asset", "asset")
	require.NoError(t, err)

	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"asset": []Identifier{{Type: "land"}, {Type: "land"}},
	}))

	_, colRef, err := h.e.Resolve(link)
	require.NoError(t, err)
	require.NotNil(t, colRef)
	members, err := h.e.Members(colRef)
	require.NoError(t, err)
	require.Len(t, members, 2)

	ids := map[string]bool{}
	for _, m := range members {
		id, merr := h.e.ID(m)
		require.NoError(t, merr)
		require.NotEmpty(t, id)
		ids[id] = true
	}
	assert.Len(t, ids, 2, "synthesized ids must be distinct")

	rel := RelOf(h.state(t, src)["asset"])
	require.Equal(t, RelMany, rel.Shape)
	require.Len(t, rel.List, 2)
	for _, idf := range rel.List {
		assert.True(t, ids[idf.ID], "spliced id must match a member")
	}

	// a second pass over the now-stable list adds nothing
	require.NoError(t, h.e.ReviseFields(src, FieldMap{"asset": rel.List}))
	members, err = h.e.Members(colRef)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	for _, m := range members {
		h.await(m)
	}
}

func TestLinkRemovesDroppedMembers(t *testing.T) {
	h := newHarness(t)
	src, err := h.e.Checkout("log", "activity", "")
	require.NoError(t, err)
	link, err := h.e.Link(src, "asset", "asset")
	require.NoError(t, err)

	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"asset": []Identifier{{Type: "land", ID: "x"}, {Type: "land", ID: "y"}},
	}))
	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"asset": []Identifier{{Type: "land", ID: "x"}},
	}))

	_, colRef, err := h.e.Resolve(link)
	require.NoError(t, err)
	members, err := h.e.Members(colRef)
	require.NoError(t, err)
	require.Len(t, members, 1)
	id, err := h.e.ID(members[0])
	require.NoError(t, err)
	assert.Equal(t, "x", id)
	assert.Len(t, h.e.rev(src).depsSnapshot(), 1)
	h.await(members[0])
}

func TestUnlinkStopsObservation(t *testing.T) {
	h := newHarness(t)
	src, err := h.e.Checkout("asset", "plant", "")
	require.NoError(t, err)
	link, err := h.e.Link(src, "location", "asset")
	require.NoError(t, err)
	require.NoError(t, h.e.Unlink(link))
	assert.ErrorIs(t, h.e.Unlink(link), ErrNotLinked)

	require.NoError(t, h.e.ReviseFields(src, FieldMap{
		"location": Identifier{Type: "land", ID: "loc-1"},
	}))
	_, _, err = h.e.Resolve(link)
	assert.ErrorIs(t, err, ErrNotLinked)
}
