package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTakeRoundTrip(t *testing.T) {
	body := []byte("hello world")
	rec := Record('S', body)

	got, rest := Take('S', rec)
	assert.Equal(t, body, got)
	assert.Empty(t, rest)

	// the wrong type leaves the data untouched
	got, rest = Take('Q', rec)
	assert.Nil(t, got)
	assert.Equal(t, rec, rest)
}

func TestRecordNestsBodies(t *testing.T) {
	rec := Record('S',
		Record('K', []byte("asset")),
		Record('J', []byte(`{"id":"a1"}`)),
	)
	body, rest := Take('S', rec)
	require.NotNil(t, body)
	assert.Empty(t, rest)

	kind, rest := Take('K', body)
	assert.Equal(t, "asset", string(kind))
	payload, rest := Take('J', rest)
	assert.Equal(t, `{"id":"a1"}`, string(payload))
	assert.Empty(t, rest)
}

func TestTinyShortLongForms(t *testing.T) {
	// lowercase type and a small body: 1-byte header, type erased
	tiny := Record('s', []byte("12345"))
	assert.Len(t, tiny, 6)
	lit, hdrlen, bodylen := ProbeHeader(tiny)
	assert.Equal(t, byte('0'), lit)
	assert.Equal(t, 1, hdrlen)
	assert.Equal(t, 5, bodylen)

	short := Record('S', []byte("12345"))
	lit, hdrlen, bodylen = ProbeHeader(short)
	assert.Equal(t, byte('S'), lit)
	assert.Equal(t, 2, hdrlen)
	assert.Equal(t, 5, bodylen)

	long := Record('S', bytes.Repeat([]byte{'x'}, 300))
	lit, hdrlen, bodylen = ProbeHeader(long)
	assert.Equal(t, byte('S'), lit)
	assert.Equal(t, 5, hdrlen)
	assert.Equal(t, 300, bodylen)

	body, rest := Take('S', long)
	assert.Len(t, body, 300)
	assert.Empty(t, rest)
}

func TestTakeAny(t *testing.T) {
	data := Concat(Record('K', []byte("asset")), Record('J', []byte("{}")))
	lit, body, rest := TakeAny(data)
	assert.Equal(t, byte('K'), lit)
	assert.Equal(t, "asset", string(body))
	lit, body, rest = TakeAny(rest)
	assert.Equal(t, byte('J'), lit)
	assert.Equal(t, "{}", string(body))
	assert.Empty(t, rest)
}

func TestSplitLeavesPartialRecord(t *testing.T) {
	first := Record('S', []byte("complete"))
	second := Record('S', bytes.Repeat([]byte{'y'}, 100))

	var buf bytes.Buffer
	buf.Write(first)
	buf.Write(second[:10]) // torn mid-record

	recs, err := Split(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, first, []byte(recs[0]))

	buf.Write(second[10:])
	recs, err = Split(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, second, []byte(recs[0]))
	assert.Zero(t, buf.Len())
}

func TestSplitIncompleteAndGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Record('S', []byte("dangling"))[:3])
	recs, err := Split(&buf)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, recs)

	buf.Reset()
	buf.Write([]byte{0xff, 0xff})
	_, err = Split(&buf)
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestRecordsTotalLen(t *testing.T) {
	recs := Records{Record('S', []byte("abc")), Record('S', []byte("defg"))}
	assert.Equal(t, int64(len(recs[0])+len(recs[1])), recs.TotalLen())
}
