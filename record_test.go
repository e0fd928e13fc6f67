package expgram

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	rec := Record{
		Context: []WordID{1, 2, 3},
		Floats:  []Weight{-1.5, LogProbMin, 0},
		Counts:  []uint64{7, 0},
	}
	line := EncodeRecord(rec)
	got, err := DecodeRecord(line)
	require.NoError(t, err)
	assert.Equal(t, rec.Context, got.Context)
	assert.Equal(t, rec.Counts, got.Counts)
	require.Len(t, got.Floats, len(rec.Floats))
	for i := range rec.Floats {
		assert.Equal(t, rec.Floats[i], got.Floats[i])
	}
}

func TestDecodeRecordMalformed(t *testing.T) {
	_, err := DecodeRecord("not-a-number 1 2 3")
	assert.Error(t, err)

	_, err = DecodeRecord("2 1")
	assert.Error(t, err, "truncated context list")
}

func TestRecordWriterReaderStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	recs := []Record{
		{Context: []WordID{10}, Floats: []Weight{-1}},
		{Context: []WordID{10, 20}, Counts: []uint64{3}},
	}
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())

	r := NewRecordReader(&buf)
	var got []Record
	for {
		rec, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec)
	}
	require.Len(t, got, len(recs))
	for i := range recs {
		assert.Equal(t, recs[i].Context, got[i].Context)
	}
}
