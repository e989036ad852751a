package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotsEqualIgnoresKeyOrderAndNumberForm(t *testing.T) {
	a := []byte(`{"provider_id":"p-1","counts":{"waiting":2},"average_service_minutes":15}`)
	b := []byte(`{"average_service_minutes":15.0,"counts":{"waiting":2},"provider_id":"p-1"}`)
	assert.True(t, snapshotsEqual(a, b))
	assert.False(t, snapshotsEqual(a, []byte(`{"provider_id":"p-2"}`)))
	assert.False(t, snapshotsEqual(a, []byte(`not json`)))
}

func TestCompareStreamsSkipsInitialFrame(t *testing.T) {
	a := &stream{Base: "a", Frames: [][]byte{[]byte(`{"n":0}`), []byte(`{"n":1}`), []byte(`{"n":2}`)}}
	b := &stream{Base: "b", Frames: [][]byte{[]byte(`{"n":99}`), []byte(`{"n":1}`)}}

	results := compareStreams(a, b)
	require.Len(t, results, 2)
	assert.True(t, results[0].Match)
	assert.False(t, results[1].Match)
	assert.Equal(t, "b", results[1].Missing)
}

func TestStreamURLAddsToken(t *testing.T) {
	got, err := streamURL("ws://host:8080/api/v1/", "queues/providers/p-1/ws", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://host:8080/api/v1/queues/providers/p-1/ws?access_token=tok", got)

	got, err = streamURL("ws://host/api/v1", "/queues/locations/l-1/ws", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://host/api/v1/queues/locations/l-1/ws", got)
}
