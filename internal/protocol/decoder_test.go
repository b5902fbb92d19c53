package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	full := Encode(NewArray([]Frame{
		NewBulkString([]byte("SET")),
		NewBulkString([]byte("foo")),
		NewBulkString([]byte("bar")),
	}))

	var d Decoder
	split := len(full) / 2

	frames, err := d.Feed(full[:split])
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = d.Feed(full[split:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	args, err := frames[0].Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"SET", "foo", "bar"}, toStrings(args))
}

func TestDecoderRetainsTailAcrossMultipleFrames(t *testing.T) {
	f1 := EncodeCommand("PING")
	f2 := EncodeCommand("ECHO", "hey")

	var d Decoder
	frames, err := d.Feed(append(append([]byte{}, f1...), f2[:3]...))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	frames, err = d.Feed(f2[3:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	args, err := frames[0].Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"ECHO", "hey"}, toStrings(args))
}

func toStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}
