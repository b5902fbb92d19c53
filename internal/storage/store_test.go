package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGet(t *testing.T) {
	s := NewStore()
	s.Set("foo", []byte("bar"), 0)

	v, ok := s.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", string(v))
}

func TestGetMissingKey(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestSetWithExpiryObservedAfterTTL(t *testing.T) {
	s := NewStore()
	s.Set("foo", []byte("bar"), 50)

	_, ok := s.Get("foo")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	_, ok = s.Get("foo")
	assert.False(t, ok)
}

func TestSetReplacesExistingEntry(t *testing.T) {
	s := NewStore()
	s.Set("foo", []byte("first"), 0)
	s.Set("foo", []byte("second"), 0)

	v, ok := s.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "second", string(v))
}

func TestExistsDistinguishesExpired(t *testing.T) {
	s := NewStore()
	s.Set("foo", []byte("bar"), 10)
	assert.True(t, s.Exists("foo"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, s.Exists("foo"))
	assert.False(t, s.Exists("never-set"))
}
