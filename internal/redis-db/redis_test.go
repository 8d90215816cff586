package redis_db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestParseRedisURLDockerStyle(t *testing.T) {
	opts, err := ParseRedisURL("redis:6379")
	assert.NoError(t, err)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Empty(t, opts.Password)
}

func TestParseRedisURLWithScheme(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@cache.internal:6380/2")
	assert.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	r, err := NewRedisClient([]string{mr.Addr()})
	assert.NoError(t, err)
	assert.NotNil(t, r.Client())
	assert.NotNil(t, r.MakeRedisClient())
}

func TestNewRedisClientEmpty(t *testing.T) {
	_, err := NewRedisClient(nil)
	assert.EqualError(t, err, "redis addresses list cannot be empty")
}
