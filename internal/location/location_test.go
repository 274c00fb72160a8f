package location

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent(t *testing.T) {
	var calls atomic.Int32
	c := NewCollector(ProviderFunc(func(ctx context.Context) (Data, error) {
		calls.Add(1)
		return Data{Latitude: 56.95, Longitude: 24.1}, nil
	}), 10*time.Millisecond)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := Current(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Data{Latitude: 56.95, Longitude: 24.1}, d)
	assert.Equal(t, 0, c.Listeners())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestCurrentNoFix(t *testing.T) {
	c := NewCollector(ProviderFunc(func(ctx context.Context) (Data, error) {
		<-ctx.Done()
		return Data{}, ctx.Err()
	}), time.Second)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Current(ctx, c)
	assert.ErrorIs(t, err, ErrNoFix)
}
