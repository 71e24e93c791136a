package tokenstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSealAndValidateRoundTrip(t *testing.T) {
	store, err := New([]byte("test-secret"), 10*time.Second, 2*time.Second)
	require.NoError(t, err)

	now := time.Now()
	token, err := store.SealAddressToken("203.0.113.1:4433", now)
	require.NoError(t, err)

	got, err := store.Validate(token, "203.0.113.1:4433", now.Add(time.Second))
	require.NoError(t, err)
	require.False(t, got.IsRetry)
}

func TestValidateRejectsExpired(t *testing.T) {
	store, err := New([]byte("test-secret"), time.Second, 0)
	require.NoError(t, err)

	now := time.Now()
	token, err := store.SealAddressToken("203.0.113.1:4433", now)
	require.NoError(t, err)

	_, err = store.Validate(token, "203.0.113.1:4433", now.Add(5*time.Second))
	require.Error(t, err)
}

func TestValidateDedupesConcurrentCallers(t *testing.T) {
	store, err := New([]byte("test-secret"), 10*time.Second, 2*time.Second)
	require.NoError(t, err)

	now := time.Now()
	token, err := store.SealAddressToken("203.0.113.1:4433", now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.Validate(token, "203.0.113.1:4433", now.Add(time.Second))
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		require.NoError(t, err)
	}
}
