package configstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGlobal_RejectsNonPositive(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.SetGlobal(0, 5), ErrInvalidConfig)
	require.ErrorIs(t, s.SetGlobal(5, 0), ErrInvalidConfig)
	require.ErrorIs(t, s.SetGlobal(-1, 5), ErrInvalidConfig)

	require.NoError(t, s.SetGlobal(10, 5))
	g, ok := s.Global()
	require.True(t, ok)
	assert.Equal(t, GlobalConfig{MaxGlobalConcurrent: 10, MaxTenantQueueSize: 5}, g)
}

func TestGlobal_UnsetReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Global()
	assert.False(t, ok)
}

// S3: Client override shadows action limit and fallback.
func TestResolve_Precedence(t *testing.T) {
	s := New()
	require.NoError(t, s.SetActionLimit("T", "A", Quota{MaxRequests: 5, Window: 60 * time.Second}))
	require.NoError(t, s.SetClientLimit("T", "C", "A", Quota{MaxRequests: 1, Window: 60 * time.Second}))

	fallback := Quota{MaxRequests: 999, Window: time.Second}

	q, err := s.Resolve("T", "C", "A", &fallback)
	require.NoError(t, err)
	assert.Equal(t, Quota{MaxRequests: 1, Window: 60 * time.Second}, q, "client override must win")

	q, err = s.Resolve("T", "other-client", "A", &fallback)
	require.NoError(t, err)
	assert.Equal(t, Quota{MaxRequests: 5, Window: 60 * time.Second}, q, "action limit must win over fallback")

	q, err = s.Resolve("T", "other-client", "other-action", &fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, q, "fallback must win when nothing else matches")

	_, err = s.Resolve("T", "other-client", "other-action", nil)
	assert.ErrorIs(t, err, ErrNoQuota)
}

func TestSetActionLimit_RejectsInvalidQuota(t *testing.T) {
	s := New()
	err := s.SetActionLimit("T", "A", Quota{MaxRequests: 0, Window: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = s.SetActionLimit("T", "A", Quota{MaxRequests: 1, Window: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRemoveActionLimit_FallsBackToNextPrecedence(t *testing.T) {
	s := New()
	fallback := Quota{MaxRequests: 2, Window: time.Second}
	require.NoError(t, s.SetActionLimit("T", "A", Quota{MaxRequests: 5, Window: time.Minute}))

	s.RemoveActionLimit("T", "A")

	q, err := s.Resolve("T", "C", "A", &fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, q)
}

func TestSnapshot_ReturnsIndependentCopies(t *testing.T) {
	s := New()
	require.NoError(t, s.SetGlobal(1, 1))
	require.NoError(t, s.SetActionLimit("T", "A", Quota{MaxRequests: 5, Window: time.Minute}))

	snap := s.Snapshot()
	snap.ActionLimits[ActionKey{TenantID: "T", ActionType: "A"}] = Quota{MaxRequests: 999, Window: time.Second}

	fresh := s.Snapshot()
	assert.Equal(t, 5, fresh.ActionLimits[ActionKey{TenantID: "T", ActionType: "A"}].MaxRequests, "mutating a snapshot must not affect the store")
}

func TestStore_ConcurrentReadWrite(t *testing.T) {
	s := New()
	require.NoError(t, s.SetGlobal(10, 10))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SetActionLimit("T", "A", Quota{MaxRequests: i + 1, Window: time.Minute})
			_, _ = s.Resolve("T", "C", "A", nil)
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()
}
