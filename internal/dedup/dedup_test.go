package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_FirstCheckIsNew(t *testing.T) {
	f := New(4, time.Minute, 100)
	assert.Equal(t, New, f.CheckAndMark("key1"))
}

func TestFilter_SecondCheckIsDuplicate(t *testing.T) {
	f := New(4, time.Minute, 100)
	require.Equal(t, New, f.CheckAndMark("key1"))
	assert.Equal(t, Duplicate, f.CheckAndMark("key1"))
}

func TestFilter_DifferentKeysIndependent(t *testing.T) {
	f := New(4, time.Minute, 100)
	f.CheckAndMark("key1")
	assert.Equal(t, New, f.CheckAndMark("key2"))
}

func TestFilter_EmptyKeyNeverDuplicate(t *testing.T) {
	f := New(4, time.Minute, 100)
	assert.Equal(t, New, f.CheckAndMark(""))
	assert.Equal(t, New, f.CheckAndMark(""))
}

func TestFilter_TTLExpiry(t *testing.T) {
	f := New(1, 10*time.Millisecond, 100)
	require.Equal(t, New, f.CheckAndMark("key1"))
	require.Equal(t, Duplicate, f.CheckAndMark("key1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, New, f.CheckAndMark("key1"))
}

func TestFilter_SizeBoundEvictsOldest(t *testing.T) {
	f := New(1, time.Hour, 2)
	f.CheckAndMark("a")
	f.CheckAndMark("b")
	f.CheckAndMark("c") // evicts "a"
	assert.LessOrEqual(t, f.Size(), 2)
}

// TestFilter_ConcurrentSameKey verifies property 1 (dedup idempotence)
// holds when many goroutines check the same fingerprint concurrently.
func TestFilter_ConcurrentSameKey(t *testing.T) {
	f := New(8, time.Minute, 10000)
	var wg sync.WaitGroup
	results := make([]Result, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.CheckAndMark(Fingerprint("telegram", "b1", "r1", "m-unique"))
		}(i)
	}
	wg.Wait()
	newCount := 0
	for _, r := range results {
		if r == New {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount, "exactly one caller should observe New for the same fingerprint")
}

func TestFingerprint_EmptyExternalMessageIDYieldsEmptyKey(t *testing.T) {
	assert.Equal(t, "", Fingerprint("telegram", "b1", "r1", ""))
}

func TestPrune_RemovesExpired(t *testing.T) {
	f := New(2, 10*time.Millisecond, 100)
	f.CheckAndMark("a")
	time.Sleep(20 * time.Millisecond)
	f.Prune()
	assert.Equal(t, 0, f.Size())
}
