package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_Unique(t *testing.T) {
	sf, err := NewSnowflake(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, sf.Generate())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestNewSnowflake_InvalidWorker(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)
	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestGenerateNo(t *testing.T) {
	no := GenerateNo(PrefixDeposit)
	assert.True(t, strings.HasPrefix(no, "DEP"))
	assert.Len(t, no, 3+14+8)

	assert.Equal(t, PrefixWithdrawal, PaymentNoPrefix("withdrawal"))
	assert.Equal(t, PrefixCommission, PaymentNoPrefix("commission"))
	assert.Equal(t, PrefixRefund, PaymentNoPrefix("refund"))
}
