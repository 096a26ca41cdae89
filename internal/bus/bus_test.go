package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []int

	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(func(env *models.DownlinkEnvelope) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	b.Publish(&models.DownlinkEnvelope{})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, time.Millisecond)
}
