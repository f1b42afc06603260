package train

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutorRejectsBeforeOpen(t *testing.T) {
	e := NewExecutor()

	accepted := e.Submit("job-1", func() {})
	assert.False(t, accepted)

	e.Open()
	var ran atomic.Bool
	accepted = e.Submit("job-2", func() { ran.Store(true) })
	assert.True(t, accepted)

	e.Wait()
	assert.True(t, ran.Load())
}

func TestExecutorRecoversFromPanic(t *testing.T) {
	e := NewExecutor()
	e.Open()

	e.Submit("panicky", func() { panic("boom") })

	var ran atomic.Bool
	e.Submit("follow-up", func() { ran.Store(true) })

	// panic이 프로세스를 죽이거나 후속 작업을 막지 않는다
	e.Wait()
	assert.True(t, ran.Load())
}

func TestExecutorWaitCoversConcurrentJobs(t *testing.T) {
	e := NewExecutor()
	e.Open()

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		e.Submit("job", func() { count.Add(1) })
	}

	e.Wait()
	assert.Equal(t, int32(10), count.Load())
}
