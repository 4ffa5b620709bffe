package completion

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	fired []int
}

func (r *recorder) fn(n int) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.fired = append(r.fired, n)
	}
}

func (r *recorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.fired...)
}

func TestDebouncerLeadingAndTrailing(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()
	r := &recorder{}

	d.Trigger(r.fn(1))
	assert.Equal(t, []int{1}, r.get(), "first event fires immediately")

	d.Trigger(r.fn(2))
	d.Trigger(r.fn(3))
	d.Trigger(r.fn(4))
	assert.Equal(t, []int{1}, r.get())

	require.Eventually(t, func() bool { return len(r.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 4}, r.get(), "only the latest event of the burst fires")

	// the window has closed, so the next event is leading again
	d.Trigger(r.fn(5))
	assert.Equal(t, []int{1, 4, 5}, r.get())
}

func TestDebouncerSingleEventFiresOnce(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()
	r := &recorder{}

	d.Trigger(r.fn(1))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []int{1}, r.get())
}

func TestDebouncerQuietWindowExtends(t *testing.T) {
	d := NewDebouncer(150 * time.Millisecond)
	defer d.Stop()
	r := &recorder{}

	d.Trigger(r.fn(1))
	for i := 2; i <= 4; i++ {
		time.Sleep(30 * time.Millisecond)
		d.Trigger(r.fn(i))
	}
	// 90ms after the leading event, with no quiet window yet
	assert.Equal(t, []int{1}, r.get())

	require.Eventually(t, func() bool { return len(r.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 4}, r.get())
}

func TestDebouncerZeroDelayFiresEverything(t *testing.T) {
	d := NewDebouncer(0)
	r := &recorder{}
	for i := 1; i <= 3; i++ {
		d.Trigger(r.fn(i))
	}
	assert.Equal(t, []int{1, 2, 3}, r.get())
}

func TestDebouncerStopDropsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	r := &recorder{}

	d.Trigger(r.fn(1))
	d.Trigger(r.fn(2))
	d.Stop()
	d.Trigger(r.fn(3))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []int{1}, r.get())
}
