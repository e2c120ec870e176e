package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_SetNotifiesSubscribers(t *testing.T) {
	v := NewValue("idle")
	ch, cancel := v.Subscribe()
	defer cancel()

	assert.True(t, v.Set("searching"))
	require.Len(t, ch, 1)
	assert.Equal(t, "searching", <-ch)
	assert.Equal(t, "searching", v.Get())
}

func TestValue_SetSameValueIsNoop(t *testing.T) {
	v := NewValue(3)
	ch, cancel := v.Subscribe()
	defer cancel()

	assert.False(t, v.Set(3))
	assert.Len(t, ch, 0)
}

func TestValue_SlowSubscriberSeesLatest(t *testing.T) {
	v := NewValue(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		v.Set(i)
	}
	assert.Equal(t, 5, <-ch)
	assert.Len(t, ch, 0)
}

func TestValue_CancelClosesChannel(t *testing.T) {
	v := NewValue(false)
	ch, cancel := v.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, v.Set(true))
}
