package scanrig

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferCapacity(t *testing.T) {
	var tests = []struct {
		blockSize int
		floor     int
	}{
		{100, DefaultBufferFloor},
		{1000, DefaultBufferFloor},
		{123456, DefaultBufferFloor},
		{100, 50},      // floor below 2·blockSize
		{999, 1000000}, // blockSize not a divisor of the floor
		{1, 1},
	}
	for _, test := range tests {
		capacity := bufferCapacity(test.blockSize, test.floor)
		if capacity%test.blockSize != 0 {
			t.Errorf("bufferCapacity(%d, %d) = %d, not a multiple of blockSize",
				test.blockSize, test.floor, capacity)
		}
		if capacity < 2*test.blockSize {
			t.Errorf("bufferCapacity(%d, %d) = %d, want at least %d",
				test.blockSize, test.floor, capacity, 2*test.blockSize)
		}
		if capacity < test.floor {
			t.Errorf("bufferCapacity(%d, %d) = %d, want at least the floor",
				test.blockSize, test.floor, capacity)
		}
		if capacity-test.blockSize >= test.floor && capacity >= 3*test.blockSize {
			t.Errorf("bufferCapacity(%d, %d) = %d is not the smallest valid multiple",
				test.blockSize, test.floor, capacity)
		}
	}
}

func newTestInputStreamer(t *testing.T) (*InputStreamer, *SimAnalogInput) {
	fabric, err := NewSyncFabric("/Dev2/PFI5", TriggerSpec{Source: "/Dev2/PFI0"})
	if err != nil {
		t.Fatal(err)
	}
	dev := &SimAnalogInput{SimTask: SimTask{Name: "AI Dev1"}}
	is, err := NewInputStreamer(dev, "Dev1", ClockPrimary, fabric,
		[]string{"Dev1/ai0"}, 1250000, 4000)
	if err != nil {
		t.Fatal(err)
	}
	return is, dev
}

func TestRegisterCallbackDelivery(t *testing.T) {
	is, dev := newTestInputStreamer(t)
	var blocks [][]RawType
	sub, err := is.RegisterCallback(func(block []RawType) {
		blocks = append(blocks, block)
	}, 1000)
	assert.NoError(t, err)
	assert.Equal(t, 4000, dev.Count, "circular buffer capacity")
	assert.Equal(t, ContinuousSamples, dev.Mode)

	dev.DeliverBlocks(3)
	assert.Equal(t, 3, len(blocks))
	for _, b := range blocks {
		assert.Equal(t, 1000, len(b))
	}
	// Ramp data: the second block continues where the first left off.
	assert.Equal(t, RawType(1000), blocks[1][0])

	sub.Cancel()
	dev.DeliverBlocks(2)
	assert.Equal(t, 3, len(blocks), "no delivery after Cancel")
	sub.Cancel() // cancelling twice is allowed
}

func TestRegisterCallbackReplacesPrevious(t *testing.T) {
	is, dev := newTestInputStreamer(t)
	countA := 0
	countB := 0
	_, err := is.RegisterCallback(func([]RawType) { countA++ }, 500)
	assert.NoError(t, err)
	dev.DeliverBlocks(1)

	_, err = is.RegisterCallback(func([]RawType) { countB++ }, 500)
	assert.NoError(t, err)
	dev.DeliverBlocks(2)

	assert.Equal(t, 1, countA, "first callback must never fire after re-registration")
	assert.Equal(t, 2, countB)
}

func TestCallbackPanicIsIsolated(t *testing.T) {
	is, dev := newTestInputStreamer(t)
	delivered := 0
	_, err := is.RegisterCallback(func([]RawType) {
		delivered++
		if delivered == 1 {
			panic("consumer bug in block 1")
		}
	}, 250)
	assert.NoError(t, err)

	dev.DeliverBlocks(3)
	assert.Equal(t, 3, delivered, "acquisition continues after a callback panic")

	var cbErr *CallbackError
	if !errors.As(is.LastCallbackError(), &cbErr) {
		t.Fatalf("LastCallbackError = %v, want a *CallbackError", is.LastCallbackError())
	}
	assert.Contains(t, cbErr.Error(), "consumer bug")
}

func TestRegisterCallbackRejectsBadArguments(t *testing.T) {
	is, _ := newTestInputStreamer(t)
	if _, err := is.RegisterCallback(func([]RawType) {}, 0); err == nil {
		t.Errorf("RegisterCallback with blockSize 0 should fail")
	}
	if _, err := is.RegisterCallback(nil, 100); err == nil {
		t.Errorf("RegisterCallback with nil callback should fail")
	}
}
