package scanrig

import "sync"

// DefaultBufferFloor is the minimum circular-buffer size in samples, before
// rounding up to a whole number of callback blocks.
const DefaultBufferFloor = 1000000

// bufferCapacity returns the circular buffer size for a given callback
// block size: the smallest multiple of blockSize that is at least twice
// blockSize and at least floor. The driver only guarantees correct
// wraparound at block boundaries, so the capacity must divide evenly.
func bufferCapacity(blockSize, floor int) int {
	want := 2 * blockSize
	if floor > want {
		want = floor
	}
	nblocks := (want + blockSize - 1) / blockSize
	return nblocks * blockSize
}

// Subscription is the cancellable handle returned by RegisterCallback.
// Cancel is synchronous: once it returns, the callback will not run again.
type Subscription struct {
	mu        sync.Mutex
	cancelled bool
	unhook    func() // unregisters the driver notification
}

// Cancel stops callback dispatch. Safe to call more than once.
func (sub *Subscription) Cancel() {
	sub.mu.Lock()
	already := sub.cancelled
	sub.cancelled = true
	sub.mu.Unlock()
	if !already && sub.unhook != nil {
		sub.unhook()
	}
}

func (sub *Subscription) isCancelled() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.cancelled
}

// InputStreamer owns the continuous acquisition stream of the analog input
// card. It delivers raw sample blocks to one registered callback at a time.
//
// The callback runs on whatever context the driver's event mechanism uses
// and must return within blockSize/rate seconds in steady state; the
// driver's circular buffer is the only queue, so a slow consumer is
// overwritten and the hardware reports an overrun. That bound is the
// system's one real-time deadline.
type InputStreamer struct {
	dev    AnalogInputDevice
	device string
	role   ClockRole
	fabric *SyncFabric
	rate   float64
	floor  int

	active *Subscription

	errMu           sync.Mutex
	lastCallbackErr error
}

// NewInputStreamer binds the input card to the fabric and configures its
// channels. Timing is configured later, when the block size is known.
func NewInputStreamer(dev AnalogInputDevice, device string, role ClockRole,
	fabric *SyncFabric, channels []string, rate float64, floor int) (*InputStreamer, error) {
	if len(channels) == 0 {
		return nil, configErrorf("input group %s has no channels", device)
	}
	if rate <= 0 {
		return nil, configErrorf("input group %s: sample rate %v must be positive", device, rate)
	}
	if floor <= 0 {
		floor = DefaultBufferFloor
	}
	if err := dev.ConfigureChannels(channels); err != nil {
		return nil, hwError("configure AI channels on "+device, err)
	}
	return &InputStreamer{dev: dev, device: device, role: role, fabric: fabric,
		rate: rate, floor: floor}, nil
}

// ConfigureTiming sets continuous-mode timing with the circular buffer
// sized for the given block size.
func (is *InputStreamer) ConfigureTiming(blockSize int) error {
	source, err := is.fabric.ClockSource(is.role)
	if err != nil {
		return err
	}
	capacity := bufferCapacity(blockSize, is.floor)
	if err := is.dev.ConfigureTiming(source, is.rate, ContinuousSamples, capacity); err != nil {
		return hwError("configure AI timing on "+is.device, err)
	}
	if is.role == ClockPrimary {
		if err := is.dev.ExportSignal(SampleClockSignal, is.fabric.ClockExportLine()); err != nil {
			return hwError("export sample clock from "+is.device, err)
		}
		is.fabric.markExportActive()
	}
	return nil
}

// RegisterCallback arranges for fn to receive one raw block of blockSize
// samples each time that many new samples arrive. Only one callback may be
// registered at a time: registering a new one first cancels the previous
// subscription, so the old fn can never fire again.
func (is *InputStreamer) RegisterCallback(fn func([]RawType), blockSize int) (*Subscription, error) {
	if blockSize < 1 {
		return nil, configErrorf("blockSize %d must be at least 1", blockSize)
	}
	if fn == nil {
		return nil, configErrorf("RegisterCallback requires a non-nil callback")
	}
	is.CancelActive()
	if err := is.ConfigureTiming(blockSize); err != nil {
		return nil, err
	}
	sub := &Subscription{}
	unhook, err := is.dev.NotifyEveryN(blockSize, func() {
		is.dispatch(sub, fn, blockSize)
	})
	if err != nil {
		return nil, hwError("register AI block notification on "+is.device, err)
	}
	sub.unhook = unhook
	is.active = sub
	return sub, nil
}

// CancelActive cancels the current subscription, if any.
func (is *InputStreamer) CancelActive() {
	if is.active != nil {
		is.active.Cancel()
		is.active = nil
	}
}

// dispatch runs on the driver's event context, once per block.
func (is *InputStreamer) dispatch(sub *Subscription, fn func([]RawType), blockSize int) {
	if sub.isCancelled() {
		return
	}
	block, err := is.dev.ReadRaw(blockSize)
	if err != nil {
		ProblemLogger.Printf("AI block read failed on %s: %v", is.device, err)
		is.setCallbackErr(hwError("read AI block on "+is.device, err))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cbErr := &CallbackError{Value: r}
			ProblemLogger.Printf("%v; acquisition continues", cbErr)
			is.setCallbackErr(cbErr)
		}
	}()
	fn(block)
}

func (is *InputStreamer) setCallbackErr(err error) {
	is.errMu.Lock()
	is.lastCallbackErr = err
	is.errMu.Unlock()
}

// LastCallbackError returns the most recent per-block dispatch error, or
// nil. A non-nil value does not mean acquisition stopped.
func (is *InputStreamer) LastCallbackError() error {
	is.errMu.Lock()
	defer is.errMu.Unlock()
	return is.lastCallbackErr
}
