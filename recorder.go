package scanrig

import (
	"os"
	"sync"

	"github.com/sbinet/npyio"
)

// BlockRecorder accumulates raw acquisition blocks and writes them to a
// NumPy .npy file as one flat uint16 array. Appends happen on the driver's
// dispatch context; Flush happens on the control thread at Stop.
type BlockRecorder struct {
	mu       sync.Mutex
	filename string
	samples  []uint16
}

// NewBlockRecorder creates a recorder targeting the given .npy file.
func NewBlockRecorder(filename string) *BlockRecorder {
	return &BlockRecorder{filename: filename}
}

// Append copies one raw block into the recorder.
func (br *BlockRecorder) Append(block []RawType) {
	br.mu.Lock()
	for _, v := range block {
		br.samples = append(br.samples, uint16(v))
	}
	br.mu.Unlock()
}

// NumSamples returns how many samples have been recorded so far.
func (br *BlockRecorder) NumSamples() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.samples)
}

// Flush writes everything recorded so far to the .npy file. Writing
// nothing (no blocks arrived) still produces a valid empty array.
func (br *BlockRecorder) Flush() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	f, err := os.Create(br.filename)
	if err != nil {
		return hwError("create record file "+br.filename, err)
	}
	defer f.Close()
	if err := npyio.Write(f, br.samples); err != nil {
		return hwError("write record file "+br.filename, err)
	}
	return nil
}
