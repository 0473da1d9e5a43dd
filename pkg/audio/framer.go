package audio

// Framer re-chunks an arbitrary PCM byte stream into fixed-size frames.
// Synthesis providers deliver audio in whatever chunk sizes their API
// happens to stream; the wire protocol wants exact codec frames.
type Framer struct {
	frameSize int
	buf       []byte
}

// NewFramer returns a framer emitting frames of frameSize bytes.
func NewFramer(frameSize int) *Framer {
	return &Framer{frameSize: frameSize}
}

// Push appends data and returns every complete frame now available. The
// returned slices are independent copies.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var frames [][]byte
	for len(f.buf) >= f.frameSize {
		frame := make([]byte, f.frameSize)
		copy(frame, f.buf[:f.frameSize])
		frames = append(frames, frame)
		f.buf = f.buf[f.frameSize:]
	}
	if len(frames) > 0 && len(f.buf) == 0 {
		f.buf = nil
	}
	return frames
}

// Flush returns any trailing partial data zero-padded to a full frame, or
// nil when the buffer is empty. Resets the framer.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	frame := make([]byte, f.frameSize)
	copy(frame, f.buf)
	f.buf = nil
	return frame
}

// Pending reports how many buffered bytes are waiting for a full frame.
func (f *Framer) Pending() int {
	return len(f.buf)
}
