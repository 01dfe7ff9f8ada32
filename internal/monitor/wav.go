package monitor

import (
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
)

// Capture format
const (
	captureBitDepth = 16
	captureChannels = 1
	maxInt16        = 32767
	// minCaptureFreeBytes is the free space a capture directory needs
	minCaptureFreeBytes = 100 * 1024 * 1024
)

// WAVRecorder writes meter blocks to a 16-bit mono WAV file
type WAVRecorder struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	frames int64
}

// NewWAVRecorder creates path, and its directory when missing. The
// directory must have enough free space.
func NewWAVRecorder(path string, sampleRate int) (*WAVRecorder, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fileError(err, "mkdir", dir)
	}
	if err := checkFreeSpace(dir, minCaptureFreeBytes); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fileError(err, "create", path)
	}
	return &WAVRecorder{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, captureBitDepth, captureChannels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: sampleRate, NumChannels: captureChannels},
			SourceBitDepth: captureBitDepth,
		},
	}, nil
}

// Path returns the file being written
func (w *WAVRecorder) Path() string { return w.path }

// Frames returns the number of frames written
func (w *WAVRecorder) Frames() int64 { return w.frames }

// Write appends samples, clipped to [-1, 1]
func (w *WAVRecorder) Write(samples []float32) error {
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, v := range samples {
		v = max(-1, min(1, v))
		w.buf.Data[i] = int(v * maxInt16)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fileError(err, "write", w.path)
	}
	w.frames += int64(len(samples))
	return nil
}

// Close finalizes the WAV header and closes the file
func (w *WAVRecorder) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fileError(err, "close", w.path)
	}
	return nil
}

// checkFreeSpace fails when dir's filesystem has less than need bytes free
func checkFreeSpace(dir string, need uint64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		// not every filesystem reports usage
		log.Debug("disk usage unavailable", logger.String("path", dir), logger.Error(err))
		return nil
	}
	if usage.Free < need {
		return errors.New(ErrInsufficientSpace).
			Component(componentMonitor).
			Category(errors.CategorySystem).
			Context("path", dir).
			Context("free_bytes", usage.Free).
			Context("required_bytes", need).
			Build()
	}
	return nil
}
