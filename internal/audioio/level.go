package audioio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// LevelFloor is the dBFS value reported for digital silence.
const LevelFloor = -96.0

// LevelMeter converts a PCM stream into per-window dBFS levels. Feed it
// arbitrary-sized chunks; every time a full window of samples accumulates it
// emits the window's RMS level in dBFS. Only 16-bit PCM is supported, the
// capture format of the voice path.
type LevelMeter struct {
	format         Format
	samplesPerWin  int
	window         time.Duration
	sumSquares     float64
	samplesInWin   int
	pendingByte    byte
	hasPendingByte bool
	levels         []float64
}

// NewLevelMeter meters RMS levels over fixed windows of the given duration.
func NewLevelMeter(format Format, window time.Duration) (*LevelMeter, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("audioio: level meter supports 16-bit PCM, got %d-bit", format.BitDepth)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("audioio: invalid format %+v", format)
	}
	if window <= 0 {
		return nil, fmt.Errorf("audioio: window must be positive, got %s", window)
	}

	samples := int(float64(format.SampleRate*format.Channels) * window.Seconds())
	if samples < 1 {
		samples = 1
	}
	return &LevelMeter{
		format:        format,
		samplesPerWin: samples,
		window:        window,
	}, nil
}

// Window returns the metering window duration.
func (m *LevelMeter) Window() time.Duration { return m.window }

// Feed consumes one PCM chunk and returns the dBFS level of every window
// completed by it, oldest first.
func (m *LevelMeter) Feed(chunk []byte) []float64 {
	m.levels = m.levels[:0]

	i := 0
	if m.hasPendingByte && len(chunk) > 0 {
		m.consumeSample(int16(binary.LittleEndian.Uint16([]byte{m.pendingByte, chunk[0]})))
		m.hasPendingByte = false
		i = 1
	}
	for ; i+1 < len(chunk); i += 2 {
		m.consumeSample(int16(binary.LittleEndian.Uint16(chunk[i : i+2])))
	}
	if i < len(chunk) {
		m.pendingByte = chunk[i]
		m.hasPendingByte = true
	}

	return m.levels
}

// Flush emits the level of a trailing partial window, if any samples are
// buffered, and resets the meter.
func (m *LevelMeter) Flush() (float64, bool) {
	if m.samplesInWin == 0 {
		m.hasPendingByte = false
		return 0, false
	}
	level := rmsToDBFS(m.sumSquares, m.samplesInWin)
	m.sumSquares = 0
	m.samplesInWin = 0
	m.hasPendingByte = false
	return level, true
}

func (m *LevelMeter) consumeSample(s int16) {
	norm := float64(s) / 32768.0
	m.sumSquares += norm * norm
	m.samplesInWin++

	if m.samplesInWin >= m.samplesPerWin {
		m.levels = append(m.levels, rmsToDBFS(m.sumSquares, m.samplesInWin))
		m.sumSquares = 0
		m.samplesInWin = 0
	}
}

// rmsToDBFS converts a sum of squared normalized samples into dBFS,
// clamped at the silence floor.
func rmsToDBFS(sumSquares float64, n int) float64 {
	if n == 0 {
		return LevelFloor
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms <= 0 {
		return LevelFloor
	}
	db := 20 * math.Log10(rms)
	if db < LevelFloor {
		return LevelFloor
	}
	return db
}
