package audioio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// pcmTone returns n 16-bit samples at a constant absolute amplitude.
func pcmTone(amplitude int16, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

func TestLevelMeterFullScale(t *testing.T) {
	t.Parallel()

	format := DefaultFormat()
	meter, err := NewLevelMeter(format, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	// 100ms at 16kHz mono is 1600 samples. A constant near-full-scale
	// signal has RMS equal to its amplitude: about 0 dBFS.
	levels := meter.Feed(pcmTone(32767, 1600))
	if len(levels) != 1 {
		t.Fatalf("expected one window, got %d", len(levels))
	}
	if math.Abs(levels[0]) > 0.01 {
		t.Fatalf("expected ~0 dBFS for full scale, got %.3f", levels[0])
	}
}

func TestLevelMeterSilenceFloor(t *testing.T) {
	t.Parallel()

	meter, err := NewLevelMeter(DefaultFormat(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	levels := meter.Feed(pcmTone(0, 1600))
	if len(levels) != 1 {
		t.Fatalf("expected one window, got %d", len(levels))
	}
	if levels[0] != LevelFloor {
		t.Fatalf("expected floor %.0f for silence, got %.3f", LevelFloor, levels[0])
	}
}

func TestLevelMeterHalfScale(t *testing.T) {
	t.Parallel()

	meter, err := NewLevelMeter(DefaultFormat(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	// Half scale is 20*log10(0.5) = -6.02 dBFS.
	levels := meter.Feed(pcmTone(16384, 1600))
	if len(levels) != 1 {
		t.Fatalf("expected one window, got %d", len(levels))
	}
	if math.Abs(levels[0]-(-6.02)) > 0.01 {
		t.Fatalf("expected ~-6.02 dBFS for half scale, got %.3f", levels[0])
	}
}

func TestLevelMeterWindowingAcrossChunks(t *testing.T) {
	t.Parallel()

	meter, err := NewLevelMeter(DefaultFormat(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("new meter: %v", err)
	}

	// 4000 samples split into odd-sized chunks: two complete windows
	// (3200 samples), 800 samples left buffered.
	tone := pcmTone(16384, 4000)
	var levels []float64
	for len(tone) > 0 {
		cut := 333
		if cut > len(tone) {
			cut = len(tone)
		}
		levels = append(levels, meter.Feed(tone[:cut])...)
		tone = tone[cut:]
	}

	if len(levels) != 2 {
		t.Fatalf("expected 2 complete windows, got %d", len(levels))
	}

	if _, ok := meter.Flush(); !ok {
		t.Fatal("expected a trailing partial window")
	}
	if _, ok := meter.Flush(); ok {
		t.Fatal("second flush must be empty")
	}
}

func TestLevelMeterRejectsUnsupported(t *testing.T) {
	t.Parallel()

	if _, err := NewLevelMeter(Format{SampleRate: 16000, Channels: 1, BitDepth: 8}, time.Second); err == nil {
		t.Fatal("expected error for 8-bit PCM")
	}
	if _, err := NewLevelMeter(DefaultFormat(), 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}
