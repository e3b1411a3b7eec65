package synth

import (
	"context"
	"encoding/binary"
	"testing"
)

func TestStubGeneratorProducesValidWAV(t *testing.T) {
	generator := NewStubGenerator()

	audio, err := generator.Generate(context.Background(), "calm guitar", 30, "acoustic")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(audio) < 44 {
		t.Fatalf("payload too small for a WAV header: %d bytes", len(audio))
	}
	if string(audio[0:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}

	dataSize := binary.LittleEndian.Uint32(audio[40:44])
	if int(dataSize) != len(audio)-44 {
		t.Fatalf("data chunk size %d does not match payload %d", dataSize, len(audio)-44)
	}

	// 30s of 16-bit mono at the stub sample rate.
	want := 30 * generator.SampleRate * 2
	if int(dataSize) != want {
		t.Fatalf("data size = %d, want %d for 30s", dataSize, want)
	}
}
