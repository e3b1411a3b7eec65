package synth

import (
	"context"
	"encoding/binary"
)

// StubGenerator produces a silent but structurally valid WAV payload of
// the requested duration. Used for local runs and tests, where no
// inference endpoint is deployed.
type StubGenerator struct {
	SampleRate int
}

func NewStubGenerator() *StubGenerator {
	return &StubGenerator{SampleRate: 8000}
}

func (g *StubGenerator) Available() bool { return true }

func (g *StubGenerator) Generate(_ context.Context, _ string, duration int, _ string) ([]byte, error) {
	sampleRate := g.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if duration <= 0 {
		duration = 1
	}

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := duration * sampleRate * numChannels * bitsPerSample / 8

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*numChannels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], numChannels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	return buf, nil
}
