// Command voz-pre is the audio preprocessor (spec §6): a single thread, no
// locking, reads PCM chunks from stdin, runs the configured DSP stages in
// place, optionally prefixes each chunk with a packed VAD byte, and writes
// the result to stdout.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/hammamikhairi/voz/internal/capture"
	"github.com/hammamikhairi/voz/internal/dsp"
)

const version = "voz-pre 0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	audioMode := pflag.String("audio", "raw", "input format: raw|wav")
	outputMode := pflag.String("output", "raw", "output format: raw|wav")
	preamp := pflag.Float32("preamp", 1.0, "linear pre-amplification applied before DSP")
	noiser := pflag.Uint8("noiser", 0, "RNNoise suppression level, 0-4")
	autogain := pflag.Uint8("autogain", 0, "automatic gain control level, 0-31")
	vad := pflag.Bool("vad", false, "prefix each output chunk with a packed VAD byte")
	timming := pflag.Int("timming", 80, "chunk duration in ms, a multiple of 10 up to 80")
	help := pflag.BoolP("help", "h", false, "show usage and exit")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: voz-pre [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}
	if *showVersion {
		fmt.Println(version)
		return 0
	}
	if *audioMode != "raw" && *audioMode != "wav" {
		fmt.Fprintf(os.Stderr, "voz-pre: --audio must be raw or wav\n")
		return 1
	}
	if *outputMode != "raw" && *outputMode != "wav" {
		fmt.Fprintf(os.Stderr, "voz-pre: --output must be raw or wav\n")
		return 1
	}
	if *timming <= 0 || *timming%10 != 0 || *timming/10 > dsp.MaxSubChunksPerChunk {
		fmt.Fprintf(os.Stderr, "voz-pre: --timming must be a multiple of 10 in [10,%d]\n", dsp.MaxSubChunksPerChunk*10)
		return 1
	}
	chunkSamples := (*timming / 10) * dsp.SubChunkSamples

	dspCfg := dsp.Config{NoiseLevel: int(*noiser), AutoGain: int(*autogain), Preamp: *preamp, VAD: *vad}
	var proc *dsp.Processor
	if dsp.Needed(dspCfg) {
		proc = dsp.New(dspCfg)
		defer proc.Destroy()
	}

	var in io.Reader = os.Stdin
	if *audioMode == "wav" {
		valid, hdr, err := capture.SniffWAV(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voz-pre: reading wav header: %v\n", err)
			return 1
		}
		if !valid {
			in = io.MultiReader(bytesReader(hdr), os.Stdin)
		}
	}

	out := os.Stdout
	if *outputMode == "wav" {
		if _, err := out.Write(wavHeader(chunkSamples)); err != nil {
			fmt.Fprintf(os.Stderr, "voz-pre: writing wav header: %v\n", err)
			return 1
		}
	}

	chunk := make([]byte, chunkSamples*2)
	samples := make([]int16, chunkSamples)
	for {
		if _, err := io.ReadFull(in, chunk); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return 0
			}
			fmt.Fprintf(os.Stderr, "voz-pre: read: %v\n", err)
			return 1
		}

		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2]))
		}

		var vadByte byte
		if proc != nil {
			vadByte = proc.ProcessChunk(samples)
		}

		for i, s := range samples {
			binary.LittleEndian.PutUint16(chunk[i*2:i*2+2], uint16(s))
		}

		if *vad {
			if _, err := out.Write([]byte{vadByte}); err != nil {
				fmt.Fprintf(os.Stderr, "voz-pre: write: %v\n", err)
				return 1
			}
		}
		if _, err := out.Write(chunk); err != nil {
			fmt.Fprintf(os.Stderr, "voz-pre: write: %v\n", err)
			return 1
		}
	}
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	off int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.off >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.off:])
	s.off += n
	return n, nil
}

// wavHeader builds a minimal 44-byte canonical header for 16 kHz mono 16-bit
// PCM output, leaving the size fields zeroed (stdout is a stream, not a
// seekable file, so a correct final size can't be back-patched).
func wavHeader(chunkSamples int) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], 1) // mono
	binary.LittleEndian.PutUint32(h[24:28], 16000)
	binary.LittleEndian.PutUint32(h[28:32], 16000*2)
	binary.LittleEndian.PutUint16(h[32:34], 2)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	return h
}
