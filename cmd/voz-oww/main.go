// Command voz-oww is the streaming wake-word detector (spec §6). It reads
// 16-bit mono PCM from stdin (raw or WAV-prefixed), runs the
// mel-spectrogram -> embedding -> per-model classifier chain, and reports
// predictions on stdout in one of three formats.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/hammamikhairi/voz/internal/capture"
	"github.com/hammamikhairi/voz/internal/dsp"
	"github.com/hammamikhairi/voz/internal/features"
	"github.com/hammamikhairi/voz/internal/inference"
	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
	"github.com/hammamikhairi/voz/internal/wakeword"
)

const version = "voz-oww 0.1.0"

// modelSpec is one parsed MODELSPEC argument: path[:name[:threshold[:patience]]].
type modelSpec struct {
	Path      string
	Name      string
	Threshold float32
	Patience  int
}

func parseModelSpec(s string) (modelSpec, error) {
	parts := strings.Split(s, ":")
	ms := modelSpec{Path: parts[0], Name: "no_name", Threshold: 0.5, Patience: 1}
	if len(parts) > 1 && parts[1] != "" {
		ms.Name = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		v, err := strconv.ParseFloat(parts[2], 32)
		if err != nil {
			return ms, fmt.Errorf("modelspec %q: bad threshold: %w", s, err)
		}
		ms.Threshold = float32(v)
	}
	if len(parts) > 3 && parts[3] != "" {
		v, err := strconv.Atoi(parts[3])
		if err != nil {
			return ms, fmt.Errorf("modelspec %q: bad patience: %w", s, err)
		}
		ms.Patience = v
	}
	return ms, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	audioMode := pflag.String("audio", "raw", "input format: raw|wav")
	output := pflag.String("output", "json", "output format: human|machine|json")
	sync := pflag.Bool("sync", false, "pace reads to wall-clock chunk time (file playback)")
	preamp := pflag.Float32("preamp", 1.0, "linear pre-amplification applied before DSP")
	noiser := pflag.Uint8("noiser", 0, "RNNoise suppression level, 0-4")
	autogain := pflag.Uint8("autogain", 0, "automatic gain control level, 0-31")
	modelsDir := pflag.String("modelsdir", ".", "directory holding melspectrogram.onnx and embedding_model.onnx")
	onnxLib := pflag.String("onnxlib", "libonnxruntime.so", "path to the ONNX Runtime shared library")
	bench := pflag.Int("bench", 0, "if >0, stop after N predictions and print a timing summary")
	help := pflag.BoolP("help", "h", false, "show usage and exit")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: voz-oww [options] <MODELSPEC>...\n\n")
		fmt.Fprintf(os.Stderr, "MODELSPEC is path[:name[:threshold[:patience]]].\n\n")
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
		fmt.Fprintf(os.Stderr, "voz-oww: --audio must be raw or wav\n")
		return 1
	}
	if *output != "human" && *output != "machine" && *output != "json" {
		fmt.Fprintf(os.Stderr, "voz-oww: --output must be human, machine, or json\n")
		return 1
	}
	if pflag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "voz-oww: at least one MODELSPEC is required\n")
		pflag.Usage()
		return 1
	}

	specs := make([]modelSpec, 0, pflag.NArg())
	for _, arg := range pflag.Args() {
		ms, err := parseModelSpec(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voz-oww: %v\n", err)
			return 1
		}
		specs = append(specs, ms)
	}

	log := logger.New(logger.LevelNormal, os.Stderr)

	ort.SetSharedLibraryPath(*onnxLib)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Error("voz-oww: initializing onnxruntime: %v", err)
		return 1
	}
	defer ort.DestroyEnvironment()

	melRunner, err := inference.Load(joinModel(*modelsDir, "melspectrogram.onnx"), 1, false, []int64{1, features.OverlapSamples + features.ChunkSamples})
	if err != nil {
		log.Error("voz-oww: loading mel model: %v", err)
		return 1
	}
	defer melRunner.Destroy()

	melsPerChunk, err := probeMelsPerChunk(melRunner)
	if err != nil {
		log.Error("voz-oww: probing mel model: %v", err)
		return 1
	}
	if err := melRunner.SetInputShape([]int64{1, features.WindowSamples}); err != nil {
		log.Error("voz-oww: resizing mel model to window: %v", err)
		return 1
	}

	// Embedding model binding (spec §4.2): XNNPack + 2 threads once >=3 CPU
	// cores are available, else 1 thread and no XNNPack.
	embedThreads := 1
	useXNN := false
	if runtime.NumCPU() >= 3 {
		embedThreads = 2
		useXNN = true
	}
	embedRunner, err := inference.Load(joinModel(*modelsDir, "embedding_model.onnx"), embedThreads, useXNN,
		[]int64{1, features.MelWindowRows, features.MelBins, 1})
	if err != nil {
		log.Error("voz-oww: loading embedding model: %v", err)
		return 1
	}
	defer embedRunner.Destroy()

	wwCfgs := make([]wakeword.Config, len(specs))
	wwRunners := make([]wakeword.Runner, len(specs))
	for i, ms := range specs {
		r, err := inference.Load(ms.Path, 1, false, nil)
		if err != nil {
			log.Error("voz-oww: loading %s: %v", ms.Path, err)
			return 1
		}
		defer r.Destroy()
		wwCfgs[i] = wakeword.Config{Name: ms.Name, ModelPath: ms.Path, Threshold: ms.Threshold, Patience: ms.Patience}
		wwRunners[i] = r
	}
	classifier, err := wakeword.New(log, wwCfgs, wwRunners)
	if err != nil {
		log.Error("voz-oww: %v", err)
		return 1
	}

	dspCfg := dsp.Config{NoiseLevel: int(*noiser), AutoGain: int(*autogain), Preamp: *preamp}
	var proc *dsp.Processor
	if dsp.Needed(dspCfg) {
		proc = dsp.New(dspCfg)
		defer proc.Destroy()
	}

	var src capture.Source = os.Stdin
	if *audioMode == "wav" {
		valid, hdr, err := capture.SniffWAV(os.Stdin)
		if err != nil {
			log.Error("voz-oww: reading wav header: %v", err)
			return 1
		}
		if !valid {
			log.Warn("voz-oww: --audio=wav given but header didn't validate, replaying as raw")
			src = capture.NewPrefixedSource(hdr, os.Stdin)
		}
	}

	audioBuf := rollbuffer.NewSync[int16](features.WindowSamples*2, false)
	embedBuf := rollbuffer.NewSync[[features.EmbeddingDim]float32](classifier.MaxWindow()+1, false)
	matchBuf := rollbuffer.NewSync[wakeword.Match](64, false)

	// stopRequested replaces the teacher's global-pointer signal trick (spec
	// §9): the signal handler only writes to sigCh; the forwarding goroutine
	// below is the self-pipe consumer and sets capture's Stop flag on a
	// signal. The only other writer is the --bench limit in the output loop.
	stopRequested := false
	stopFlags := capture.Flags{Stop: func() bool { return stopRequested }}

	captureThread := capture.New(src, capture.Config{ChunkTimeMs: 80, ChunkSamples: features.ChunkSamples, Sync: *sync}, proc, audioBuf, stopFlags, log)
	pipeline := features.New(melRunner, embedRunner, melsPerChunk, melBufCap(melsPerChunk), audioBuf, embedBuf, log)
	stage := wakeword.NewStage(classifier, embedBuf, matchBuf, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("voz-oww: signal received, stopping")
		stopRequested = true
	}()

	captureDone := make(chan struct{})
	featuresDone := make(chan struct{})
	wakewordDone := make(chan struct{})
	go func() { captureThread.Run(); close(captureDone) }()
	go func() { pipeline.Run(); close(featuresDone) }()
	go func() { stage.Run(); close(wakewordDone) }()

	emitStatus(*output, true)

	benchStart := time.Now()
	count := 0
	for {
		l := matchBuf.WaitAtLeast(1)
		st := l.Status()
		var matches []wakeword.Match
		if l.Len() > 0 {
			matches = append(matches, l.Get()...)
			l.Shift(l.Len())
		}
		l.ClearReset()
		l.ReleaseAndSignal()

		for _, m := range matches {
			emitMatch(*output, m)
			count++
			if *bench > 0 && count >= *bench {
				stopRequested = true
			}
		}
		if st.Cancel {
			break
		}
	}

	// Join order per spec §5: capture, then features, then wakeword —
	// downstream stages only observe Cancel after their upstream has
	// actually stopped producing.
	<-captureDone
	<-featuresDone
	<-wakewordDone

	if *bench > 0 {
		log.Info("voz-oww: bench: %d predictions in %s", count, time.Since(benchStart))
	}
	emitStatus(*output, false)
	return 0
}

func joinModel(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}

// probeMelsPerChunk runs one all-zero chunk plus overlap through mel (at its
// initial [1,OverlapSamples+ChunkSamples] shape) to recover M, the model's
// per-chunk mel-row count (spec §4.3: "typically 8").
func probeMelsPerChunk(mel features.MelRunner) (int, error) {
	out, err := mel.RunFloats(make([]float32, features.OverlapSamples+features.ChunkSamples))
	if err != nil {
		return 0, err
	}
	n := len(out) / features.MelBins
	if n <= 0 {
		return 0, fmt.Errorf("voz-oww: mel model produced %d rows for one chunk", n)
	}
	return n, nil
}

func melBufCap(melsPerChunk int) int {
	prefix := features.MelWindowRows - melsPerChunk
	if prefix < 0 {
		prefix = 0
	}
	perFrame := melsPerChunk * (features.FrameSamples / features.ChunkSamples)
	return prefix + perFrame
}

func emitStatus(format string, ready bool) {
	switch format {
	case "json":
		fmt.Printf("{\"event\":\"status\",\"ready\":%t}\n", ready)
	case "machine":
		if ready {
			fmt.Println("R:1")
		} else {
			fmt.Println("R:0")
		}
	default:
		if ready {
			fmt.Println("listening for wake words")
		} else {
			fmt.Println("stopped")
		}
	}
}

func emitMatch(format string, m wakeword.Match) {
	switch format {
	case "json":
		fmt.Printf("{\"event\":\"prediction\",\"wakeword\":%q,\"prob\":%g,\"cnt\":%d}\n", m.Name, m.Score, m.Count)
	case "machine":
		fmt.Printf("P:%s:%g:%d\n", m.Name, m.Score, m.Count)
	default:
		fmt.Printf("heard %q (score %.3f, count %d)\n", m.Name, m.Score, m.Count)
	}
}
