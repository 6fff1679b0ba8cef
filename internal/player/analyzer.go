package player

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	analyzerIdleSleep = 5 * time.Millisecond
	fftSize           = 1024

	// Band edges in Hz. Bins above highBandEdge are ignored, mostly
	// codec noise at 128kbps.
	bassBandEdge = 250.0
	midBandEdge  = 4000.0
	highBandEdge = 16000.0

	// energySmoothing blends new band values into the published ones so
	// the visualization decays instead of flickering.
	energySmoothing = 0.6
)

// BandEnergy holds three independently-written band levels. Each cell is
// a float32 bit-cast into an atomic uint32, so the render layer reads an
// approximate, always-slightly-stale value without ever taking a lock.
// No ordering is guaranteed between the three values.
type BandEnergy struct {
	bass atomic.Uint32
	mid  atomic.Uint32
	high atomic.Uint32
}

func (b *BandEnergy) Bass() float32 { return math.Float32frombits(b.bass.Load()) }
func (b *BandEnergy) Mid() float32  { return math.Float32frombits(b.mid.Load()) }
func (b *BandEnergy) High() float32 { return math.Float32frombits(b.high.Load()) }

func (b *BandEnergy) store(bass, mid, high float32) {
	b.bass.Store(math.Float32bits(bass))
	b.mid.Store(math.Float32bits(mid))
	b.high.Store(math.Float32bits(high))
}

// Analyzer merges the download-phase and playback-phase sample queues on
// one goroutine and publishes bass/mid/high energies. It is constructed
// only when visualization is enabled; disabled playback pays nothing.
type Analyzer struct {
	download <-chan []int16
	playback <-chan []int16
	bands    *BandEnergy

	window []float64
	fill   int

	bass, mid, high float32
}

func newAnalyzer(bands *BandEnergy, download, playback <-chan []int16) *Analyzer {
	return &Analyzer{
		download: download,
		playback: playback,
		bands:    bands,
		window:   make([]float64, fftSize),
	}
}

// run polls both queues; whichever has data is processed. It terminates
// when the playback queue closes: its producer, the sample source, has
// been released, meaning this track is fully done. The download queue
// closing earlier is normal (the pipeline exits before playback drains).
func (a *Analyzer) run() {
	log.Debug().Msg("Analyzer thread started")
	download := a.download

	for {
		got := false

		if download != nil {
			select {
			case samples, ok := <-download:
				if !ok {
					download = nil
				} else {
					a.process(samples)
					got = true
				}
			default:
			}
		}

		select {
		case samples, ok := <-a.playback:
			if !ok {
				log.Debug().Msg("Playback queue closed, analyzer thread exiting")
				return
			}
			a.process(samples)
			got = true
		default:
		}

		if !got {
			time.Sleep(analyzerIdleSleep)
		}
	}
}

// process downmixes interleaved stereo to mono and accumulates a fixed
// window; every full window is transformed and published.
func (a *Analyzer) process(samples []int16) {
	for i := 0; i+1 < len(samples); i += 2 {
		a.window[a.fill] = (float64(samples[i]) + float64(samples[i+1])) / (2 * 32768.0)
		a.fill++
		if a.fill == fftSize {
			a.analyzeWindow()
			a.fill = 0
		}
	}
}

func (a *Analyzer) analyzeWindow() {
	re := make([]float64, fftSize)
	im := make([]float64, fftSize)
	for i, v := range a.window {
		// Hann window
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
		re[i] = v * w
	}

	fft(re, im)

	binWidth := float64(outputSampleRate) / float64(fftSize)
	var bassSum, midSum, highSum float64
	var bassN, midN, highN int

	for bin := 1; bin < fftSize/2; bin++ {
		freq := float64(bin) * binWidth
		mag := math.Hypot(re[bin], im[bin]) / float64(fftSize/2)
		switch {
		case freq < bassBandEdge:
			bassSum += mag
			bassN++
		case freq < midBandEdge:
			midSum += mag
			midN++
		case freq < highBandEdge:
			highSum += mag
			highN++
		}
	}

	a.bass = a.smooth(a.bass, bandLevel(bassSum, bassN))
	a.mid = a.smooth(a.mid, bandLevel(midSum, midN))
	a.high = a.smooth(a.high, bandLevel(highSum, highN))
	a.bands.store(a.bass, a.mid, a.high)
}

func (a *Analyzer) smooth(old, next float32) float32 {
	return energySmoothing*old + (1-energySmoothing)*next
}

// bandLevel maps an average bin magnitude into a rough [0, 1] level.
func bandLevel(sum float64, n int) float32 {
	if n == 0 {
		return 0
	}
	level := math.Sqrt(sum/float64(n)) * 4
	if level > 1 {
		level = 1
	}
	return float32(level)
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform. len(re)
// must be a power of two.
func fft(re, im []float64) {
	n := len(re)

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := step * float64(k)
				wr, wi := math.Cos(angle), math.Sin(angle)
				i, j := start+k, start+k+half
				tr := re[j]*wr - im[j]*wi
				ti := re[j]*wi + im[j]*wr
				re[j] = re[i] - tr
				im[j] = im[i] - ti
				re[i] += tr
				im[i] += ti
			}
		}
	}
}
