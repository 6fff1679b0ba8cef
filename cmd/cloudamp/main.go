package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ysokolov/cloudamp/internal/api"
	"github.com/ysokolov/cloudamp/internal/config"
	"github.com/ysokolov/cloudamp/internal/history"
	"github.com/ysokolov/cloudamp/internal/player"
	"github.com/ysokolov/cloudamp/internal/queue"
	"github.com/ysokolov/cloudamp/internal/service"
	"github.com/ysokolov/cloudamp/internal/track"
)

var (
	versionFlag    = flag.Bool("version", false, "Show version information")
	debugFlag      = flag.Bool("debug", false, "Enable debug logging")
	playlistFlag   = flag.String("playlist", "", "Playlist to load into the queue: a JSON file path or an http(s) URL")
	visualizerFlag = flag.Bool("visualizer", false, "Enable the frequency analyzer")
)

// envTokenSource reads the OAuth bearer token from an environment
// variable on every access; the engine never refreshes tokens itself.
type envTokenSource struct {
	name string
}

func (e envTokenSource) Token() (string, bool) {
	token := os.Getenv(e.name)
	return token, token != ""
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging(*debugFlag)

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Using default configuration")
	}
	if *visualizerFlag {
		cfg.Visualizer = true
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Error().Err(err).Msg("History disabled")
		store = nil
	}

	app := newApp(cfg, store)
	defer app.shutdown()

	if *playlistFlag != "" {
		if err := app.loadPlaylist(*playlistFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load playlist: %v\n", err)
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		app.shutdown()
		os.Exit(0)
	}()

	app.repl()
}

func setupLogging(debug bool) {
	if !debug {
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		if devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644); err == nil {
			log.Logger = log.Output(devNull)
		}
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	logDir, err := os.UserCacheDir()
	if err != nil {
		logDir = os.TempDir()
	}
	logDir = filepath.Join(logDir, "cloudamp")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(logDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

// app wires the playback engine to the line-oriented shell. The shell
// only enqueues commands and polls snapshots; it never blocks on the
// engine.
type app struct {
	cfg        *config.Config
	controller *player.Controller
	prefetcher *player.Prefetcher
	playlists  *service.PlaylistService
	queue      *queue.Queue
	history    *history.Store
	tokens     envTokenSource
	bands      *player.BandEnergy

	// Mute lives entirely in the shell: it remembers the pre-mute volume
	// and drives the engine through ordinary volume commands.
	muted      bool
	premuteVol float64

	// advance arms queue auto-advance. Set when a track is started,
	// cleared by an explicit stop so a user stop never skips forward.
	advance atomic.Bool

	quit chan struct{}
}

func newApp(cfg *config.Config, store *history.Store) *app {
	client := api.NewClient()
	q := queue.New()
	tokens := envTokenSource{name: cfg.TokenEnv}

	var bands *player.BandEnergy
	if cfg.Visualizer {
		bands = &player.BandEnergy{}
	}

	a := &app{
		cfg:       cfg,
		playlists: service.NewPlaylistService(client),
		queue:     q,
		history:   store,
		tokens:    tokens,
		bands:     bands,
		quit:      make(chan struct{}),
	}

	a.controller = player.NewController(client, player.Options{
		Bands:          bands,
		QualityFactor:  cfg.NetworkQualityFactor,
		OnTrackStarted: a.recordPlay,
	})
	a.controller.SetVolume(cfg.Volume)

	a.prefetcher = player.NewPrefetcher(
		client.ResolveStreamURL, tokens, a.controller.Session)

	go a.monitor()
	return a
}

func (a *app) shutdown() {
	select {
	case <-a.quit:
		return
	default:
		close(a.quit)
	}
	a.controller.Stop()
	a.controller.Close()
	if a.history != nil {
		a.history.Close()
	}
}

// recordPlay runs on the controller goroutine when a track's audio
// actually starts.
func (a *app) recordPlay(trackID uint64) {
	if a.history == nil {
		return
	}
	if t, ok := a.queue.Current(); ok && t.ID == trackID {
		if err := a.history.RecordPlay(t); err != nil {
			log.Warn().Err(err).Msg("Failed to record play")
		}
	}
}

// monitor polls playback state twice a second: it auto-advances the
// queue when a track finishes and feeds the prefetcher's progress window.
func (a *app) monitor() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
		}

		snap := a.controller.Snapshot()

		if snap.Finished {
			if a.advance.Swap(false) {
				if next, ok := a.queue.Next(); ok {
					fmt.Printf("\n-> %s\n> ", next.Label())
					a.playTrack(next)
				}
			}
			continue
		}

		if snap.HasDuration && snap.Duration > 0 {
			progress := float64(snap.Position) / float64(snap.Duration)
			if current, ok := a.queue.Current(); ok {
				var next *track.Track
				if n, ok := a.queue.PeekNext(); ok {
					next = &n
				}
				a.prefetcher.Tick(current.ID, progress, next)
			}
		}
	}
}

func (a *app) playTrack(t track.Track) {
	token, ok := a.tokens.Token()
	if !ok {
		fmt.Printf("No token available (set %s)\n", a.cfg.TokenEnv)
		return
	}

	prefetched, _ := a.prefetcher.Take(t.ID)
	// Play clears the published finished flag before returning, so arming
	// advance right after it cannot double-fire on the previous track.
	a.controller.Play(player.PlayCommand{
		URL:           t.StreamURL,
		Token:         token,
		TrackID:       t.ID,
		DurationMS:    t.DurationMS,
		HistoryTrack:  t.FromHistory,
		PrefetchedURL: prefetched,
	})
	a.advance.Store(true)
}

func (a *app) loadPlaylist(source string) error {
	token, _ := a.tokens.Token()
	tracks, err := a.playlists.Load(source, token)
	if err != nil {
		return err
	}
	a.queue.Load(tracks)
	fmt.Printf("Loaded %d tracks\n", len(tracks))
	return nil
}

func (a *app) repl() {
	fmt.Printf("%s v%s - %s\n", config.AppName, config.AppVersion, config.AppTagline)
	fmt.Println("Commands: play [n] | pause | resume | stop | seek <sec> | vol <0-100> | mute | next | prev | load <path|url> | queue | history | status | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "q", "exit":
			return

		case "play":
			a.cmdPlay(fields)

		case "pause":
			a.controller.Pause()

		case "resume":
			a.controller.Resume()

		case "stop":
			a.advance.Store(false)
			a.controller.Stop()

		case "seek":
			if len(fields) < 2 {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			secs, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			a.controller.Seek(time.Duration(secs * float64(time.Second)))

		case "vol":
			if len(fields) < 2 {
				fmt.Printf("volume: %.0f%%\n", a.controller.Volume()*100)
				continue
			}
			pct, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Println("usage: vol <0-100>")
				continue
			}
			a.controller.SetVolume(pct / 100)
			a.cfg.Volume = config.ClampVolume(pct / 100)
			if err := a.cfg.Save(); err != nil {
				log.Warn().Err(err).Msg("Failed to save config")
			}

		case "next":
			if t, ok := a.queue.Next(); ok {
				fmt.Printf("-> %s\n", t.Label())
				a.playTrack(t)
			} else {
				fmt.Println("End of queue")
			}

		case "prev":
			if t, ok := a.queue.Previous(); ok {
				fmt.Printf("-> %s\n", t.Label())
				a.playTrack(t)
			} else {
				fmt.Println("Start of queue")
			}

		case "mute":
			if a.muted {
				a.muted = false
				a.controller.SetVolume(a.premuteVol)
				fmt.Printf("Unmuted (%.0f%%)\n", a.premuteVol*100)
			} else {
				a.muted = true
				a.premuteVol = a.controller.Volume()
				a.controller.SetVolume(0)
				fmt.Println("Muted")
			}

		case "load":
			if len(fields) < 2 {
				fmt.Println("usage: load <path|url>")
				continue
			}
			if err := a.loadPlaylist(fields[1]); err != nil {
				fmt.Printf("Failed to load playlist: %v\n", err)
			}

		case "queue":
			for i, t := range a.queue.Tracks() {
				fmt.Printf("%3d. %s\n", i+1, t.Label())
			}

		case "history":
			a.cmdHistory()

		case "status":
			a.cmdStatus()

		default:
			fmt.Printf("Unknown command: %s\n", fields[0])
		}
	}
}

func (a *app) cmdPlay(fields []string) {
	var t track.Track
	var ok bool

	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > a.queue.Len() {
			fmt.Println("usage: play [queue position]")
			return
		}
		t, ok = a.queue.JumpToIndex(n - 1)
	} else {
		t, ok = a.queue.Current()
		if !ok {
			t, ok = a.queue.Next()
		}
	}
	if !ok {
		fmt.Println("Queue is empty")
		return
	}
	fmt.Printf("-> %s\n", t.Label())
	a.playTrack(t)
}

func (a *app) cmdHistory() {
	if a.history == nil {
		fmt.Println("History unavailable")
		return
	}
	tracks, err := a.history.Recent(20)
	if err != nil {
		fmt.Printf("History error: %v\n", err)
		return
	}
	for i, t := range tracks {
		fmt.Printf("%3d. %s\n", i+1, t.Label())
	}
}

func (a *app) cmdStatus() {
	snap := a.controller.Snapshot()
	pos := snap.Position.Round(time.Second)
	if snap.HasDuration {
		fmt.Printf("%v / %v", pos, snap.Duration.Round(time.Second))
	} else {
		fmt.Printf("%v / ?", pos)
	}
	if snap.Finished {
		fmt.Print(" [finished]")
	}
	fmt.Println()

	if a.bands != nil {
		fmt.Printf("bands: bass=%.2f mid=%.2f high=%.2f\n",
			a.bands.Bass(), a.bands.Mid(), a.bands.High())
	}
}
