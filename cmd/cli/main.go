package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/audio"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/visualize"
	"github.com/himanishpuri/ChromaMatch/pkg/logger"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Global flags
var (
	dbPath      string
	tempDir     string
	backend     string
	profileName string
	workers     int
	threshold   float64
	fpSize      int
	convert     bool
)

func init() {
	// .env values become defaults; real environment variables win
	_ = godotenv.Load()

	flag.StringVar(&dbPath, "db", getEnvOrDefault("CHROMAMATCH_DB_PATH", ""), "SQLite file or badger directory for disk backends (empty: temporary)")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("CHROMAMATCH_TEMP_DIR", os.TempDir()), "Directory for temporary audio conversion files")
	flag.StringVar(&backend, "store", getEnvOrDefault("CHROMAMATCH_STORE", string(chromamatch.StorageMemory)), "Collision map backend: memory, sqlite or badger")
	flag.StringVar(&profileName, "profile", getEnvOrDefault("CHROMAMATCH_PROFILE", "default"), "Fingerprint profile (see 'profiles')")
	flag.IntVar(&workers, "workers", runtime.NumCPU(), "Tracks fingerprinted concurrently")
	flag.Float64Var(&threshold, "threshold", matching.DefaultThreshold, "Maximum bit error rate of a match")
	flag.IntVar(&fpSize, "size", matching.DefaultFingerprintSize, "Sub-fingerprints compared per match")
	flag.BoolVar(&convert, "convert", true, "Convert inputs with ffmpeg when they are not mono WAV at the profile rate")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// activeService is closed by fatal, since os.Exit skips deferred calls.
var activeService chromamatch.Service

var exit = os.Exit

// fatal logs err with its stack trace, releases the service and exits.
func fatal(log *logger.Logger, msg string, err error) {
	err = xerrors.New(err)
	fmt.Printf("❌ %s: %v\n", msg, err)
	log.Errorf("%s: %v", msg, err)
	if log.Level() <= logger.DEBUG {
		fmt.Fprint(os.Stderr, xerrors.Sprint(err))
	}
	if activeService != nil {
		if err := activeService.Close(); err != nil {
			log.Warnf("Failed to clean up: %v", err)
		}
		activeService = nil
	}
	exit(1)
}

func selectedProfile(log *logger.Logger) fingerprint.Profile {
	p, err := fingerprint.ProfileByName(profileName)
	if err != nil {
		fatal(log, "Invalid profile", err)
	}
	return p
}

// createService creates a new service with configured options
func createService(log *logger.Logger, extra ...chromamatch.Option) chromamatch.Service {
	store, err := chromamatch.ParseStorageBackend(backend)
	if err != nil {
		fatal(log, "Invalid store", err)
	}
	opts := append([]chromamatch.Option{
		chromamatch.WithDBPath(dbPath),
		chromamatch.WithTempDir(tempDir),
		chromamatch.WithStorageBackend(store),
		chromamatch.WithProfile(selectedProfile(log)),
		chromamatch.WithWorkers(workers),
		chromamatch.WithThreshold(threshold),
		chromamatch.WithFingerprintSize(fpSize),
		chromamatch.WithConversion(convert),
		chromamatch.WithLogger(log.Named("service")),
	}, extra...)
	svc, err := chromamatch.NewService(opts...)
	if err != nil {
		fatal(log, "Failed to create service", err)
	}
	activeService = svc
	return svc
}

func main() {
	log := logger.GetLogger().Named("cli")

	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "profiles":
		handleProfiles(log, args)
	case "fingerprint":
		handleFingerprint(ctx, log, args)
	case "match":
		handleMatch(ctx, log, args)
	case "diff":
		handleDiff(ctx, log, args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleProfiles(log *logger.Logger, args []string) {
	cmd := flag.NewFlagSet("profiles", flag.ExitOnError)
	asJSON := cmd.Bool("json", false, "Print the full profiles as JSON")
	cmd.Parse(args)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fingerprint.Profiles()); err != nil {
			fatal(log, "Failed to encode profiles", err)
		}
		return
	}
	for _, p := range fingerprint.Profiles() {
		fmt.Printf("%s\n", p.Name)
		fmt.Printf("   Sampling:  %d Hz, window %d, hop %d (%s)\n", p.SamplingRate, p.WindowSize, p.HopSize, p.WindowType)
		fmt.Printf("   Chroma:    %.0f-%.0f Hz, %s mapping\n", p.ChromaMinFrequency, p.ChromaMaxFrequency, p.ChromaMappingMode)
		fmt.Printf("   Hash rate: one per %v\n", time.Duration(p.HashTimeScale()*float64(time.Second)).Round(time.Millisecond))
		fmt.Println()
	}
}

func handleFingerprint(ctx context.Context, log *logger.Logger, args []string) {
	cmd := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	out := cmd.String("png", "", "Render the fingerprint to this PNG file")
	spec := cmd.String("spectrogram", "", "Render the spectrogram to this PNG file")
	show := cmd.Int("show", 8, "Number of hashes to print")
	probe := cmd.Bool("probe", false, "Print the input's ffprobe metadata")
	cmd.Parse(args)
	if cmd.NArg() != 1 {
		fmt.Println("Usage: chromamatch fingerprint [-probe] [-png out.png] [-spectrogram spec.png] <audio_file>")
		os.Exit(1)
	}
	path := cmd.Arg(0)

	if *probe {
		meta, err := audio.ReadMetadata(ctx, path)
		if err != nil {
			log.Warnf("ffprobe failed: %v", err)
		} else {
			fmt.Printf("🎵 %s\n", meta)
		}
	}

	svc := createService(log)
	defer svc.Close()

	hashes, err := svc.Fingerprint(ctx, path)
	if err != nil {
		fatal(log, "Failed to fingerprint", err)
	}
	step := svc.Store().IndexToDuration(1)
	fmt.Printf("✅ %s: %s sub-fingerprints (one per %v)\n", path, humanize.Comma(int64(len(hashes))), step.Round(time.Millisecond))
	for i, h := range hashes[:min(*show, len(hashes))] {
		fmt.Printf("   %5d  %v  %s\n", i, svc.Store().IndexToDuration(i).Round(time.Millisecond), h)
	}

	if *out != "" {
		if err := visualize.RenderFingerprint(hashes, *out); err != nil {
			fatal(log, "Failed to render fingerprint", err)
		}
		fmt.Printf("🖼  Fingerprint image: %s\n", *out)
	}
	if *spec != "" {
		samples, rate, err := audio.ReadAll(path)
		if err != nil {
			fatal(log, "Failed to read audio", err)
		}
		if err := visualize.RenderSpectrogram(samples, rate, 2048, 512, *spec); err != nil {
			fatal(log, "Failed to render spectrogram", err)
		}
		fmt.Printf("🖼  Spectrogram image: %s\n", *spec)
	}
}

// progressBars draws one bar per track and one for the collision search.
type progressBars struct {
	p      *mpb.Progress
	mu     sync.Mutex
	tracks map[*models.Track]*mpb.Bar
	search *mpb.Bar
}

func newProgressBars() *progressBars {
	return &progressBars{
		p:      mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr)),
		tracks: make(map[*models.Track]*mpb.Bar),
	}
}

func (b *progressBars) bar(name string, total int64) *mpb.Bar {
	return b.p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name+" "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)
}

func (b *progressBars) track(track *models.Track, done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bar, ok := b.tracks[track]
	if !ok {
		bar = b.bar(track.Name, int64(max(total, 0)))
		b.tracks[track] = bar
	}
	if total >= 0 {
		bar.SetTotal(int64(max(total, done)), false)
	}
	bar.SetCurrent(int64(done))
	if done == total {
		bar.SetTotal(int64(done), true)
	}
}

func (b *progressBars) searched(done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.search == nil {
		b.search = b.bar("Searching", int64(total))
	}
	b.search.SetCurrent(int64(done))
	if done >= total {
		b.search.SetTotal(int64(total), true)
	}
}

// wait finishes the display, dropping bars that never completed.
func (b *progressBars) wait() {
	b.mu.Lock()
	for _, bar := range b.tracks {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	if b.search != nil && !b.search.Completed() {
		b.search.Abort(false)
	}
	b.mu.Unlock()
	b.p.Wait()
}

func handleMatch(ctx context.Context, log *logger.Logger, args []string) {
	cmd := flag.NewFlagSet("match", flag.ExitOnError)
	filter := cmd.String("filter", "best", "Per pair reduction: none, best, first, mid, last")
	window := cmd.Duration("window", 0, "Apply the filter per window of this length (0: whole pair)")
	query := cmd.String("query", "", "Locate this clip in the given files instead of matching them against each other")
	all := cmd.Bool("all", false, "Report uncorroborated single-collision matches too")
	quiet := cmd.Bool("quiet", false, "Disable progress bars")
	cmd.Parse(args)

	paths := cmd.Args()
	if len(paths) < 1 || (*query == "" && len(paths) < 2) {
		fmt.Println("Usage: chromamatch match [-filter best] [-window 30s] [-query clip.wav] <audio_file>...")
		os.Exit(1)
	}
	mode, err := matching.ParseFilterMode(*filter)
	if err != nil {
		fatal(log, "Invalid filter", err)
	}

	var extra []chromamatch.Option
	var bars *progressBars
	if !*quiet {
		bars = newProgressBars()
		extra = append(extra, chromamatch.WithTrackProgress(bars.track), chromamatch.WithProgress(bars.searched))
	}
	svc := createService(log, extra...)
	defer svc.Close()

	start := time.Now()
	tracks, err := svc.AddTracks(ctx, paths)
	if err != nil {
		if bars != nil {
			bars.wait()
		}
		fatal(log, "Failed to fingerprint tracks", err)
	}
	log.Infof("Fingerprinted %d tracks in %v", len(tracks), time.Since(start).Round(time.Millisecond))

	if *query != "" {
		if bars != nil {
			bars.wait()
		}
		matches, err := svc.Query(ctx, *query)
		if err != nil {
			fatal(log, "Failed to query", err)
		}
		printQuery(*query, matches, mode, *window)
		return
	}

	var pairs []*matching.MatchPair
	if *all {
		matches, err := svc.FindAllMatches(ctx)
		if err != nil {
			fatal(log, "Failed to search matches", err)
		}
		pairs = matching.TrackPairs(svc.Tracks())
		matching.AssignMatches(pairs, matching.FilterDuplicateMatches(matches))
		for _, p := range pairs {
			p.Matches = matching.WindowFilter(p.Matches, mode, *window)
		}
	} else {
		pairs, err = svc.MatchPairs(ctx, mode, *window)
		if err != nil {
			fatal(log, "Failed to search matches", err)
		}
	}
	if bars != nil {
		bars.wait()
	}
	printPairs(pairs)
}

func printPairs(pairs []*matching.MatchPair) {
	found := 0
	for _, p := range pairs {
		if len(p.Matches) == 0 {
			continue
		}
		found++
		fmt.Printf("\n🎵 %s ↔ %s: %s match(es), average similarity %.1f%%\n",
			p.Track1, p.Track2, humanize.Comma(int64(len(p.Matches))), p.AverageSimilarity()*100)
		for _, m := range p.Matches {
			fmt.Printf("   %v @ %v  offset %v  similarity %.1f%%\n",
				m.Track1Time.Round(time.Millisecond), m.Track2Time.Round(time.Millisecond),
				m.Offset().Round(time.Millisecond), m.Similarity*100)
		}
	}
	if found == 0 {
		fmt.Println("\n❌ No matches found")
		return
	}
	fmt.Printf("\n✅ %d of %d track pair(s) matched\n", found, len(pairs))
}

func printQuery(query string, matches []matching.Match, mode matching.FilterMode, window time.Duration) {
	byTrack := map[*models.Track][]matching.Match{}
	var order []*models.Track
	for _, m := range matches {
		if _, ok := byTrack[m.Track1]; !ok {
			order = append(order, m.Track1)
		}
		byTrack[m.Track1] = append(byTrack[m.Track1], m)
	}
	if len(order) == 0 {
		fmt.Printf("\n❌ %s not found\n", query)
		return
	}
	for _, track := range order {
		ms := byTrack[track]
		fmt.Printf("\n🎵 %s found in %s (%s matching hashes)\n", query, track, humanize.Comma(int64(len(ms))))
		for _, m := range matching.WindowFilter(ms, mode, window) {
			fmt.Printf("   at %v  similarity %.1f%%\n", m.Offset().Round(time.Millisecond), m.Similarity*100)
		}
	}
}

func handleDiff(ctx context.Context, log *logger.Logger, args []string) {
	cmd := flag.NewFlagSet("diff", flag.ExitOnError)
	out := cmd.String("png", "diff.png", "Output PNG file")
	offset := cmd.Int("offset", 0, "Shift of the second fingerprint in sub-fingerprints")
	cmd.Parse(args)
	if cmd.NArg() != 2 {
		fmt.Println("Usage: chromamatch diff [-png diff.png] [-offset n] <audio_file1> <audio_file2>")
		os.Exit(1)
	}

	svc := createService(log)
	defer svc.Close()

	a, err := svc.Fingerprint(ctx, cmd.Arg(0))
	if err != nil {
		fatal(log, "Failed to fingerprint", err)
	}
	b, err := svc.Fingerprint(ctx, cmd.Arg(1))
	if err != nil {
		fatal(log, "Failed to fingerprint", err)
	}

	startA, startB := max(-*offset, 0), max(*offset, 0)
	n := min(len(a)-startA, len(b)-startB)
	if n <= 0 {
		fatal(log, "Nothing to compare", fmt.Errorf("no overlap at offset %d", *offset))
	}
	fa, err := fingerprint.NewFingerprint(a, startA, n)
	if err != nil {
		fatal(log, "Invalid range", err)
	}
	fb, err := fingerprint.NewFingerprint(b, startB, n)
	if err != nil {
		fatal(log, "Invalid range", err)
	}
	ber, err := visualize.RenderDifference(fa, fb, *out)
	if err != nil {
		fatal(log, "Failed to render difference", err)
	}
	fmt.Printf("✅ Compared %s sub-fingerprints: bit error rate %.3f (similarity %.1f%%)\n",
		humanize.Comma(int64(n)), ber, (1-ber)*100)
	fmt.Printf("🖼  Difference image: %s\n", *out)
}

func printUsage() {
	fmt.Println("ChromaMatch - Chroma Audio Fingerprinting CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --store <backend>  Collision map backend: memory, sqlite, badger (env: CHROMAMATCH_STORE, default: memory)")
	fmt.Println("  --db <path>        SQLite file or badger directory (env: CHROMAMATCH_DB_PATH)")
	fmt.Println("  --temp <dir>       Temporary directory for audio conversion (env: CHROMAMATCH_TEMP_DIR)")
	fmt.Println("  --profile <name>   Fingerprint profile: default, sync (env: CHROMAMATCH_PROFILE)")
	fmt.Println("  --workers <n>      Tracks fingerprinted concurrently (default: number of CPUs)")
	fmt.Println("  --threshold <ber>  Maximum bit error rate of a match (default: 0.45)")
	fmt.Println("  --size <n>         Sub-fingerprints compared per match (default: 256)")
	fmt.Println("\nUsage:")
	fmt.Println("  chromamatch [global-options] profiles [-json]")
	fmt.Println("  chromamatch [global-options] fingerprint [-probe] [-png fp.png] [-spectrogram spec.png] <audio_file>")
	fmt.Println("  chromamatch [global-options] match [-filter best] [-window 30s] [-all] <audio_file> <audio_file>...")
	fmt.Println("  chromamatch [global-options] match -query <clip> <audio_file>...")
	fmt.Println("  chromamatch [global-options] diff [-png diff.png] [-offset n] <audio_file1> <audio_file2>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Align several recordings of the same event")
	fmt.Println("  chromamatch match -filter mid cam1.mp4 cam2.mp4 recorder.wav")
	fmt.Println()
	fmt.Println("  # Spill the index to disk for long recordings")
	fmt.Println("  chromamatch --store badger --db /tmp/index match a.wav b.wav")
	fmt.Println()
	fmt.Println("  # Locate a clip")
	fmt.Println("  chromamatch match -query clip.wav full.wav")
}
