// trinity - round replay service and tools
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/trinity-replay/internal/api"
	"github.com/ernie/trinity-replay/internal/collector"
	"github.com/ernie/trinity-replay/internal/config"
	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/metrics"
	"github.com/ernie/trinity-replay/internal/render"
	"github.com/ernie/trinity-replay/internal/replay"
	"github.com/ernie/trinity-replay/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/trinity/replay.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "import":
		cmdImport(os.Args[2:])
	case "publish":
		cmdPublish(os.Args[2:])
	case "rounds":
		cmdRounds(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "play":
		cmdPlay(os.Args[2:])
	case "chart":
		cmdChart(os.Args[2:])
	case "version":
		fmt.Printf("trinity %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: trinity <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the replay server")
	fmt.Println("  import <file.json>...               Store round payloads in the database")
	fmt.Println("  publish [--delay D] <file.json>...  Stream round payloads to the telemetry broker")
	fmt.Println("  rounds [--recent N]                 Show recent rounds (default: 20)")
	fmt.Println("  replay <id> [--index N] [--players a,b] [--top N]")
	fmt.Println("                                      Show the scoreboard at a point in a round")
	fmt.Println("  play <id> [--interval D]            Play a round back in the terminal")
	fmt.Println("  chart <id> --out <file.png> [--index N] [--width W] [--height H]")
	fmt.Println("                                      Render the score chart as PNG")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/trinity/replay.yml)")
	fmt.Println("  --url <url>        Base URL of the trinity server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  trinity serve --config /etc/trinity/replay.yml")
	fmt.Println("  trinity import round-1234.json")
	fmt.Println("  trinity replay 42 --index 10")
	fmt.Println("  trinity chart 42 --out round42.png")
}

// cmdServe starts the replay server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Trinity replay %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	m := metrics.New()

	// Telemetry ingest is optional; without it rounds arrive via import
	var ingestor *collector.Ingestor
	var source api.EventSource
	if cfg.NATS.Enabled() {
		natsURL := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := collector.StartEmbeddedServer(cfg.NATS)
			if err != nil {
				log.Fatalf("Failed to start embedded NATS server: %v", err)
			}
			defer ns.Shutdown()
			natsURL = ns.ClientURL()
			log.Printf("Embedded NATS server listening on %s", natsURL)
		}

		ingestor = collector.NewIngestor(cfg.NATS, store, m)
		if err := ingestor.Start(natsURL); err != nil {
			log.Fatalf("Failed to start telemetry ingest: %v", err)
		}
		source = ingestor
	} else {
		log.Printf("Warning: NATS not configured, live telemetry ingest disabled")
	}

	router := api.NewRouter(store, source, m, replay.Options{
		TickInterval:     cfg.Replay.TickInterval,
		DefaultSelection: cfg.Replay.DefaultSelection,
	}, cfg.Server.StaticDir)
	router.StartWebSocketHub()
	if cfg.Server.StaticDir != "" {
		log.Printf("Serving static files from %s", cfg.Server.StaticDir)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if ingestor != nil {
		log.Println("Stopping telemetry ingest...")
		ingestor.Stop()
	}

	log.Println("Shutdown complete")
}

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  = "/var/lib/trinity/replay.db"
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		if url != "" {
			baseURL = url
		}
		return config.Default()
	}

	dbPath = cfg.Database.Path
	// Derive URL from config, but allow --url flag to override
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}

// replayPath builds the replay view request. players wins over top, as it
// does on the server.
func replayPath(id int64, index int, players string, top int) string {
	q := url.Values{}
	if index >= 0 {
		q.Set("index", strconv.Itoa(index))
	}
	if players != "" {
		q.Set("players", players)
	} else if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
	path := fmt.Sprintf("/api/rounds/%d/replay", id)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path
}

// splitPlayers parses a comma separated --players value
func splitPlayers(s string) []string {
	var players []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			players = append(players, p)
		}
	}
	return players
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// readRoundFile decodes a round payload from disk
func readRoundFile(path string) (*domain.RoundData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var data domain.RoundData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	data.Normalize()
	return &data, nil
}

// roundIDArg parses the positional round id
func roundIDArg(fs *flag.FlagSet, usage string) int64 {
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s\n", usage)
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid round id: %s\n", fs.Arg(0))
		os.Exit(1)
	}
	return id
}

// cmdImport stores round payload files directly in the database
func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: trinity import <file.json>...")
		os.Exit(1)
	}

	loadCLIConfigFromFlags(*configPath, "")

	store, err := storage.New(dbPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	failed := 0
	for _, path := range fs.Args() {
		data, err := readRoundFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed++
			continue
		}

		eng := replay.New(data, replay.Options{})
		for _, a := range eng.Anomalies() {
			fmt.Fprintf(os.Stderr, "Warning: %s: %s\n", path, a)
		}
		stamps := len(eng.Timestamps())
		players := len(eng.PlayerNames())
		eng.Close()

		id, err := store.ImportRoundData(ctx, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: importing %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("Imported %s as round %d (%d players, %d timestamps)\n", path, id, players, stamps)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// cmdPublish streams round payloads to the broker the way a game server would
func cmdPublish(args []string) {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	natsURL := fs.String("nats", "", "NATS server URL (default: derived from config)")
	delay := fs.Duration("delay", 0, "pause between timestamps")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: trinity publish [--delay D] <file.json>...")
		os.Exit(1)
	}

	cfg := loadCLIConfigFromFlags(*configPath, "")
	url := *natsURL
	if url == "" {
		url = cfg.NATS.URL
	}
	if url == "" {
		url = fmt.Sprintf("nats://%s:%d", cfg.NATS.Host, cfg.NATS.Port)
	}

	pub, err := collector.NewPublisher(url, cfg.NATS.SubjectPrefix)
	if err != nil {
		fatal(err)
	}
	defer pub.Close()

	for _, path := range fs.Args() {
		data, err := readRoundFile(path)
		if err != nil {
			fatal(err)
		}
		if err := pub.PublishRound(data, *delay); err != nil {
			fatal(fmt.Errorf("publishing %s: %w", path, err))
		}
		fmt.Printf("Published %s (round %s)\n", path, data.UUID)
	}
}

func cmdRounds(args []string) {
	fs := flag.NewFlagSet("rounds", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the trinity server")
	limit := fs.Int("recent", 20, "number of recent rounds to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var rounds []domain.Round
	if err := getJSON(fmt.Sprintf("/api/rounds?limit=%d", *limit), &rounds); err != nil {
		fatal(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMAP\tSERVER\tPLAYERS\tSTARTED\tENDED")
	fmt.Fprintln(w, "--\t---\t------\t-------\t-------\t-----")

	for _, r := range rounds {
		server := r.ServerName
		if server == "" {
			server = "-"
		}
		ended := "In Progress"
		if r.EndedAt != nil {
			ended = r.EndedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.MapName, server, r.PlayerCount,
			r.StartedAt.Local().Format("2006-01-02 15:04"), ended)
	}

	w.Flush()
}

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the trinity server")
	index := fs.Int("index", -1, "timeline position (default: end of round)")
	players := fs.String("players", "", "comma separated players to select")
	top := fs.Int("top", 0, "select the top N players")
	fs.Parse(args)

	id := roundIDArg(fs, "trinity replay <id> [--index N] [--players a,b] [--top N]")
	loadCLIConfigFromFlags(*configPath, *url)

	path := replayPath(id, *index, *players, *top)

	var view replay.View
	if err := getJSON(path, &view); err != nil {
		fatal(err)
	}
	printView(os.Stdout, view)
}

// cmdPlay fetches a round and plays it back locally
func cmdPlay(args []string) {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the trinity server")
	interval := fs.Duration("interval", 0, "time between playback steps (100ms-300ms)")
	fs.Parse(args)

	id := roundIDArg(fs, "trinity play <id> [--interval D]")
	cfg := loadCLIConfigFromFlags(*configPath, *url)

	var data domain.RoundData
	if err := getJSON(fmt.Sprintf("/api/rounds/%d/data", id), &data); err != nil {
		fatal(err)
	}

	tick := cfg.Replay.TickInterval
	if *interval > 0 {
		tick = *interval
	}
	eng := replay.New(&data, replay.Options{
		TickInterval:     tick,
		DefaultSelection: cfg.Replay.DefaultSelection,
	})
	defer eng.Close()

	animate := term.IsTerminal(int(os.Stdout.Fd()))
	done := make(chan struct{})
	var once sync.Once

	var mu sync.Mutex
	eng.Observe(func(c replay.Change) {
		v := eng.View()
		mu.Lock()
		if animate {
			fmt.Print("\033[H\033[2J")
			printView(os.Stdout, v)
		} else if c.Has(replay.ChangeScrubber) {
			fmt.Printf("%s\t%s\n", replay.FormatClock(v.Timestamp), leaderLine(v))
		}
		mu.Unlock()
		if v.State == replay.Idle && v.AtEnd {
			once.Do(func() { close(done) })
		}
	})

	if !eng.Play() {
		printView(os.Stdout, eng.View())
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
		if !animate {
			printView(os.Stdout, eng.View())
		}
	case <-sigCh:
		eng.Pause()
	}
}

// cmdChart renders a round's score chart to a PNG file
func cmdChart(args []string) {
	fs := flag.NewFlagSet("chart", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the trinity server")
	out := fs.String("out", "", "output PNG file")
	index := fs.Int("index", -1, "timeline position to mark (default: end of round)")
	players := fs.String("players", "", "comma separated players to draw")
	width := fs.Int("width", render.DefaultWidth, "image width")
	height := fs.Int("height", render.DefaultHeight, "image height")
	fs.Parse(args)

	id := roundIDArg(fs, "trinity chart <id> --out <file.png>")
	if *out == "" {
		fmt.Fprintln(os.Stderr, "Usage: trinity chart <id> --out <file.png>")
		os.Exit(1)
	}
	cfg := loadCLIConfigFromFlags(*configPath, *url)

	var data domain.RoundData
	if err := getJSON(fmt.Sprintf("/api/rounds/%d/data", id), &data); err != nil {
		fatal(err)
	}

	eng := replay.New(&data, replay.Options{DefaultSelection: cfg.Replay.DefaultSelection})
	defer eng.Close()
	if *players != "" {
		eng.SelectPlayers(splitPlayers(*players))
	}
	if *index >= 0 {
		eng.Seek(*index)
	}

	f, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	if err := render.Chart(f, eng.View(), render.Options{Width: *width, Height: *height}); err != nil {
		f.Close()
		fatal(err)
	}
	if err := f.Close(); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", *out)
}
