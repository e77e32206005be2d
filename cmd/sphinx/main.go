package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/uvensys/sphinx"
	"github.com/uvensys/sphinx/internal"
	libsphinx "github.com/uvensys/sphinx/lib"
	"github.com/uvensys/sphinx/lib/provider"
	"github.com/uvensys/sphinx/lib/store"
	_ "github.com/uvensys/sphinx/lib/store/all"
)

var (
	bind             = flag.String("bind", ":8080", "network address to bind HTTP to")
	challengeMax     = flag.Int("challenge-max", sphinx.DefaultMaxChallenges, "maximum live challenges held by the memory store backend")
	challengeTTL     = flag.Duration("challenge-ttl", sphinx.DefaultChallengeTTL, "how long a challenge stays redeemable past its last state change")
	clientID         = flag.String("client-id", "", "public credential accepted for challenge creation and solving")
	clientSecret     = flag.String("client-secret", "", "private credential accepted for token verification")
	healthcheck      = flag.Bool("healthcheck", false, "run a health check against a running instance")
	metricsBind      = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	providerURL      = flag.String("provider-url", "", "base URL of the Libre Captcha instance")
	slogLevel        = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	storeBackend     = flag.String("store-backend", "memory", "which challenge storage backend to use")
	storeConfigFname = flag.String("store-config-fname", "", "path to a YAML configuration file for the storage backend")
	versionFlag      = flag.Bool("version", false, "print version and exit")
)

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// loadStoreConfig reads the backend configuration file, converting the
// YAML to the JSON form the backend factories validate. Without a file
// the memory backend is configured from --challenge-max; other backends
// get an empty document and must be configured explicitly.
func loadStoreConfig() (json.RawMessage, error) {
	if *storeConfigFname == "" {
		if *storeBackend == "memory" {
			return json.Marshal(map[string]int{"maxEntries": *challengeMax})
		}
		return json.RawMessage("{}"), nil
	}

	fin, err := os.ReadFile(*storeConfigFname)
	if err != nil {
		return nil, fmt.Errorf("can't read store config file %s: %w", *storeConfigFname, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(fin, &doc); err != nil {
		return nil, fmt.Errorf("can't parse store config file %s: %w", *storeConfigFname, err)
	}

	return json.Marshal(doc)
}

func buildStore(ctx context.Context) (store.Interface, error) {
	factory, ok := store.Get(*storeBackend)
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q, have: %v", *storeBackend, store.Methods())
	}

	config, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	if err := factory.Valid(config); err != nil {
		return nil, fmt.Errorf("invalid %s store config: %w", *storeBackend, err)
	}

	return factory.Build(ctx, config)
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("Sphinx", sphinx.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *providerURL == "" {
		log.Fatal("[misconfiguration] PROVIDER_URL must be set to a Libre Captcha base URL")
	}
	if *clientID == "" || *clientSecret == "" {
		log.Fatal("[misconfiguration] CLIENT_ID and CLIENT_SECRET must both be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx)
	if err != nil {
		log.Fatalf("can't build %s store: %v", *storeBackend, err)
	}

	s, err := libsphinx.New(libsphinx.Options{
		Store:        st,
		Provider:     provider.New(*providerURL),
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		ChallengeTTL: *challengeTTL,
	})
	if err != nil {
		log.Fatalf("can't construct server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{
		Addr:     *bind,
		Handler:  internal.RequestID(s),
		ErrorLog: internal.GetFilteredHTTPLogger(),
	}

	slog.Info(
		"listening",
		"bind", *bind,
		"provider-url", *providerURL,
		"store-backend", *storeBackend,
		"challenge-ttl", *challengeTTL,
		"version", sphinx.Version,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{
		Addr:     *metricsBind,
		Handler:  mux,
		ErrorLog: internal.GetFilteredHTTPLogger(),
	}
	slog.Debug("listening for metrics", "bind", *metricsBind)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
