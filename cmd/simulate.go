package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/store-locator/internal/config"
	"github.com/sells-group/store-locator/internal/geolocation"
	"github.com/sells-group/store-locator/internal/locator"
	"github.com/sells-group/store-locator/internal/mapsdk/memsdk"
	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/model"
	"github.com/sells-group/store-locator/internal/resilience"
	"github.com/sells-group/store-locator/internal/resource/memdoc"
	"github.com/sells-group/store-locator/internal/storedb"
	"github.com/sells-group/store-locator/internal/storesync"
	"github.com/sells-group/store-locator/pkg/lottoapi"
)

var (
	simulateScenario string
	simulateLocal    bool
)

const defaultSettle = 500 * time.Millisecond

// Permission answers a scenario can give to the location request.
const (
	scenarioGranted     = "granted"
	scenarioDenied      = "denied"
	scenarioUnavailable = "unavailable"
)

// scenario is a scripted map session.
type scenario struct {
	Permission   string         `yaml:"permission"`
	Position     model.LatLng   `yaml:"position"`
	Accuracy     float64        `yaml:"accuracy"`
	DisplayWidth int            `yaml:"display_width"`
	Settle       time.Duration  `yaml:"settle"`
	Steps        []scenarioStep `yaml:"steps"`
}

// scenarioStep is one user action. Exactly one field is set.
type scenarioStep struct {
	Drag  *model.LatLng `yaml:"drag"`
	Zoom  float64       `yaml:"zoom"`
	Move  *model.LatLng `yaml:"move"`
	Grant *model.LatLng `yaml:"grant"`
	Wait  time.Duration `yaml:"wait"`
}

func (st scenarioStep) actions() int {
	n := 0
	if st.Drag != nil {
		n++
	}
	if st.Zoom > 0 {
		n++
	}
	if st.Move != nil {
		n++
	}
	if st.Grant != nil {
		n++
	}
	if st.Wait > 0 {
		n++
	}
	return n
}

// loadScenario reads and checks a scenario file.
func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "simulate: read %s", path)
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (*scenario, error) {
	var sc scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, eris.Wrap(err, "simulate: parse scenario")
	}

	switch sc.Permission {
	case "":
		sc.Permission = scenarioGranted
	case scenarioGranted, scenarioDenied, scenarioUnavailable:
	default:
		return nil, eris.Errorf("simulate: unknown permission %q", sc.Permission)
	}
	if sc.Permission == scenarioGranted && sc.Position.IsZero() {
		return nil, eris.New("simulate: granted scenario needs a position")
	}
	if sc.DisplayWidth <= 0 {
		sc.DisplayWidth = 1280
	}
	if sc.Settle <= 0 {
		sc.Settle = defaultSettle
	}
	for i, st := range sc.Steps {
		if st.actions() != 1 {
			return nil, eris.Errorf("simulate: step %d must set exactly one action", i)
		}
	}
	return &sc, nil
}

func (sc *scenario) newLocator() *geolocation.StaticLocator {
	switch sc.Permission {
	case scenarioDenied:
		return geolocation.NewDeniedLocator()
	case scenarioUnavailable:
		return geolocation.NewStaticLocator(geolocation.Position{Timestamp: time.Now()})
	default:
		return geolocation.NewStaticLocator(geolocation.Position{
			Coords:    sc.Position,
			Accuracy:  sc.Accuracy,
			Timestamp: time.Now(),
		})
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// sessionOptions maps config onto a session for a display width.
func sessionOptions(c *config.Config, displayWidth int) locator.Options {
	geo := geolocation.DefaultOptions()
	geo.Zoom = c.Geolocation.Zoom
	if c.Geolocation.TimeoutSecs > 0 {
		geo.OneShot.Timeout = secs(c.Geolocation.TimeoutSecs)
	}
	if c.Geolocation.MaximumAgeSecs > 0 {
		geo.OneShot.MaximumAge = secs(c.Geolocation.MaximumAgeSecs)
	}
	if c.Geolocation.WatchTimeoutSecs > 0 {
		geo.Watch.Timeout = secs(c.Geolocation.WatchTimeoutSecs)
	}
	geo.FormFactor = func() model.FormFactor { return model.ClassifyWidth(displayWidth) }

	return locator.Options{
		Mount:           c.Map.Mount,
		Scripts:         model.DefaultMapScripts(c.Map.ClientID),
		ResourceTimeout: secs(c.Map.ResourceTimeoutSecs),
		FetchTimeout:    secs(c.Sync.FetchTimeoutSecs),
		Geolocation:     geo,
	}
}

// newStoreClient builds the HTTP search client with the configured
// resilience policy.
func newStoreClient(ac config.APIConfig) lottoapi.Client {
	return lottoapi.NewClient(
		lottoapi.WithBaseURL(ac.BaseURL),
		lottoapi.WithHTTPClient(&http.Client{Timeout: secs(ac.TimeoutSecs)}),
		lottoapi.WithRateLimit(ac.RateLimit),
		lottoapi.WithRetry(resilience.FromConfig(ac.MaxAttempts, ac.InitialBackoffMs, ac.MaxBackoffMs)),
		lottoapi.WithCircuitBreaker(resilience.BreakerFromConfig(ac.BreakerThreshold, ac.BreakerResetSecs)),
	)
}

// localFetcher answers searches straight from the store database.
type localFetcher struct {
	st    storedb.Store
	limit int
}

func (f localFetcher) Stores(ctx context.Context, q model.BoundsQuery) ([]model.StoreRecord, error) {
	return f.st.StoresInBounds(ctx, q, f.limit)
}

// runScenario plays sc against a fresh in-memory session and returns the
// session state once the last step has settled.
func runScenario(ctx context.Context, c *config.Config, sc *scenario, fetcher storesync.Fetcher, m *metrics.Metrics) (locator.Snapshot, error) {
	loc := sc.newLocator()
	session := locator.New(locator.Deps{
		SDK:      memsdk.New(c.Map.ViewportWidth, c.Map.ViewportHeight),
		Document: memdoc.New(memdoc.LoadAsync),
		Locator:  loc,
		Fetcher:  fetcher,
		Metrics:  m,
	}, sessionOptions(c, sc.DisplayWidth))

	log := zap.L().With(zap.String("component", "simulate"), zap.String("session_id", session.ID()))

	var snap locator.Snapshot
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		if err := session.Start(gctx); err != nil {
			return err
		}
		for i, st := range sc.Steps {
			if err := applyStep(gctx, session, loc, st, sc.Accuracy); err != nil {
				return eris.Wrapf(err, "simulate: step %d", i)
			}
			log.Debug("step applied", zap.Int("step", i))
		}
		if err := sleepCtx(gctx, sc.Settle); err != nil {
			return err
		}
		snap = session.Snapshot()
		return nil
	})

	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
		}
		session.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return locator.Snapshot{}, err
	}
	log.Info("scenario complete",
		zap.Stringer("permission", snap.Permission),
		zap.Int("markers", snap.Markers),
	)
	return snap, nil
}

func applyStep(ctx context.Context, session *locator.Session, loc *geolocation.StaticLocator, st scenarioStep, accuracy float64) error {
	switch {
	case st.Wait > 0:
		return sleepCtx(ctx, st.Wait)
	case st.Move != nil:
		loc.Push(geolocation.Position{Coords: *st.Move, Accuracy: accuracy, Timestamp: time.Now()})
		return nil
	case st.Grant != nil:
		loc.SetResult(geolocation.Position{Coords: *st.Grant, Accuracy: accuracy, Timestamp: time.Now()}, nil)
		return session.Retry(ctx)
	}

	mp, ok := session.Map().(*memsdk.Map)
	if !ok {
		zap.L().Warn("simulate: no map, skipping step")
		return nil
	}
	if st.Drag != nil {
		mp.Drag(*st.Drag)
	} else {
		mp.SetZoom(st.Zoom)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func writeSnapshot(w io.Writer, snap locator.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return eris.Wrap(err, "simulate: write snapshot")
	}
	return nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a scripted map session headlessly",
	Long: "Runs the locator session against an in-memory map, driving the drags, " +
		"zooms and location updates listed in a YAML scenario, and prints the final state as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("simulate"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sc, err := loadScenario(simulateScenario)
		if err != nil {
			return err
		}

		var fetcher storesync.Fetcher
		if simulateLocal {
			if err := cfg.Validate("seed"); err != nil {
				return err
			}
			st, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			fetcher = localFetcher{st: st, limit: cfg.Store.MaxResults}
		} else {
			fetcher = newStoreClient(cfg.API)
		}

		snap, err := runScenario(ctx, cfg, sc, fetcher, metrics.New())
		if err != nil {
			return err
		}
		return writeSnapshot(cmd.OutOrStdout(), snap)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateScenario, "scenario", "", "path to scenario YAML file (required)")
	simulateCmd.Flags().BoolVar(&simulateLocal, "local", false, "query the store database directly instead of the HTTP endpoint")
	_ = simulateCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(simulateCmd)
}
