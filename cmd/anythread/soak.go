package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-anythread"
	"github.com/joeycumines/go-anythread/internal/config"
	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errInjected = errors.New("injected failure")

func soakCmd() *cobra.Command {
	var (
		callers      int
		calls        int
		work         string
		failEvery    int
		panicEvery   int
		slowCall     string
		awaitTimeout string
		logLevel     string
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Run concurrent callers against one owner loop",
		Long:  "Run concurrent callers making redirected calls against one owner event loop, validating every result against a sequential model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}

			flags := cmd.Flags()
			if flags.Changed("callers") {
				cfg.Soak.Callers = callers
			}
			if flags.Changed("calls") {
				cfg.Soak.Calls = calls
			}
			if flags.Changed("work") {
				cfg.Soak.Work = work
			}
			if flags.Changed("fail-every") {
				cfg.Soak.FailEvery = failEvery
			}
			if flags.Changed("panic-every") {
				cfg.Soak.PanicEvery = panicEvery
			}
			if flags.Changed("slow-call") {
				cfg.Bridge.SlowCall = slowCall
			}
			if flags.Changed("await-timeout") {
				cfg.Bridge.AwaitTimeout = awaitTimeout
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}

			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			level, _ := config.ParseLevel(cfg.Log.Level)
			logger := newLogger(cmd.ErrOrStderr(), level)

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector())

			if cfg.Metrics.Addr != "" {
				stop := serveMetrics(cfg.Metrics.Addr, registry, logger)
				defer stop()
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rep, err := runSoak(ctx, cfg, logger, registry)
			if rep != nil {
				rep.print(cmd.OutOrStdout())
			}
			return err
		},
	}

	cmd.Flags().IntVar(&callers, "callers", 0, "Number of calling goroutines")
	cmd.Flags().IntVar(&calls, "calls", 0, "Number of calls per caller")
	cmd.Flags().StringVar(&work, "work", "", "Time each call keeps the owner busy")
	cmd.Flags().IntVar(&failEvery, "fail-every", 0, "Make every nth call return an error")
	cmd.Flags().IntVar(&panicEvery, "panic-every", 0, "Make every nth call panic")
	cmd.Flags().StringVar(&slowCall, "slow-call", "", "Warn about calls slower than this")
	cmd.Flags().StringVar(&awaitTimeout, "await-timeout", "", "Give up waiting for the owner after this long")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP listen address for /metrics")

	return cmd
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// serveMetrics serves the registry in the background, returning a function
// that shuts the server down.
func serveMetrics(addr string, registry *prometheus.Registry, logger *logiface.Logger[logiface.Event]) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Log("metrics endpoint started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Err().Err(err).Log("metrics server error")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// ledger is the loop-affine object under test. Each caller deposits into its
// own account, so each caller can predict its balance.
type ledger struct {
	*anythread.EventTarget
	identity   anythread.Identity
	balances   map[int]int
	work       time.Duration
	failEvery  int
	panicEvery int
	calls      int
	offOwner   int
}

type audit struct {
	balances map[int]int
	calls    int
	offOwner int
}

func (l *ledger) enter() {
	l.calls++
	if !l.identity.IsOwner() {
		l.offOwner++
	}
	if l.work > 0 {
		time.Sleep(l.work)
	}
}

// Deposit adds amount to the account, returning the new balance. Amounts
// double as the caller's sequence number, for failure injection.
func (l *ledger) Deposit(account, amount int) (int, error) {
	l.enter()
	if l.panicEvery > 0 && amount%l.panicEvery == 0 {
		panic(fmt.Sprintf("injected panic at %d", amount))
	}
	if l.failEvery > 0 && amount%l.failEvery == 0 {
		return l.balances[account], errInjected
	}
	l.balances[account] += amount
	return l.balances[account], nil
}

func (l *ledger) Audit() (audit, error) {
	balances := make(map[int]int, len(l.balances))
	for k, v := range l.balances {
		balances[k] = v
	}
	return audit{balances: balances, calls: l.calls, offOwner: l.offOwner}, nil
}

type callerStats struct {
	ok, failed, panicked, timedOut, mismatched int
	expected                                   int
	stale                                      bool
	latency, maxLatency                        time.Duration
}

func runSoak(ctx context.Context, cfg config.Config, logger *logiface.Logger[logiface.Event], registry *prometheus.Registry) (*report, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("create loop: %w", err)
	}
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(loopCtx); err != nil {
			logger.Debug().Err(err).Log("event loop stopped")
		}
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	metrics := anythread.NewMetrics(cfg.Metrics.Namespace)
	if registry != nil {
		if err := registry.Register(metrics); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		defer registry.Unregister(metrics)
	}

	bridge, err := anythread.NewBridge(
		anythread.WithLoop(loop),
		anythread.WithLogger(logger),
		anythread.WithMetrics(metrics),
		anythread.WithSlowCallThreshold(cfg.Bridge.SlowCallThreshold()),
	)
	if err != nil {
		return nil, err
	}
	redirector, err := anythread.NewRedirector(bridge, anythread.WithAwaitTimeout(cfg.Bridge.AwaitTimeoutDuration()))
	if err != nil {
		return nil, err
	}
	// audits run without a timeout, so the result reflects every call
	auditor, err := anythread.NewRedirector(bridge)
	if err != nil {
		return nil, err
	}

	l := &ledger{
		EventTarget: bridge.NewTarget(),
		identity:    bridge.Identity(),
		balances:    make(map[int]int),
		work:        cfg.Soak.WorkDuration(),
		failEvery:   cfg.Soak.FailEvery,
		panicEvery:  cfg.Soak.PanicEvery,
	}
	deposit := anythread.Method2(redirector, (*ledger).Deposit)

	logger.Info().
		Int("callers", cfg.Soak.Callers).
		Int("calls", cfg.Soak.Calls).
		Log("soak started")

	start := time.Now()
	stats := make([]callerStats, cfg.Soak.Callers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range stats {
		g.Go(func() error {
			return runCaller(gctx, deposit, l, i, cfg.Soak.Calls, &stats[i])
		})
	}
	runErr := g.Wait()
	elapsed := time.Since(start)

	final, err := anythread.Method(auditor, (*ledger).Audit)(l)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	rep := newReport(stats, final, elapsed)
	logger.Info().
		Int("calls", rep.calls).
		Int("mismatched", rep.mismatched).
		Dur("elapsed", elapsed).
		Log("soak finished")

	if runErr != nil {
		return rep, runErr
	}
	return rep, rep.err()
}

func runCaller(ctx context.Context, deposit func(*ledger, int, int) (int, error), l *ledger, account, calls int, stats *callerStats) error {
	for amount := 1; amount <= calls; amount++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		balance, panicked, err := callDeposit(deposit, l, account, amount)
		latency := time.Since(start)
		stats.latency += latency
		stats.maxLatency = max(stats.maxLatency, latency)

		switch {
		case panicked:
			stats.panicked++
		case errors.Is(err, anythread.ErrAwaitTimeout):
			// the deposit may still be applied later
			stats.timedOut++
			stats.stale = true
		case errors.Is(err, errInjected):
			stats.failed++
			if !stats.stale && balance != stats.expected {
				stats.mismatched++
			}
		case err != nil:
			return fmt.Errorf("caller %d: %w", account, err)
		default:
			stats.ok++
			stats.expected += amount
			if !stats.stale && balance != stats.expected {
				stats.mismatched++
			}
		}
	}
	return nil
}

func callDeposit(deposit func(*ledger, int, int) (int, error), l *ledger, account, amount int) (balance int, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*anythread.RemoteError); !ok {
				panic(r)
			}
			panicked = true
		}
	}()
	balance, err = deposit(l, account, amount)
	return
}

type report struct {
	elapsed                                    time.Duration
	meanLatency, maxLatency                    time.Duration
	calls, ok, failed, panicked, timedOut      int
	mismatched, offOwner, ownerCalls, balances int
}

func newReport(stats []callerStats, final audit, elapsed time.Duration) *report {
	rep := report{
		elapsed:    elapsed,
		offOwner:   final.offOwner,
		ownerCalls: final.calls,
	}
	var total time.Duration
	for account, s := range stats {
		rep.ok += s.ok
		rep.failed += s.failed
		rep.panicked += s.panicked
		rep.timedOut += s.timedOut
		rep.mismatched += s.mismatched
		total += s.latency
		rep.maxLatency = max(rep.maxLatency, s.maxLatency)
		if !s.stale && final.balances[account] != s.expected {
			rep.balances++
		}
	}
	rep.calls = rep.ok + rep.failed + rep.panicked + rep.timedOut
	if rep.calls != 0 {
		rep.meanLatency = total / time.Duration(rep.calls)
	}
	return &rep
}

func (r *report) err() error {
	switch {
	case r.offOwner != 0:
		return fmt.Errorf("%d calls ran off the owner goroutine", r.offOwner)
	case r.mismatched != 0:
		return fmt.Errorf("%d results did not match the sequential model", r.mismatched)
	case r.balances != 0:
		return fmt.Errorf("%d final balances did not match the sequential model", r.balances)
	case r.timedOut == 0 && r.ownerCalls != r.calls:
		return fmt.Errorf("owner processed %d calls, callers made %d", r.ownerCalls, r.calls)
	}
	return nil
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "calls:        %d (%d ok, %d failed, %d panicked, %d timed out)\n", r.calls, r.ok, r.failed, r.panicked, r.timedOut)
	fmt.Fprintf(w, "owner calls:  %d (%d off owner)\n", r.ownerCalls, r.offOwner)
	fmt.Fprintf(w, "mismatches:   %d results, %d balances\n", r.mismatched, r.balances)
	fmt.Fprintf(w, "elapsed:      %s\n", r.elapsed)
	if r.elapsed > 0 {
		fmt.Fprintf(w, "throughput:   %.0f calls/s\n", float64(r.calls)/r.elapsed.Seconds())
	}
	fmt.Fprintf(w, "latency:      mean %s, max %s\n", r.meanLatency, r.maxLatency)
}
