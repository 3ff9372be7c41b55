package kv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/kvcore/cmd/util"
	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/rpc/client"
	"github.com/ValentinKolb/kvcore/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for clusters",
		Long:    "Runs a set of workloads against the cluster with parallel workers and reports the latency of every workload. The request rate can be limited with --rate.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfDuration         = 5 * time.Second
	perfRate             = 0.0
	perfSkip             = make([]string, 0)
	perfRegistry         = gometrics.NewRegistry()
)

// percentiles reported for every workload
var perfPercentiles = []float64{0.5, 0.9, 0.99}

// workload is one benchmark. setup and cleanup run once, op runs in parallel
// with the index of the operation of its worker.
type workload struct {
	name    string
	setup   func(ctx context.Context, keys []string) error
	op      func(ctx context.Context, keys []string, i int) error
	cleanup func(ctx context.Context, keys []string)
}

// perfResult is the outcome of one workload
type perfResult struct {
	name     string
	skipped  bool
	count    int64
	errors   int64
	mean     time.Duration
	pcts     []float64
	max      time.Duration
	duration time.Duration
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Workloads to skip (comma separated - e.g. upsert,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of parallel workers"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the upsert-large workload should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the workloads"))
	key = "duration"
	perfTestCmd.Flags().Duration(key, 5*time.Second, util.WrapString("How long every workload runs"))
	key = "rate"
	perfTestCmd.Flags().Float64(key, 0, util.WrapString("Maximum requests per second over all workers (0 = unlimited)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfDuration = viper.GetDuration("duration")
	perfRate = viper.GetFloat64("rate")
	perfSkip = util.SplitList(viper.GetString("skip"))

	if perfKeySpread <= 0 {
		return fmt.Errorf("keys must be positive, got %d", perfKeySpread)
	}
	if perfNumThreads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", perfNumThreads)
	}
	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for clusters")

	// Print configuration
	config := util.GetClientConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, Duration: %s, Rate: %s\n", perfNumThreads, perfDuration, rateString())
	fmt.Println()

	fmt.Println("starting workloads...")

	results := make([]perfResult, 0)
	for _, w := range workloads() {
		res := runWorkload(cmd.Context(), w)
		printResult(res)
		results = append(results, res)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Workloads
// --------------------------------------------------------------------------

func workloads() []workload {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	majority := &client.Options{Durability: kv.DurabilityMajority}

	upsertAll := func(v []byte) func(ctx context.Context, keys []string) error {
		return func(ctx context.Context, keys []string) error {
			for _, k := range keys {
				if _, err := collection.Upsert(ctx, k, v, nil); err != nil {
					return err
				}
			}
			return nil
		}
	}
	removeAll := func(ctx context.Context, keys []string) {
		for _, k := range keys {
			if _, err := collection.Remove(ctx, k, nil); err != nil && !errors.Is(err, kv.ErrDocumentNotFound) {
				fmt.Printf("(cleanup) - error removing key %s: %v\n", k, err)
			}
		}
	}

	return []workload{
		{
			name: "upsert",
			op: func(ctx context.Context, keys []string, i int) error {
				_, err := collection.Upsert(ctx, keys[i%len(keys)], value, nil)
				return err
			},
			cleanup: removeAll,
		},
		{
			name: "upsert-large",
			op: func(ctx context.Context, keys []string, i int) error {
				_, err := collection.Upsert(ctx, keys[i%len(keys)], largeValue, nil)
				return err
			},
			cleanup: removeAll,
		},
		{
			name: "upsert-majority",
			op: func(ctx context.Context, keys []string, i int) error {
				_, err := collection.Upsert(ctx, keys[i%len(keys)], value, majority)
				return err
			},
			cleanup: removeAll,
		},
		{
			name:  "get",
			setup: upsertAll(value),
			op: func(ctx context.Context, keys []string, i int) error {
				_, err := collection.Get(ctx, keys[i%len(keys)], nil)
				return err
			},
			cleanup: removeAll,
		},
		{
			name: "get-missing",
			op: func(ctx context.Context, keys []string, i int) error {
				_, err := collection.Get(ctx, keys[i%len(keys)], nil)
				if errors.Is(err, kv.ErrDocumentNotFound) {
					return nil
				}
				return err
			},
		},
		{
			name: "incr",
			op: func(ctx context.Context, keys []string, i int) error {
				initial := uint64(0)
				_, err := collection.Increment(ctx, keys[i%len(keys)], 1, &initial, nil)
				return err
			},
			cleanup: removeAll,
		},
		{
			name:  "mixed",
			setup: upsertAll(value),
			op: func(ctx context.Context, keys []string, i int) error {
				key := keys[i%len(keys)]
				var err error
				switch i % 4 {
				case 0:
					_, err = collection.Upsert(ctx, key, value, nil)
				case 1:
					_, err = collection.Get(ctx, key, nil)
				case 2:
					_, err = collection.Append(ctx, key, value, nil)
				case 3:
					_, err = collection.Replace(ctx, key, value, nil)
				}
				return err
			},
			cleanup: removeAll,
		},
	}
}

// runWorkload runs w with perfNumThreads workers for perfDuration and records
// the latency of every operation in a timer of the perf registry
func runWorkload(ctx context.Context, w workload) perfResult {
	if shouldSkip(w.name) {
		return perfResult{name: w.name, skipped: true}
	}

	keys := getKeys(w.name)
	if w.setup != nil {
		if err := w.setup(ctx, keys); err != nil {
			fmt.Printf("(%s) - setup failed: %v\n", w.name, err)
			return perfResult{name: w.name, skipped: true}
		}
	}
	if w.cleanup != nil {
		defer w.cleanup(context.WithoutCancel(ctx), keys)
	}

	timer := gometrics.GetOrRegisterTimer(w.name+".latency", perfRegistry)
	errCount := gometrics.GetOrRegisterCounter(w.name+".errors", perfRegistry)
	limiter := newLimiter()

	runCtx, cancel := context.WithTimeout(ctx, perfDuration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for worker := 0; worker < perfNumThreads; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; ; i += perfNumThreads {
				if err := limiter.Wait(runCtx); err != nil {
					return
				}
				opStart := time.Now()
				err := w.op(runCtx, keys, i)
				if runCtx.Err() != nil {
					return
				}
				timer.UpdateSince(opStart)
				if err != nil {
					errCount.Inc(1)
				}
			}
		}(worker)
	}
	wg.Wait()

	snapshot := timer.Snapshot()
	return perfResult{
		name:     w.name,
		count:    snapshot.Count(),
		errors:   errCount.Count(),
		mean:     time.Duration(snapshot.Mean()),
		pcts:     snapshot.Percentiles(perfPercentiles),
		max:      time.Duration(snapshot.Max()),
		duration: time.Since(start),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func newLimiter() *rate.Limiter {
	if perfRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perfRate), max(1, perfNumThreads))
}

func rateString() string {
	if perfRate <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%.0f/s", perfRate)
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a workload
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

func (r perfResult) opsPerSec() float64 {
	if r.duration <= 0 {
		return 0
	}
	return float64(r.count) / r.duration.Seconds()
}

// printResult prints the result of a workload in a formatted way
func printResult(r perfResult) {
	if r.skipped {
		fmt.Printf("%-20sskipped\n", r.name)
		return
	}

	fmt.Printf("%-20s%8d ops\t%.0f ops/sec\tmean=%s p50=%s p90=%s p99=%s max=%s\terrors=%d\n",
		r.name, r.count, r.opsPerSec(), r.mean,
		time.Duration(r.pcts[0]), time.Duration(r.pcts[1]), time.Duration(r.pcts[2]),
		r.max, r.errors)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Ops", "Errors", "OpsPerSec", "MeanNs", "P50Ns", "P90Ns", "P99Ns", "MaxNs", "Skipped",
		"Endpoints", "Timeout", "MaxAttempts", "ConnectionsPerEndpoint",
		"Serializer", "Transport",
		"Threads", "Rate", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		pcts := []string{"0", "0", "0"}
		if !r.skipped {
			for i, p := range r.pcts {
				pcts[i] = fmt.Sprintf("%.0f", p)
			}
		}

		row := []string{
			r.name,
			strconv.FormatInt(r.count, 10),
			strconv.FormatInt(r.errors, 10),
			fmt.Sprintf("%.0f", r.opsPerSec()),
			strconv.FormatInt(int64(r.mean), 10),
			pcts[0], pcts[1], pcts[2],
			strconv.FormatInt(int64(r.max), 10),
			strconv.FormatBool(r.skipped),
			strings.Join(config.Transport.Endpoints, ";"),
			config.Timeout.String(),
			strconv.Itoa(config.Retry.MaxAttempts),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			rateString(),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}

	return nil
}
