package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	TargetURL       string
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	Requests        int
	Days            int
	BaseDate        string
	CacheBypass     bool
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8080/api/v1/pivot", "pivot endpoint URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.2, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.Requests, "requests", 256, "Distinct pivot requests in pool")
	flag.IntVar(&cfg.Days, "days", 5, "Trade dates spread over, counting back from -base-date")
	flag.StringVar(&cfg.BaseDate, "base-date", "2024-01-15", "Most recent trade date (YYYY-MM-DD)")
	flag.BoolVar(&cfg.CacheBypass, "cache-bypass", false, "Send cache_bypass=true on every request")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/pivot", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 30*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.Parse()
	return cfg
}

// one sample per request
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	Index     int
	Cached    bool
	Rows      int
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	CachedCount   int64     `json:"cached"`
	CachedRatio   float64   `json:"cached_ratio"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Requests      int       `json:"requests"`
	CacheBypass   bool      `json:"cache_bypass"`
	TargetURL     string    `json:"target"`
}

type aggregatedResult struct {
	total   int64
	success int64
	errors  int64
	cached  int64
	latMs   []float64
}

type pivotReply struct {
	Data     []json.RawMessage `json:"data"`
	Metadata struct {
		Cached bool `json:"cached"`
	} `json:"metadata"`
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	base, err := time.Parse(time.DateOnly, cfg.BaseDate)
	if err != nil {
		log.Fatalf("invalid -base-date: %v", err)
	}

	seed := time.Now().UnixNano()
	pool, err := makeWorkload(cfg.Requests, cfg.Days, base, rand.New(rand.NewSource(seed)))
	if err != nil {
		log.Fatal(err)
	}
	if len(pool) == 0 {
		log.Fatalf("no requests generated")
	}
	if cfg.CacheBypass {
		for i, b := range pool {
			pool[i] = withBypass(b)
		}
	}
	imax := uint64(len(pool)) - 1

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "error", "request_idx", "cached", "rows"})
		var agg aggregatedResult
		agg.latMs = make([]float64, 0, 1<<16)
		for s := range samplesChan {
			agg.total++
			if s.ErrorMsg == "" && s.Status >= 200 && s.Status < 300 {
				agg.success++
				if s.Cached {
					agg.cached++
				}
				agg.latMs = append(agg.latMs, float64(s.Latency.Microseconds())/1000.0)
			} else {
				agg.errors++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				strconv.Itoa(s.Status),
				s.ErrorMsg,
				strconv.Itoa(s.Index),
				strconv.FormatBool(s.Cached),
				strconv.Itoa(s.Rows),
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- agg
	}()

	startTime := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) requests=%d bypass=%v",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(pool), cfg.CacheBypass)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()
			zipfDist := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				v := zipfDist.Uint64()
				if v > uint64(math.MaxInt) || int(v) >= len(pool) {
					continue
				}
				idx := int(v)

				result := send(ctx, httpClient, cfg.TargetURL, pool[idx])
				result.Index = idx

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	agg := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		CachedCount:   agg.cached,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         percentile(agg.latMs, 50),
		P95Ms:         percentile(agg.latMs, 95),
		P99Ms:         percentile(agg.latMs, 99),
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Requests:      len(pool),
		CacheBypass:   cfg.CacheBypass,
		TargetURL:     cfg.TargetURL,
	}
	if agg.success > 0 {
		runSummary.CachedRatio = float64(agg.cached) / float64(agg.success)
	}

	if jsonFile, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d cached=%.1f%% thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		agg.total, agg.success, agg.errors, runSummary.CachedRatio*100, runSummary.ThroughputRPS,
		runSummary.P50Ms, runSummary.P95Ms, runSummary.P99Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func send(ctx context.Context, c *http.Client, target string, body []byte) sample {
	start := time.Now()
	s := sample{Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		s.Latency = time.Since(start)
		s.ErrorMsg = err.Error()
		return s
	}
	defer func() { _ = resp.Body.Close() }()

	s.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.Latency = time.Since(start)
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
		return s
	}
	var reply pivotReply
	err = json.NewDecoder(resp.Body).Decode(&reply)
	s.Latency = time.Since(start)
	if err != nil {
		s.ErrorMsg = "decode: " + strings.TrimSpace(err.Error())
		return s
	}
	s.Cached = reply.Metadata.Cached
	s.Rows = len(reply.Data)
	return s
}

func withBypass(body []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return body
	}
	m["cache_bypass"] = json.RawMessage("true")
	b, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return b
}
