/*
Command httpbatchserver is a demo serving harness around the batcher
library: it accepts one JSON request body per HTTP POST, batches concurrent
requests together, forwards the batch as a JSON array to a backend, and
returns each caller its own element of the backend's JSON array response.

It is kept as an example binary rather than part of the library: serving
traffic over HTTP is not the coordinator's concern, but this is exactly
where the coordinator's ambient stack (structured logging, prometheus
metrics, connection limiting) gets exercised end to end.
*/
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/mingruimingrui/gobatch"
)

var (
	addr        string
	backendAddr string
	metricsAddr string

	maxBatchSize int
	batchTimeout time.Duration
	idleTimeout  time.Duration

	maxConcurrentConns int

	logger         *zap.Logger
	requestBatcher *batcher.Batcher[[]byte, []byte]
)

// parseArgs parses flags from os.Args, with an optional BATCHER_CMD_ARGS
// environment variable appended for container deployments that prefer
// setting arguments via env rather than a command line.
func parseArgs() {
	addrPtr := flag.String("bind", "0.0.0.0:8000", "Address to bind the service.")
	backendPtr := flag.String("backend", "", "Address of backend service.")
	metricsPtr := flag.String("metrics-bind", "0.0.0.0:9000", "Address to serve /metrics on.")

	maxBatchSizePtr := flag.Int("max-batch-size", 32, "Maximum size of each batch.")
	batchTimeoutMillisPtr := flag.Int("batch-timeout-millis", 10, "Maximum wait time before a batch is dispatched.")
	idleTimeoutMillisPtr := flag.Int("idle-timeout-millis", 60000, "Maximum wait time for a response before a caller gives up.")
	maxConcurrentConnsPtr := flag.Int("max-concurrent-conns", 1024, "Maximum number of clients connected to this service at a time.")

	argv := os.Args[1:]
	if extra := os.Getenv("BATCHER_CMD_ARGS"); extra != "" {
		argv = append(argv, strings.Split(extra, " ")...)
	}
	flag.CommandLine.Parse(argv)

	addr = *addrPtr
	backendAddr = *backendPtr
	metricsAddr = *metricsPtr

	if backendAddr == "" {
		logger.Fatal("-backend must be provided")
	}

	maxBatchSize = *maxBatchSizePtr
	batchTimeout = time.Duration(*batchTimeoutMillisPtr) * time.Millisecond
	idleTimeout = time.Duration(*idleTimeoutMillisPtr) * time.Millisecond

	if batchTimeout >= idleTimeout {
		logger.Fatal("batch timeout must be shorter than idle timeout",
			zap.Duration("batch_timeout", batchTimeout),
			zap.Duration("idle_timeout", idleTimeout),
		)
	}

	maxConcurrentConns = *maxConcurrentConnsPtr

	logger.Info("configured",
		zap.String("bind", addr),
		zap.String("backend", backendAddr),
		zap.Int("max_batch_size", maxBatchSize),
		zap.Duration("batch_timeout", batchTimeout),
		zap.Duration("idle_timeout", idleTimeout),
		zap.Int("max_concurrent_conns", maxConcurrentConns),
	)
}

// sendBatch packs a batch of raw JSON bodies into a JSON array, posts it to
// the backend, and unpacks the JSON array response back into per-request
// raw bodies.
func sendBatch(ctx context.Context, bodies [][]byte) ([][]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte('[')
	for i, body := range bodies {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(body)
	}
	buf.WriteByte(']')

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backendAddr, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	parsed, err := jason.NewValueFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	arr, err := parsed.Array()
	if err != nil {
		return nil, err
	}
	if len(arr) != len(bodies) {
		return nil, fmt.Errorf("backend returned %d results for %d requests", len(arr), len(bodies))
	}

	out := make([][]byte, len(arr))
	for i, v := range arr {
		raw, err := v.Marshal()
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fmt.Fprintf(w, "batcher for %v\n", backendAddr)
		return
	}

	parsed, err := jason.NewValueFromReader(r.Body)
	if err != nil {
		http.Error(w, "expecting request body in JSON format", http.StatusBadRequest)
		return
	}
	body, err := parsed.Marshal()
	if err != nil {
		http.Error(w, "error converting JSON body into bytes", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), idleTimeout)
	defer cancel()

	res, err := requestBatcher.Call(ctx, body)
	if err != nil {
		status := http.StatusBadGateway
		if ctx.Err() != nil {
			status = http.StatusRequestTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Write(res)
}

func main() {
	logger, _ = zap.NewProduction()
	defer logger.Sync()

	parseArgs()

	var err error
	requestBatcher, err = batcher.New[[]byte, []byte](
		sendBatch,
		batcher.WithMaxBatchSize(maxBatchSize),
		batcher.WithBatchWaitTimeout(batchTimeout),
		batcher.WithLogger(logger),
		batcher.WithName("http-batch-server"),
	)
	if err != nil {
		logger.Fatal("failed to construct batcher", zap.Error(err))
	}
	defer requestBatcher.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", rootHandler)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info("serving metrics", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	server := http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  idleTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to bind", zap.Error(err))
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, maxConcurrentConns)

	logger.Info("serving", zap.String("addr", addr))
	logger.Fatal("server stopped", zap.Error(server.Serve(listener)))
}
