package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/gtm/internal/config"
	"github.com/your-org/gtm/internal/models"
	"github.com/your-org/gtm/internal/observability"
	"github.com/your-org/gtm/internal/queue"
	"github.com/your-org/gtm/internal/reid"
	"github.com/your-org/gtm/internal/storage"
	"github.com/your-org/gtm/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting GTM vision worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// The Global Track Manager is an in-memory, single-process library; this
	// worker owns the one instance, and also serves its read-only queries
	// over HTTP (see the metrics endpoint goroutine below) since the gin
	// API process has no access to this Manager value.
	reidMgr, err := reid.NewManager(cfg.ReID.ToReIDConfig(), slog.Default())
	if err != nil {
		slog.Error("init reid manager", "error", err)
		os.Exit(1)
	}

	// Initialize vision pipeline
	pipeline, err := vision.NewPipeline(cfg.Vision, cfg.Tracking, reidMgr, db, minioStore, producer)
	if err != nil {
		slog.Error("init vision pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	slog.Info("vision pipeline initialized")

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming frame tasks
	err = consumer.ConsumeFrames(ctx, "vision-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.FrameTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal frame task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := pipeline.ProcessFrame(ctx, task); err != nil {
			return fmt.Errorf("process frame %s: %w", task.FrameID, err)
		}

		return nil
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	// Metrics + GTM read-query endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		mux.HandleFunc("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, reidMgr.Statistics())
		})
		mux.HandleFunc("/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, reidMgr.ExportSnapshot())
		})
		mux.HandleFunc("/v1/tracks/", func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimPrefix(r.URL.Path, "/v1/tracks/")
			for _, t := range reidMgr.ExportSnapshot().Tracks {
				if t.GlobalID == id {
					writeJSON(w, t)
					return
				}
			}
			http.Error(w, `{"error":"track not found"}`, http.StatusNotFound)
		})
		mux.HandleFunc("/v1/cameras/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.TrimPrefix(r.URL.Path, "/v1/cameras/")
			cameraIDStr := strings.TrimSuffix(rest, "/tracks")
			cameraID, err := strconv.Atoi(cameraIDStr)
			if err != nil {
				http.Error(w, `{"error":"invalid camera_id"}`, http.StatusBadRequest)
				return
			}
			writeJSON(w, reidMgr.GetCameraTracks(cameraID))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Periodically mirror GTM counters into Prometheus gauges.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := reidMgr.Statistics()
				observability.GTMTotalDetections.Set(float64(stats.TotalDetections))
				observability.GTMCrossCameraAssociations.Set(float64(stats.CrossCameraAssociations))
				observability.GTMNewTracksCreated.Set(float64(stats.NewTracksCreated))
				observability.GTMTracksTimeout.Set(float64(stats.TracksTimeout))
				observability.GTMErrors.Set(float64(stats.Errors))
				observability.GTMActiveTracks.Set(float64(stats.ActiveTracks))
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode json response", "error", err)
	}
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
