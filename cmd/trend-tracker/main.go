package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/adapters/stream"
	appconfig "github.com/DanielDeenik/sustainatrend-tracker/internal/config"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/services"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/render"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(logger); err != nil {
		logger.Error("tracker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := appconfig.Load()

	var (
		kernelURL = flag.String("kernel", cfg.KernelURL, "base URL of the analysis kernel")
		document  = flag.String("document", "sustainability-report.pdf", "document to analyse")
		offline   = flag.Bool("offline", false, "skip submission and run the simulated analysis locally")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID, err := submit(ctx, *kernelURL, *document, *offline)
	if err != nil {
		return err
	}
	fmt.Printf("Tracking analysis of %s (job %s)\n", filepath.Base(*document), jobID)

	opts := []services.TrackerOption{
		services.WithSinks(render.NewConsole(os.Stdout)),
	}
	if !*offline {
		opts = append(opts, services.WithLiveSource(stream.NewClient(logger, *kernelURL)))
	}
	tracker := services.NewTracker(logger, opts...)
	tracker.Start(ctx, jobID)

	// First interrupt cancels tracking; tracking also ends on its own once
	// the job reaches a terminal state.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		tracker.Cancel()
	case <-tracker.Done():
	}

	snap := tracker.Snapshot()
	fmt.Printf("Finished: %s at %d%%\n", snap.Status, snap.Percent)
	return nil
}

// submit registers the document with the kernel and returns the job ID to
// track. In offline mode a local ID is generated and the tracker's fallback
// simulation drives the whole run.
func submit(ctx context.Context, kernelURL, document string, offline bool) (domain.JobID, error) {
	if offline {
		return domain.JobID(uuid.NewString()), nil
	}

	body, err := json.Marshal(map[string]string{"filename": filepath.Base(document)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, kernelURL+"/v1/documents", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("submit document: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		JobID domain.JobID `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return out.JobID, nil
}
