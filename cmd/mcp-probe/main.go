// mcp-probe exercises a remote MCP tool server over one or all of the three
// supported transports and reports whether each protocol step behaved. It
// replaces a pile of per-transport throwaway scripts with one binary built
// on the shared correlation engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-client-go/client"
	"github.com/ggoodman/mcp-client-go/mcp"
	"github.com/ggoodman/mcp-client-go/sse"
	"github.com/ggoodman/mcp-client-go/stdio"
	"github.com/ggoodman/mcp-client-go/streaminghttp"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-probe: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runID := uuid.NewString()
	log.Info("probe starting", slog.String("run_id", runID), slog.String("transport", cfg.Transport))

	transports := []string{cfg.Transport}
	if cfg.Transport == "all" {
		transports = []string{"stdio", "sse", "streaminghttp"}
	}

	failed := 0
	for _, name := range transports {
		results, err := probeTransport(ctx, log, cfg, name)
		if err != nil {
			fmt.Printf("%-14s FAIL  %v\n", name, err)
			failed++
			continue
		}
		for _, r := range results {
			status := "ok"
			if r.err != nil {
				status = "FAIL"
				failed++
			}
			fmt.Printf("%-14s %-24s %-4s %8s", name, r.step, status, r.elapsed.Round(time.Millisecond))
			if r.err != nil {
				fmt.Printf("  %v", r.err)
			}
			fmt.Println()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d step(s) failed", failed)
	}
	return nil
}

func probeTransport(ctx context.Context, log *slog.Logger, cfg *config, name string) ([]stepResult, error) {
	clientInfo := mcp.ImplementationInfo{
		Name:    "mcp-probe",
		Version: "0.1.0",
	}

	var (
		transport     client.Transport
		needInit      bool
		needHealth    bool
		handshakeInit *streaminghttp.Transport
	)

	switch name {
	case "stdio":
		transport = stdio.NewTransport(cfg.ServerCommand,
			stdio.WithArgs("--transport", "stdio"),
			stdio.WithLogger(log),
		)
		needInit = true
	case "sse":
		transport = sse.NewTransport(cfg.BaseURL, sse.WithLogger(log))
		needInit = true
		needHealth = true
	case "streaminghttp":
		t := streaminghttp.NewTransport(cfg.BaseURL,
			streaminghttp.WithLogger(log),
			streaminghttp.WithClientInfo(clientInfo),
		)
		transport = t
		handshakeInit = t
		needHealth = true
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}

	if needHealth {
		if err := awaitHealthy(ctx, cfg.BaseURL, cfg.HealthTimeout); err != nil {
			return nil, err
		}
	}

	c := client.New(transport,
		client.WithLogger(log),
		client.WithHandshakeTimeout(cfg.HandshakeTimeout),
		client.WithCallTimeout(cfg.CallTimeout),
		client.WithPollInterval(cfg.PollInterval),
	)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	defer c.Close()

	return runSuite(ctx, c, suiteOptions{
		clientInfo:    clientInfo,
		sendInit:      needInit,
		handshakeInit: handshakeInit,
	}), nil
}

// awaitHealthy polls the server's health endpoint until it answers 200 or
// the timeout elapses, mirroring how the server's own start scripts gate on
// readiness.
func awaitHealthy(ctx context.Context, baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := baseURL + "/health"
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("server not healthy at %s: %w", url, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}
