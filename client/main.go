package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"supportchat/client/generator"
	"supportchat/client/metrics"
	"supportchat/client/pool"
)

func main() {
	host := flag.String("host", "localhost:8080", "Relay host:port")
	workers := flag.Int("workers", 32, "Number of worker goroutines")
	totalMessages := flag.Int("messages", 50000, "Total number of messages to send")
	users := flag.Int("users", 1000, "Number of simulated users")
	admins := flag.String("admins", "", "Comma-separated admin identities for replies")
	adminRatio := flag.Float64("admin-ratio", 0.2, "Share of messages sent as admin replies")
	warmup := flag.Int("warmup", 1000, "Messages to send before measuring (0 disables)")
	csvPath := flag.String("csv", "results.csv", "Per-message CSV output")
	chartPath := flag.String("chart", "", "Optional throughput chart HTML output")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	var adminIDs []string
	for _, id := range strings.Split(*admins, ",") {
		if id = strings.TrimSpace(id); id != "" {
			adminIDs = append(adminIDs, id)
		}
	}

	fmt.Printf("Starting client with host=%s, workers=%d, messages=%d, users=%d, admins=%d\n",
		*host, *workers, *totalMessages, *users, len(adminIDs))

	if *warmup > 0 {
		fmt.Println("\n--- Starting Warmup Phase ---")
		if _, err := runPhase(*host, *workers, generator.Options{TotalMessages: *warmup, Users: *workers}, os.DevNull, logger); err != nil {
			fail(err)
		}
		fmt.Println("--- Warmup Complete ---")
	}

	fmt.Println("\n--- Starting Main Phase ---")
	opts := generator.Options{
		TotalMessages: *totalMessages,
		Users:         *users,
		AdminIDs:      adminIDs,
		AdminRatio:    *adminRatio,
	}
	start := time.Now()
	collector, err := runPhase(*host, *workers, opts, *csvPath, logger)
	if err != nil {
		fail(err)
	}
	duration := time.Since(start)

	fmt.Println("--- Main Phase Complete ---")
	collector.PrintSummary(os.Stdout)
	fmt.Printf("Wall Time: %.2f seconds\n", duration.Seconds())

	if *chartPath != "" {
		f, err := os.Create(*chartPath)
		if err != nil {
			fail(err)
		}
		defer f.Close()
		if err := collector.GenerateChart(f); err != nil {
			fail(err)
		}
	}
}

func runPhase(host string, workers int, opts generator.Options, csvPath string, logger *slog.Logger) (*metrics.Collector, error) {
	collector, err := metrics.NewCollector(csvPath)
	if err != nil {
		return nil, fmt.Errorf("create collector: %w", err)
	}
	collector.Start()

	// Buffered so the generator stays ahead of the workers.
	opts.BufferSize = 10000
	gen := generator.NewGenerator(opts)
	go gen.Run()

	pool.NewPool(workers, gen.Output, collector, host, logger.With("run", gen.RunID)).Run()

	collector.Close()
	<-collector.Done
	return collector, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
