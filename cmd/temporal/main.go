// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Command temporal is a minimal front end for the temporal event store:
// a single-node HTTP server plus insert/query one-shots against a local
// journal directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	temporal "github.com/dreamsxin/temporal"
	"github.com/dreamsxin/temporal/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := level.NewFilter(log.NewLogfmtLogger(os.Stderr), level.AllowInfo())

	if len(args) < 1 {
		usage()
		return 2
	}

	var err error
	switch args[0] {
	case "start":
		err = cmdStart(logger, args[1:])
	case "insert":
		err = cmdInsert(logger, args[1:])
	case "query":
		err = cmdQuery(args[1:])
	default:
		usage()
		return 2
	}
	if err != nil {
		level.Error(logger).Log("msg", "command failed", "cmd", args[0], "err", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: temporal <command> [flags]

commands:
  start   --dir DIR --port PORT      run the HTTP server
  insert  --dir DIR --entity ID --value JSON [--timestamp TS]
  query   --dir DIR --entity ID [--timestamp TS]

TS is RFC3339 or Unix seconds; it defaults to now.`)
}

func openDB(logger log.Logger, dir string, reg prometheus.Registerer) (*temporal.DB, error) {
	opts := []temporal.Option{temporal.WithLogger(logger)}
	if reg != nil {
		opts = append(opts, temporal.WithMetricsRegisterer(reg))
	}
	return temporal.OpenDB(dir, opts...)
}

func cmdStart(logger log.Logger, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	port := fs.Int("port", 8080, "port to listen on")
	dir := fs.String("dir", "data", "journal directory")
	fs.Parse(args)

	reg := prometheus.NewRegistry()
	db, err := openDB(logger, *dir, reg)
	if err != nil {
		return err
	}
	defer db.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/insert", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entity := r.URL.Query().Get("entity")
		if entity == "" {
			http.Error(w, "entity is required", http.StatusBadRequest)
			return
		}
		ts, err := parseTimestamp(r.URL.Query().Get("timestamp"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var value json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := db.Insert(entity, value, ts); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		entity := r.URL.Query().Get("entity")
		if entity == "" {
			http.Error(w, "entity is required", http.StatusBadRequest)
			return
		}
		ts, err := parseTimestamp(r.URL.Query().Get("timestamp"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var value json.RawMessage
		found, err := db.QueryAsOf(entity, ts, &value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "no value", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(value)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: mux,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", srv.Addr, "dir", *dir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return db.Checkpoint()
}

func cmdInsert(logger log.Logger, args []string) error {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	dir := fs.String("dir", "data", "journal directory")
	entity := fs.String("entity", "", "entity id")
	value := fs.String("value", "", "value (JSON, or a bare string)")
	tsFlag := fs.String("timestamp", "", "valid time (RFC3339 or Unix seconds)")
	fs.Parse(args)

	if *entity == "" || *value == "" {
		return errors.New("--entity and --value are required")
	}
	ts, err := parseTimestamp(*tsFlag)
	if err != nil {
		return err
	}

	db, err := openDB(logger, *dir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	var v any
	if err := json.Unmarshal([]byte(*value), &v); err != nil {
		v = *value
	}
	if err := db.Insert(*entity, v, ts); err != nil {
		return err
	}
	return db.Flush()
}

func cmdQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dir := fs.String("dir", "data", "journal directory")
	entity := fs.String("entity", "", "entity id")
	tsFlag := fs.String("timestamp", "", "as-of time (RFC3339 or Unix seconds)")
	fs.Parse(args)

	if *entity == "" {
		return errors.New("--entity is required")
	}
	ts, err := parseTimestamp(*tsFlag)
	if err != nil {
		return err
	}

	db, err := openDB(log.NewNopLogger(), *dir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	var value json.RawMessage
	found, err := db.QueryAsOf(*entity, ts, &value)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no value for %q as of %s", types.ErrNotFound, *entity, ts)
	}
	fmt.Println(string(value))
	return nil
}

func parseTimestamp(s string) (types.Timestamp, error) {
	if s == "" {
		return types.Now(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.TimestampFromSecs(secs), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid timestamp %q", types.ErrTemporal, s)
	}
	return types.TimestampFromTime(t), nil
}
