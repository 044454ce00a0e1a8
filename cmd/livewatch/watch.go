package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/livequery/internal/client"
	"github.com/rickgao/livequery/internal/config"
	"github.com/rickgao/livequery/internal/livequery"
	"github.com/rickgao/livequery/internal/model"
)

// startWatch subscribes one configured watch and feeds its values to sink.
func startWatch(c *client.Client, w config.WatchConfig, sink func(model.Update), logger *slog.Logger) livequery.DisposeFunc {
	id := uuid.New()
	log := logger.With("watch", w.Name, "subscription", id)

	update := func(value any) {
		u, err := model.NewUpdate(id, w.Name, value, time.Now().UTC())
		if err != nil {
			log.Error("encode update failed", "error", err)
			return
		}
		sink(u)
	}

	if w.GraphQL != "" {
		log.Info("watching graphql query")
		return c.GraphQL(w.GraphQL).Watch(w.Variables, update)
	}
	log.Info("watching query", "query", w.Query)
	return c.Query(w.Query).Watch(w.Args, update)
}

// printer writes updates as JSON lines.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w)}
}

func (p *printer) print(u model.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(u)
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
