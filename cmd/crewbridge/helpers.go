package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/app"
	"github.com/dgnsrekt/crewbridge/internal/config"
	"github.com/dgnsrekt/crewbridge/internal/lvar"
)

// openBroker connects the configured transport and returns a broker on it
// with a function that closes the transport.
func openBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*lvar.Broker, func(), error) {
	t, err := app.OpenTransport(ctx, cfg.Bridge, logger)
	if err != nil {
		return nil, nil, err
	}
	b := app.NewBroker(ctx, t, cfg.Broker, logger)
	return b, func() {
		if err := t.Close(); err != nil {
			logger.Debug("closing transport", zap.Error(err))
		}
	}, nil
}

// printValues writes one "name = value" line per entry, sorted by name, or a
// JSON object when asJSON is set.
func printValues(w io.Writer, values map[string]float64, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(values)
	}

	names := make([]string, 0, len(values))
	width := 0
	for name := range values {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%-*s = %s\n", width, name, strconv.FormatFloat(values[name], 'f', -1, 64)); err != nil {
			return err
		}
	}
	return nil
}
