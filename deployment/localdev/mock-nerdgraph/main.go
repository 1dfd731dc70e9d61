package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/miradorstack/nrquery/internal/nerdgraph/nerdgraphtest"
)

// Serves synthetic NerdGraph responses at /graphql. Point nerdgraph.endpoint at
// http://localhost:8090/graphql to run nrquery without a New Relic account.
func main() {
	var (
		addr      string
		apiKey    string
		accountID int64
		points    int
		step      time.Duration
		deadNodes string
	)
	flag.StringVar(&addr, "addr", ":8090", "listen address")
	flag.StringVar(&apiKey, "api-key", "", "required API-Key header, empty accepts any")
	flag.Int64Var(&accountID, "account", 0, "required account id, 0 accepts any")
	flag.IntVar(&points, "points", 12, "rows per NRQL response")
	flag.DurationVar(&step, "step", 5*time.Minute, "spacing between rows")
	flag.StringVar(&deadNodes, "dead-nodes", "web-3,worker-7", "comma separated entity names returned by dead node searches")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var names []string
	for _, n := range strings.Split(deadNodes, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	srv := &http.Server{
		Addr: addr,
		Handler: nerdgraphtest.NewHandler(nerdgraphtest.Options{
			APIKey:    apiKey,
			AccountID: accountID,
			Points:    points,
			Step:      step,
			DeadNodes: names,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("mock nerdgraph listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
