package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yidakra/livevtt-sub000/config"
	"github.com/yidakra/livevtt-sub000/log"
)

func ListenAndServe(ctx context.Context, promPort int) error {
	listen := fmt.Sprintf("0.0.0.0:%d", promPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := http.Server{Addr: listen, Handler: mux}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoSegment(
		"Starting Prometheus metrics",
		"version", config.Version,
		"host", listen,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
