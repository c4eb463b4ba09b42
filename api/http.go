package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/yidakra/livevtt-sub000/config"
	"github.com/yidakra/livevtt-sub000/handlers"
	"github.com/yidakra/livevtt-sub000/log"
	"github.com/yidakra/livevtt-sub000/middleware"
	"github.com/yidakra/livevtt-sub000/store"
)

func ListenAndServe(ctx context.Context, addr string, manifests *store.ManifestStore, artifacts *store.ArtifactStore) error {
	router := NewLiveVTTRouter(manifests, artifacts)
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoSegment(
		"Starting LiveVTT API!",
		"version", config.Version,
		"host", addr,
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

func NewLiveVTTRouter(manifests *store.ManifestStore, artifacts *store.ArtifactStore) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()

	liveVTTHandlers := &handlers.LiveVTTHandlersCollection{Manifests: manifests, Artifacts: artifacts}

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(liveVTTHandlers.Ok()))

	// The published playlists live at fixed paths
	for path, slot := range handlers.PlaylistSlots() {
		handle := withLogging(liveVTTHandlers.Playlist(slot))
		router.GET(path, handle)
		router.HEAD(path, handle)
	}

	// Everything else is resolved against the artifact stores: transport
	// stream segments, WebVTT sidecars and /subs_<lang>.m3u8 aliases
	artifactHandle := withLogging(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		liveVTTHandlers.ServeArtifact().ServeHTTP(w, r)
	})
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		artifactHandle(w, r, nil)
	})

	return router
}
