package hosting

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DMarby/imageservice-client/imageservice/local"
	"github.com/DMarby/imageservice-client/internal/handler"
	"github.com/DMarby/imageservice-client/internal/health"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/storage"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/gorilla/mux"
)

// API serves the public images of the local adapter's storage
type API struct {
	Storage        storage.Provider
	HealthChecker  *health.Checker
	Log            *logger.Logger
	Tracer         *tracing.Tracer
	HandlerTimeout time.Duration
}

// Utility methods for logging
func (a *API) logError(r *http.Request, message string, err error) {
	a.Log.Errorw(message, handler.LogFields(r, "error", err)...)
}

// Router returns a http router
func (a *API) Router() http.Handler {
	router := mux.NewRouter()

	router.NotFoundHandler = handler.Handler(a.notFoundHandler)

	// Healthcheck
	if a.HealthChecker != nil {
		router.Handle("/health", handler.Health(a.HealthChecker)).Methods("GET")
	}

	// Images, at the urls the storage hands out
	router.Handle(fmt.Sprintf("/%s/{id}", local.Prefix), handler.Handler(a.imageHandler)).Methods("GET", "HEAD").Name("image")

	routeMatcher := &handler.MuxRouteMatcher{Router: router}

	// Set up handlers for adding a request id, handling panics, request logging, setting CORS headers, and handler execution timeout
	return handler.Tracer(a.Tracer,
		handler.Metrics(
			handler.RequestID(handler.Recovery(a.Log, handler.Logger(a.Log, handler.CORS([]string{"Content-Length"}, http.TimeoutHandler(router, a.HandlerTimeout, "Something went wrong. Timed out."))))),
			routeMatcher,
		),
		routeMatcher,
	)
}

func (a *API) imageHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	id := mux.Vars(r)["id"]
	key := local.Key(id)
	ctx := r.Context()

	object, err := a.Storage.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return handler.NotFound()
		}

		a.logError(r, "error getting image from storage", err)
		return handler.InternalServerError()
	}

	// Private images are never served
	if object.Visibility != storage.Public {
		return handler.NotFound()
	}

	data, err := a.Storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return handler.NotFound()
		}

		a.logError(r, "error getting image from storage", err)
		return handler.InternalServerError()
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", id))
	w.Header().Set("Cache-Control", "public, max-age=2592000") // Cache for a month
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))

	if r.Method == http.MethodHead {
		return nil
	}

	w.Write(data)

	return nil
}

var notFoundError = &handler.Error{
	Message: "page not found",
	Code:    http.StatusNotFound,
}

func (a *API) notFoundHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	return notFoundError
}
