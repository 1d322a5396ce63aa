package estimatorweb

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Mux routes the room at Path and any extra handlers by pattern, for example
// a metrics handler at "/metrics"
func Mux(room *Room, extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, room)
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	return mux
}

// Serve runs room and serves h on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, room *Room, h http.Handler, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go room.Run(ctx)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("starting web server")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
