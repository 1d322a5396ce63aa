/*
Client-Server package adapted from Mat Ryer's Go Blueprints examples
see https://github.com/matryer/goblueprints
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/BradleyConlin/northstrike-training/estimatorweb"
)

var (
	addr   string
	static string
)

func init() {
	flag.StringVar(&addr, "addr", fmt.Sprintf(":%d", estimatorweb.Port), "The address for estimate publication.")
	flag.StringVar(&static, "static", "", "Directory of viewer pages to serve at /")
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := estimatorweb.NewRoom(log.StandardLogger())
	extra := map[string]http.Handler{}
	if static != "" {
		extra["/"] = http.FileServer(http.Dir(static))
	}
	if err := estimatorweb.Serve(ctx, addr, r, estimatorweb.Mux(r, extra), log.StandardLogger()); err != nil {
		log.WithError(err).Fatal("estimatorweb: ListenAndServe fatal error")
	}
}
