// Package server exposes the three AUR-compatible consumer surfaces on
// top of the index: the RPC JSON API, the snapshot redirect, and the
// per-package virtual Git repository backed by the upstream monorepo.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aurmirror/aurmeta/index"
	"github.com/aurmirror/aurmeta/log"
)

// Server serves the consumer surfaces. It only ever reads the index.
type Server struct {
	index            *index.Index
	upstream         *url.URL
	snapshotTemplate string
	client           *http.Client
	logger           log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient sets the client used to reach the upstream from the
// Git proxy.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

// WithLogger sets the request logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server. upstream is the monorepo base URL; the snapshot
// template receives a commit id for its single %s verb.
func New(ix *index.Index, upstream, snapshotTemplate string, opts ...Option) (*Server, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/")

	s := &Server{
		index:            ix,
		upstream:         u,
		snapshotTemplate: snapshotTemplate,
		client:           &http.Client{},
		logger:           log.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodGet)
	r.HandleFunc("/rpc/", s.handleRPC).Methods(http.MethodGet)
	r.HandleFunc("/cgit/aur.git/snapshot/{snapshot}", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/{pkg}.git/info/refs", s.handleInfoRefs).Methods(http.MethodGet)
	r.HandleFunc("/{pkg}.git/git-upload-pack", s.handleUploadPack).Methods(http.MethodPost)
	return r
}
