package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aurmirror/aurmeta/protocol"
)

// handleSnapshot redirects a branch snapshot request to the upstream
// archive of the branch's indexed commit.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := mux.Vars(r)["snapshot"]
	branch, ok := strings.CutSuffix(snapshot, ".tar.gz")
	if !ok {
		http.NotFound(w, r)
		return
	}

	commit, ok, err := s.index.ResolveBranch(r.Context(), branch)
	if err != nil {
		s.logger.Error("Snapshot lookup failed", "branch", branch, "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	http.Redirect(w, r, fmt.Sprintf(s.snapshotTemplate, commit), http.StatusFound)
}

// handleInfoRefs answers the discovery request of the per-package
// virtual repository. A protocol v2 client gets the upstream capability
// advertisement verbatim; a v0 client gets a synthesized ref
// advertisement exposing the package branch as HEAD.
func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["pkg"]

	commit, ok, err := s.index.ResolveBranch(r.Context(), pkg)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	if strings.Contains(r.Header.Get("Git-Protocol"), "version=2") {
		s.forwardUpstream(w, r, "info/refs?service=git-upload-pack")
		return
	}

	adv, err := protocol.FormatPacks(
		protocol.PackLine("# service=git-upload-pack\n"),
		protocol.FlushPacket,
		protocol.PackLine(fmt.Sprintf("%s HEAD\x00symref=HEAD:refs/heads/%s agent=aurmeta\n", commit, pkg)),
		protocol.PackLine(fmt.Sprintf("%s refs/heads/%s\n", commit, pkg)),
		protocol.FlushPacket,
	)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
	w.Write(adv) //nolint:errcheck
}

// handleUploadPack forwards the fetch negotiation byte-for-byte to the
// upstream monorepo after the branch existence check.
func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["pkg"]

	_, ok, err := s.index.ResolveBranch(r.Context(), pkg)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.forwardUpstream(w, r, "git-upload-pack")
}

// forwardUpstream proxies the request to the upstream monorepo,
// preserving the Git protocol headers and body.
func (s *Server) forwardUpstream(w http.ResponseWriter, r *http.Request, suffix string) {
	target := s.upstream.String() + "/" + suffix

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for _, header := range []string{"Content-Type", "Accept", "Git-Protocol", "Accept-Encoding"} {
		if v := r.Header.Get(header); v != "" {
			req.Header.Set(header, v)
		}
	}

	res, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Upstream proxy request failed", "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	for _, header := range []string{"Content-Type", "Cache-Control"} {
		if v := res.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	io.Copy(w, res.Body) //nolint:errcheck
}
