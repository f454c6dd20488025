package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aurmirror/aurmeta/index"
)

// rpcVersion is the only RPC interface version served.
const rpcVersion = 5

// rpcResponse is the AUR RPC envelope.
type rpcResponse struct {
	Version     int          `json:"version"`
	Type        string       `json:"type"`
	ResultCount int          `json:"resultcount"`
	Results     []rpcPackage `json:"results"`
	Error       string       `json:"error,omitempty"`
}

// rpcPackage uses the AUR's capitalised field names.
type rpcPackage struct {
	Name           string   `json:"Name"`
	PackageBase    string   `json:"PackageBase"`
	Version        string   `json:"Version"`
	Description    string   `json:"Description"`
	URL            string   `json:"URL"`
	URLPath        string   `json:"URLPath"`
	NumVotes       int64    `json:"NumVotes"`
	Popularity     float64  `json:"Popularity"`
	OutOfDate      *int64   `json:"OutOfDate"`
	Maintainer     *string  `json:"Maintainer"`
	Submitter      *string  `json:"Submitter,omitempty"`
	FirstSubmitted int64    `json:"FirstSubmitted"`
	LastModified   int64    `json:"LastModified"`
	CoMaintainers  []string `json:"CoMaintainers,omitempty"`
	Keywords       []string `json:"Keywords,omitempty"`
	Depends        []string `json:"Depends,omitempty"`
	MakeDepends    []string `json:"MakeDepends,omitempty"`
	OptDepends     []string `json:"OptDepends,omitempty"`
	CheckDepends   []string `json:"CheckDepends,omitempty"`
	Provides       []string `json:"Provides,omitempty"`
	Conflicts      []string `json:"Conflicts,omitempty"`
	Replaces       []string `json:"Replaces,omitempty"`
	Groups         []string `json:"Groups,omitempty"`
}

// handleRPC implements GET /rpc with v=5 and type=search|info|multiinfo.
// Errors are reported AUR-style: HTTP 200 with a type=error envelope.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("v"); v != "" && v != "5" {
		s.writeRPCError(w, fmt.Sprintf("Invalid version specified. Valid versions: %d", rpcVersion))
		return
	}

	switch q.Get("type") {
	case "search":
		arg := q.Get("arg")
		if len(arg) < 2 {
			s.writeRPCError(w, "Query arg too small.")
			return
		}
		pkgs, err := s.index.Search(r.Context(), q.Get("by"), arg)
		if err != nil {
			s.logger.Error("RPC search failed", "error", err)
			s.writeRPCError(w, "Service unavailable.")
			return
		}
		s.writeRPC(w, "search", pkgs)

	case "info", "multiinfo":
		names := q["arg[]"]
		if len(names) == 0 && q.Get("arg") != "" {
			names = []string{q.Get("arg")}
		}
		pkgs, err := s.index.Info(r.Context(), names)
		if err != nil {
			s.logger.Error("RPC info failed", "error", err)
			s.writeRPCError(w, "Service unavailable.")
			return
		}
		s.writeRPC(w, "multiinfo", pkgs)

	default:
		s.writeRPCError(w, "Incorrect request type specified.")
	}
}

func (s *Server) writeRPC(w http.ResponseWriter, typ string, pkgs []index.PackageInfo) {
	results := make([]rpcPackage, 0, len(pkgs))
	for _, p := range pkgs {
		results = append(results, rpcPackage{
			Name:           p.Name,
			PackageBase:    p.PackageBase,
			Version:        p.Version,
			Description:    p.Description,
			URL:            p.URL,
			URLPath:        fmt.Sprintf("/cgit/aur.git/snapshot/%s.tar.gz", p.PackageBase),
			NumVotes:       p.NumVotes,
			Popularity:     p.Popularity,
			OutOfDate:      p.OutOfDate,
			Maintainer:     p.Maintainer,
			Submitter:      p.Submitter,
			FirstSubmitted: p.FirstSubmitted,
			LastModified:   p.LastModified,
			CoMaintainers:  p.CoMaintainers,
			Keywords:       p.Keywords,
			Depends:        p.Depends,
			MakeDepends:    p.MakeDepends,
			OptDepends:     p.OptDepends,
			CheckDepends:   p.CheckDepends,
			Provides:       p.Provides,
			Conflicts:      p.Conflicts,
			Replaces:       p.Replaces,
			Groups:         p.Groups,
		})
	}

	s.writeJSON(w, rpcResponse{
		Version:     rpcVersion,
		Type:        typ,
		ResultCount: len(results),
		Results:     results,
	})
}

func (s *Server) writeRPCError(w http.ResponseWriter, msg string) {
	s.writeJSON(w, rpcResponse{
		Version: rpcVersion,
		Type:    "error",
		Results: []rpcPackage{},
		Error:   msg,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Encoding RPC response failed", "error", err)
	}
}
