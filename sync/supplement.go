package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/aurmirror/aurmeta/index"
	"github.com/aurmirror/aurmeta/log"
)

// ErrSupplementUnavailable is returned when no supplement source could be
// fetched and parsed. The sync downgrades it to a warning and leaves
// pkg_supplement untouched.
var ErrSupplementUnavailable = errors.New("supplement unavailable")

// SupplementDisabled is the literal source token that turns
// supplementation off.
const SupplementDisabled = "none"

// supplementEntry mirrors the JSON dump published by the AUR website.
type supplementEntry struct {
	Name           string
	Version        string
	Description    string
	URL            string
	NumVotes       int64
	Popularity     float64
	OutOfDate      *int64
	Maintainer     *string
	Submitter      *string
	FirstSubmitted int64
	LastModified   int64
	Keywords       []string
	CoMaintainers  []string
}

// applySupplement runs step 6: fetch the dump, replace pkg_supplement
// wholesale and sweep is_listed. Fetch trouble is a warning; a failed
// wholesale replace is a stage failure and propagates.
func (s *Syncer) applySupplement(ctx context.Context, report *Report) error {
	logger := log.FromContext(ctx)

	sources := s.opts.SupplementSources
	if len(sources) == 0 || (len(sources) == 1 && sources[0] == SupplementDisabled) {
		return nil
	}

	records, err := FetchSupplement(ctx, http.DefaultClient, sources)
	if err != nil {
		logger.Warn("Supplement unavailable", "error", err)
		report.Warnings = append(report.Warnings, err.Error())
		return nil
	}

	if err := s.index.ReplaceSupplement(ctx, records); err != nil {
		return fmt.Errorf("supplement replace: %w", err)
	}
	report.SupplementApplied = true
	logger.Info("Supplement applied", "records", len(records))
	return nil
}

// FetchSupplement tries the sources in order and returns the records of
// the first one that fetches and parses. Each source is a filesystem
// path or an http(s) URL; a gzip payload (magic 0x1f 0x8b) is decoded
// transparently.
func FetchSupplement(ctx context.Context, httpClient *http.Client, sources []string) ([]index.SupplementRecord, error) {
	var failures []string
	for _, source := range sources {
		if source == SupplementDisabled {
			continue
		}

		payload, err := readSource(ctx, httpClient, source)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", source, err))
			continue
		}

		records, err := parseSupplement(payload)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", source, err))
			continue
		}
		return records, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrSupplementUnavailable, strings.Join(failures, "; "))
}

func readSource(ctx context.Context, httpClient *http.Client, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		res, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return nil, fmt.Errorf("got status code %d", res.StatusCode)
		}
		return io.ReadAll(res.Body)
	}
	return os.ReadFile(source)
}

func parseSupplement(payload []byte) ([]index.SupplementRecord, error) {
	if len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		if payload, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}

	var entries []supplementEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	records := make([]index.SupplementRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, index.SupplementRecord{
			Name:           e.Name,
			Version:        e.Version,
			Popularity:     e.Popularity,
			NumVotes:       e.NumVotes,
			OutOfDate:      e.OutOfDate,
			Maintainer:     e.Maintainer,
			Submitter:      e.Submitter,
			CoMaintainers:  e.CoMaintainers,
			Keywords:       e.Keywords,
			FirstSubmitted: e.FirstSubmitted,
			LastModified:   e.LastModified,
		})
	}
	return records, nil
}
