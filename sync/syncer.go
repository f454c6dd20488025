// Package sync implements the metadata synchronization run: diff the
// upstream refs against the stored state, fetch only changed branches in
// two filtered passes, parse each branch's .SRCINFO, and commit the
// results transactionally into the index.
package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aurmirror/aurmeta/index"
	"github.com/aurmirror/aurmeta/log"
	"github.com/aurmirror/aurmeta/protocol"
	"github.com/aurmirror/aurmeta/protocol/client"
	"github.com/aurmirror/aurmeta/protocol/hash"
	"github.com/aurmirror/aurmeta/protocol/object"
	"github.com/aurmirror/aurmeta/retry"
	"github.com/aurmirror/aurmeta/srcinfo"
)

// srcinfoName is the blob every package branch carries at its root tree.
const srcinfoName = ".SRCINFO"

// Upstream is the slice of the Smart-HTTP client the orchestrator
// drives.
type Upstream interface {
	Capabilities(ctx context.Context) ([]string, error)
	LsRefs(ctx context.Context) (map[string]hash.Hash, error)
	Fetch(ctx context.Context, opts client.FetchOptions) (map[string]*protocol.PackfileObject, error)
}

// ProgressFunc observes phase progress; phase is one of "refs",
// "commits", "blobs", "write".
type ProgressFunc func(phase string, completed, total int)

// Options tune a sync run. Zero values select the defaults.
type Options struct {
	// FetchBatchSize bounds the want-lines per fetch. Defaults to (and
	// must not exceed) client.MaxWantsPerFetch.
	FetchBatchSize int
	// WriteBatchSize bounds the branches per index transaction.
	// Default 200.
	WriteBatchSize int
	// Concurrency bounds in-flight fetches. Default 4.
	Concurrency int
	// SupplementSources are tried in order; the literal "none" disables
	// supplementation, as does an empty list.
	SupplementSources []string
	// Retrier wraps upstream requests. Defaults to exponential backoff
	// with 3 attempts, waiting 1s and then 4s between them.
	Retrier retry.Retrier
	// Progress, if set, observes phase progress.
	Progress ProgressFunc
}

// Syncer runs the synchronization. One sync runs at a time; the index
// handle is owned exclusively for the duration.
type Syncer struct {
	upstream Upstream
	index    *index.Index
	opts     Options
}

// New creates a Syncer with defaults applied.
func New(upstream Upstream, ix *index.Index, opts Options) *Syncer {
	if opts.FetchBatchSize <= 0 || opts.FetchBatchSize > client.MaxWantsPerFetch {
		opts.FetchBatchSize = client.MaxWantsPerFetch
	}
	if opts.WriteBatchSize <= 0 {
		opts.WriteBatchSize = 200
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.NewExponentialBackoffRetrier()
	}
	if opts.Progress == nil {
		opts.Progress = func(string, int, int) {}
	}
	return &Syncer{upstream: upstream, index: ix, opts: opts}
}

// BatchFailure records one failed batch; sibling batches proceed.
type BatchFailure struct {
	Phase    string
	Branches []string
	Err      error
}

// Report summarizes a sync run.
type Report struct {
	Branches  int
	Unchanged int
	Changed   int
	Removed   int
	NoSrcinfo int
	Packages  int

	Warnings []string
	Failures []BatchFailure

	SupplementApplied bool
}

// ExitCode maps the report onto the CLI contract: 0 when every branch
// reached a terminal state, 1 when any batch failed. (The refs diff and
// supplement wholesale stages surface as errors from Run and exit 2.)
func (r *Report) ExitCode() int {
	if len(r.Failures) > 0 {
		return 1
	}
	return 0
}

// branchWork carries one changed branch through the passes.
type branchWork struct {
	branch  string
	commit  hash.Hash
	blobOID hash.Hash
	// update is the final write for this branch; nil while failed.
	update *index.BranchUpdate
}

// Run executes one synchronization. An error return means the refs diff
// or the supplement wholesale stage failed; batch-level failures are
// collected in the report instead.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	logger := log.FromContext(ctx)
	report := &Report{}

	if err := retry.Do(ctx, s.opts.Retrier, func() error {
		_, err := s.upstream.Capabilities(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("capability advertisement: %w", err)
	}

	var refs map[string]hash.Hash
	if err := retry.Do(ctx, s.opts.Retrier, func() error {
		var err error
		refs, err = s.upstream.LsRefs(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("ls-refs: %w", err)
	}

	stored, err := s.index.BranchCommits(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading branch state: %w", err)
	}

	changed, removed := diffRefs(refs, stored)
	report.Branches = len(refs)
	report.Changed = len(changed)
	report.Removed = len(removed)
	report.Unchanged = len(refs) - len(changed)
	s.opts.Progress("refs", len(refs), len(refs))

	logger.Info("Refs diff computed",
		"branches", len(refs),
		"changed", len(changed),
		"removed", len(removed))

	work := make([]*branchWork, 0, len(changed))
	for _, b := range changed {
		work = append(work, &branchWork{branch: b, commit: refs[b]})
	}

	objects := newObjectStore()
	s.fetchPass(ctx, report, "commits", commitWants(work), client.FilterBlobNone, objects)
	s.resolveBlobOIDs(ctx, report, work, objects)

	blobs := newObjectStore()
	s.fetchPass(ctx, report, "blobs", blobWants(work), client.FilterNone, blobs)
	s.parseBranches(ctx, report, work, blobs)

	s.writeBranches(ctx, report, work, removed)

	if err := s.applySupplement(ctx, report); err != nil {
		return report, err
	}

	logger.Info("Sync finished",
		"packages", report.Packages,
		"warnings", len(report.Warnings),
		"failures", len(report.Failures))
	return report, nil
}

// diffRefs computes the changed and removed branch sets, sorted for a
// deterministic batch layout.
func diffRefs(refs map[string]hash.Hash, stored map[string]string) (changed, removed []string) {
	for branch, oid := range refs {
		if stored[branch] != oid.String() {
			changed = append(changed, branch)
		}
	}
	for branch := range stored {
		if _, ok := refs[branch]; !ok {
			removed = append(removed, branch)
		}
	}
	sort.Strings(changed)
	sort.Strings(removed)
	return changed, removed
}

func commitWants(work []*branchWork) []fetchWant {
	wants := make([]fetchWant, 0, len(work))
	for _, w := range work {
		wants = append(wants, fetchWant{oid: w.commit, branch: w.branch})
	}
	return wants
}

// blobWants deduplicates the resolved blob oids; identical .SRCINFO
// content across branches shares one blob.
func blobWants(work []*branchWork) []fetchWant {
	seen := make(map[string]bool)
	var wants []fetchWant
	for _, w := range work {
		if w.blobOID == nil || seen[w.blobOID.String()] {
			continue
		}
		seen[w.blobOID.String()] = true
		wants = append(wants, fetchWant{oid: w.blobOID, branch: w.branch})
	}
	return wants
}

type fetchWant struct {
	oid hash.Hash
	// branch is the want's origin, for failure reporting only.
	branch string
}

// fetchPass fetches the wants in batches, up to Concurrency in flight,
// and merges the resulting objects. A failed batch is recorded and does
// not abort its siblings.
func (s *Syncer) fetchPass(ctx context.Context, report *Report, phase string, wants []fetchWant, filter client.BlobFilter, into objectStore) {
	if len(wants) == 0 {
		return
	}

	batches := chunkWants(wants, s.opts.FetchBatchSize)
	total := len(batches)
	completed := 0

	var mu stdsync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, batch := range batches {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			oids := make([]hash.Hash, len(batch))
			branches := make([]string, len(batch))
			for i, w := range batch {
				oids[i] = w.oid
				branches[i] = w.branch
			}

			var objs map[string]*protocol.PackfileObject
			err := retry.Do(gctx, s.opts.Retrier, func() error {
				var err error
				objs, err = s.upstream.Fetch(gctx, client.FetchOptions{
					Want:       oids,
					Filter:     filter,
					NoProgress: true,
					OfsDelta:   true,
				})
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, BatchFailure{Phase: phase, Branches: branches, Err: err})
			} else {
				into.AddMap(objs)
			}
			completed++
			s.opts.Progress(phase, completed, total)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers only report through the mutex-guarded state
}

func chunkWants(wants []fetchWant, size int) [][]fetchWant {
	var batches [][]fetchWant
	for len(wants) > 0 {
		n := min(size, len(wants))
		batches = append(batches, wants[:n])
		wants = wants[n:]
	}
	return batches
}

// failedBranches indexes the branches already recorded as failed, so
// later stages skip them instead of double-reporting.
func failedBranches(report *Report) map[string]bool {
	failed := make(map[string]bool)
	for _, f := range report.Failures {
		for _, b := range f.Branches {
			failed[b] = true
		}
	}
	return failed
}

// resolveBlobOIDs walks commit → root tree → .SRCINFO entry for every
// changed branch. A branch whose root tree has no .SRCINFO gets an empty
// update: its data is purged but its commit recorded.
func (s *Syncer) resolveBlobOIDs(ctx context.Context, report *Report, work []*branchWork, objects objectStore) {
	logger := log.FromContext(ctx)
	failed := failedBranches(report)

	for _, w := range work {
		if failed[w.branch] {
			continue
		}

		commit, ok := objects.Get(w.commit)
		if !ok || commit.Type != object.TypeCommit {
			report.Failures = append(report.Failures, BatchFailure{
				Phase:    "commits",
				Branches: []string{w.branch},
				Err:      protocol.NewProtocolMalformedError(nil, fmt.Errorf("commit %s missing from pack", w.commit)),
			})
			continue
		}

		header, err := protocol.ParseCommitHeader(commit.Data)
		if err != nil {
			report.Failures = append(report.Failures, BatchFailure{Phase: "commits", Branches: []string{w.branch}, Err: err})
			continue
		}

		tree, ok := objects.Get(header.Tree)
		if !ok || tree.Type != object.TypeTree {
			report.Failures = append(report.Failures, BatchFailure{
				Phase:    "commits",
				Branches: []string{w.branch},
				Err:      protocol.NewProtocolMalformedError(nil, fmt.Errorf("root tree %s missing from pack", header.Tree)),
			})
			continue
		}

		entries, err := protocol.ParseTree(tree.Data)
		if err != nil {
			report.Failures = append(report.Failures, BatchFailure{Phase: "commits", Branches: []string{w.branch}, Err: err})
			continue
		}

		entry := protocol.FindTreeEntry(entries, srcinfoName)
		if entry == nil {
			// Only the root tree is consulted; subdirectory packages do
			// not exist upstream.
			logger.Warn("Branch has no .SRCINFO", "branch", w.branch)
			report.NoSrcinfo++
			w.update = &index.BranchUpdate{Branch: w.branch, CommitID: w.commit.String()}
			continue
		}
		w.blobOID = entry.OID
	}
}

// parseBranches turns each branch's blob into package records. Parse
// trouble short of a valid file is tolerated per warning policy.
func (s *Syncer) parseBranches(ctx context.Context, report *Report, work []*branchWork, blobs objectStore) {
	logger := log.FromContext(ctx)
	failed := failedBranches(report)

	for _, w := range work {
		if w.blobOID == nil || failed[w.branch] {
			continue
		}

		blob, ok := blobs.Get(w.blobOID)
		if !ok || blob.Type != object.TypeBlob {
			report.Failures = append(report.Failures, BatchFailure{
				Phase:    "blobs",
				Branches: []string{w.branch},
				Err:      protocol.NewProtocolMalformedError(nil, fmt.Errorf("blob %s missing from pack", w.blobOID)),
			})
			continue
		}

		result, err := srcinfo.Parse(w.branch, blob.Data)
		if err != nil {
			// An unparseable file still advances the branch: the commit is
			// recorded with no packages, and the warning is surfaced.
			logger.Warn("Unparseable .SRCINFO", "branch", w.branch, "error", err)
			report.Warnings = append(report.Warnings, err.Error())
			w.update = &index.BranchUpdate{Branch: w.branch, CommitID: w.commit.String()}
			continue
		}

		report.Warnings = append(report.Warnings, result.Warnings...)
		report.Packages += len(result.Packages)
		w.update = &index.BranchUpdate{
			Branch:   w.branch,
			CommitID: w.commit.String(),
			Packages: result.Packages,
		}
	}
}

// writeBranches commits updates and removals in transactions of
// WriteBatchSize branches each.
func (s *Syncer) writeBranches(ctx context.Context, report *Report, work []*branchWork, removed []string) {
	var updates []index.BranchUpdate
	for _, w := range work {
		if w.update != nil {
			updates = append(updates, *w.update)
		}
	}

	type writeBatch struct {
		updates []index.BranchUpdate
		removed []string
	}
	var batches []writeBatch
	for len(updates) > 0 {
		n := min(s.opts.WriteBatchSize, len(updates))
		batches = append(batches, writeBatch{updates: updates[:n]})
		updates = updates[n:]
	}
	for len(removed) > 0 {
		n := min(s.opts.WriteBatchSize, len(removed))
		batches = append(batches, writeBatch{removed: removed[:n]})
		removed = removed[n:]
	}

	now := time.Now().Unix()
	for i, batch := range batches {
		if ctx.Err() != nil {
			return
		}
		if err := s.index.ApplyBatch(ctx, batch.updates, batch.removed, now); err != nil {
			branches := make([]string, 0, len(batch.updates)+len(batch.removed))
			for _, u := range batch.updates {
				branches = append(branches, u.Branch)
			}
			branches = append(branches, batch.removed...)
			report.Failures = append(report.Failures, BatchFailure{Phase: "write", Branches: branches, Err: err})
		}
		s.opts.Progress("write", i+1, len(batches))
	}
}
