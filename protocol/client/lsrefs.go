package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aurmirror/aurmeta/log"
	"github.com/aurmirror/aurmeta/protocol"
	"github.com/aurmirror/aurmeta/protocol/hash"
)

// branchPrefix is the ref namespace the mirror cares about.
const branchPrefix = "refs/heads/"

// upstreamDefaultBranch is the monorepo's own default branch. It carries
// no package and is excluded from every ref snapshot.
const upstreamDefaultBranch = "main"

// LsRefs lists the upstream's branch heads. The result maps bare branch
// names (refs/heads/ prefix stripped) to commit oids; the upstream default
// branch is filtered out.
func (c *RawClient) LsRefs(ctx context.Context) (map[string]hash.Hash, error) {
	logger := log.FromContext(ctx)

	// Protocol v2 allows sending the command without a prior capability
	// advertisement round trip.
	pkt, err := protocol.FormatPacks(
		protocol.PackLine("command=ls-refs\n"),
		protocol.PackLine("object-format=sha1\n"),
		protocol.DelimeterPacket,
		protocol.PackLine("peel\n"),
		protocol.PackLine("symrefs\n"),
		protocol.PackLine(fmt.Sprintf("ref-prefix %s\n", branchPrefix)),
		protocol.FlushPacket,
	)
	if err != nil {
		return nil, fmt.Errorf("format ls-refs command: %w", err)
	}

	logger.Debug("Send ls-refs request", "requestSize", len(pkt))

	out, err := c.uploadPack(ctx, pkt)
	if err != nil {
		return nil, fmt.Errorf("send ls-refs command: %w", err)
	}

	refs, err := protocol.ParseLsRefsResponse(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse refs response: %w", err)
	}

	branches := make(map[string]hash.Hash, len(refs))
	for _, ref := range refs {
		branch, ok := strings.CutPrefix(ref.RefName, branchPrefix)
		if !ok || branch == "" || branch == upstreamDefaultBranch {
			continue
		}
		branches[branch] = ref.OID
	}

	logger.Debug("Ls-refs completed", "branchCount", len(branches))
	return branches, nil
}
