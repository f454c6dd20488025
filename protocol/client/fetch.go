package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aurmirror/aurmeta/log"
	"github.com/aurmirror/aurmeta/protocol"
	"github.com/aurmirror/aurmeta/protocol/hash"
)

// MaxWantsPerFetch bounds the want-lines of a single fetch. The batch
// size keeps requests under upstream URL/request limits and bounds the
// work one upload-pack invocation can demand.
const MaxWantsPerFetch = 3000

// BlobFilter selects the partial-clone filter sent with a fetch.
type BlobFilter string

const (
	// FilterNone requests full objects.
	FilterNone = BlobFilter("")
	// FilterBlobNone omits all blobs; commits and trees still arrive, so
	// the client can enumerate blob oids before paying to download them.
	FilterBlobNone = BlobFilter("blob:none")
	// FilterBlobLimit0 omits blobs by size limit. Equivalent to
	// FilterBlobNone for this module's purposes; some servers only
	// advertise one of the two spellings.
	FilterBlobLimit0 = BlobFilter("blob:limit=0")
)

// FetchOptions configures one fetch command. Wants may be commit oids
// (blobless pass) or blob oids (blob pass).
type FetchOptions struct {
	Want       []hash.Hash
	Filter     BlobFilter
	NoProgress bool
	ThinPack   bool
	OfsDelta   bool
}

// Fetch performs one fetch command and decodes the returned packfile.
// Objects are keyed by their oid.
//
// The want list must not exceed MaxWantsPerFetch; the orchestrator
// partitions its work into batches below that bound.
func (c *RawClient) Fetch(ctx context.Context, opts FetchOptions) (map[string]*protocol.PackfileObject, error) {
	logger := log.FromContext(ctx)

	if len(opts.Want) == 0 {
		return nil, fmt.Errorf("fetch needs at least one want")
	}
	if len(opts.Want) > MaxWantsPerFetch {
		return nil, fmt.Errorf("fetch of %d wants exceeds the batch bound of %d", len(opts.Want), MaxWantsPerFetch)
	}

	pkt, err := buildFetchRequest(opts)
	if err != nil {
		return nil, fmt.Errorf("format fetch command: %w", err)
	}

	logger.Debug("Send fetch request",
		"wantCount", len(opts.Want),
		"filter", string(opts.Filter),
		"requestSize", len(pkt))

	out, err := c.uploadPack(ctx, pkt)
	if err != nil {
		return nil, fmt.Errorf("send fetch command: %w", err)
	}

	pack, err := parseFetchResponse(ctx, out)
	if err != nil {
		return nil, err
	}

	objects := make(map[string]*protocol.PackfileObject)
	reader, err := protocol.NewPackfileReader(pack)
	if err != nil {
		return nil, err
	}
	for {
		obj, err := reader.ReadObject()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		objects[obj.Hash.String()] = obj
	}

	logger.Debug("Fetch completed", "objectCount", len(objects))
	return objects, nil
}

// buildFetchRequest frames the fetch command: command and capability
// lines, a delimiter, then the argument lines, then a flush.
func buildFetchRequest(opts FetchOptions) ([]byte, error) {
	packs := []protocol.Pack{
		protocol.PackLine("command=fetch\n"),
		protocol.PackLine("object-format=sha1\n"),
		protocol.DelimeterPacket,
	}

	if opts.ThinPack {
		packs = append(packs, protocol.PackLine("thin-pack\n"))
	}
	if opts.OfsDelta {
		packs = append(packs, protocol.PackLine("ofs-delta\n"))
	}
	if opts.NoProgress {
		packs = append(packs, protocol.PackLine("no-progress\n"))
	}
	if opts.Filter != FilterNone {
		packs = append(packs, protocol.PackLine(fmt.Sprintf("filter %s\n", opts.Filter)))
	}
	for _, want := range opts.Want {
		packs = append(packs, protocol.PackLine(fmt.Sprintf("want %s\n", want.String())))
	}
	packs = append(packs, protocol.PackLine("done\n"), protocol.FlushPacket)

	return protocol.FormatPacks(packs...)
}

// Sideband stream codes used inside the packfile section.
const (
	bandPackData = 0x01
	bandProgress = 0x02
	bandFatal    = 0x03
)

// parseFetchResponse walks the response sections and demultiplexes the
// packfile sideband. Sections other than "packfile" (acknowledgments,
// shallow-info, wanted-refs) are skipped; their lines carry nothing the
// mirror needs once "done" was sent.
func parseFetchResponse(ctx context.Context, out []byte) ([]byte, error) {
	logger := log.FromContext(ctx)
	r := bytes.NewReader(out)

	var pack bytes.Buffer
	section := ""
	sawPackfile := false
	for {
		frame, err := protocol.ReadFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch frame.Kind {
		case protocol.FrameFlush, protocol.FrameResponseEnd:
			// Flush ends the response; response-end follows on
			// stateless-connect transports.
			continue
		case protocol.FrameDelim:
			section = ""
			continue
		case protocol.FrameData:
		}

		if section == "" {
			section = strings.TrimSuffix(string(frame.Data), "\n")
			if section == "packfile" {
				sawPackfile = true
			}
			continue
		}

		if section != "packfile" {
			continue
		}
		if len(frame.Data) == 0 {
			continue
		}

		band, payload := frame.Data[0], frame.Data[1:]
		switch band {
		case bandPackData:
			pack.Write(payload)
		case bandProgress:
			logger.Debug("Upstream progress", "message", strings.TrimSpace(string(payload)))
		case bandFatal:
			return nil, NewUpstreamError("POST", 0, strings.TrimSpace(string(payload)))
		default:
			return nil, protocol.NewProtocolMalformedError(frame.Data, fmt.Errorf("unknown sideband code %d", band))
		}
	}

	if !sawPackfile {
		return nil, protocol.NewProtocolMalformedError(nil, fmt.Errorf("response carried no packfile section"))
	}
	return pack.Bytes(), nil
}
