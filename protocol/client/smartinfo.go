package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aurmirror/aurmeta/log"
	"github.com/aurmirror/aurmeta/protocol"
)

// advertisementContentType is the content type the Smart HTTP protocol
// requires on the capability advertisement response.
const advertisementContentType = "application/x-git-upload-pack-advertisement"

// Capabilities retrieves the protocol v2 capability advertisement from the
// upstream and verifies that the server speaks version 2.
//
// It sends a GET request to the $GIT_URL/info/refs endpoint with
// service=git-upload-pack, as required by the Smart HTTP transport for
// repository discovery and capability negotiation.
//
// See:
//   - https://git-scm.com/docs/http-protocol#_smart_clients
//   - https://git-scm.com/docs/protocol-v2#_http_transport
//
// The returned slice holds the advertised capability lines, e.g.
// "ls-refs", "fetch=filter shallow", "object-format=sha1".
func (c *RawClient) Capabilities(ctx context.Context) ([]string, error) {
	u := c.base.JoinPath("info/refs")

	query := make(url.Values)
	query.Set("service", "git-upload-pack")
	u.RawQuery = query.Encode()

	logger := log.FromContext(ctx)
	logger.Debug("Capability advertisement", "url", u.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	c.addDefaultHeaders(req)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkStatus(res, "info/refs"); err != nil {
		return nil, err
	}

	if ct := res.Header.Get("Content-Type"); ct != advertisementContentType {
		return nil, protocol.NewProtocolMalformedError(nil, fmt.Errorf("advertisement content type %q", ct))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	caps, err := parseAdvertisement(body)
	if err != nil {
		return nil, err
	}

	logger.Debug("Capability advertisement parsed", "capabilities", caps)
	return caps, nil
}

// parseAdvertisement reads the advertisement body: the service banner
// followed by a flush, then the capability block terminated by a flush.
// The "version 2" line must be present.
func parseAdvertisement(body []byte) ([]string, error) {
	r := bytes.NewReader(body)

	frame, err := protocol.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if frame.Kind != protocol.FrameData || !bytes.HasPrefix(frame.Data, []byte("# service=git-upload-pack")) {
		return nil, protocol.NewProtocolMalformedError(frame.Data, fmt.Errorf("missing service banner"))
	}

	sawVersion := false
	var caps []string
	for {
		frame, err := protocol.ReadFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if frame.Kind != protocol.FrameData {
			// The flush after the banner; a second flush ends the block.
			if frame.Kind == protocol.FrameFlush && sawVersion {
				break
			}
			continue
		}

		line := strings.TrimSuffix(string(frame.Data), "\n")
		if line == "version 2" {
			sawVersion = true
			continue
		}
		caps = append(caps, line)
	}

	if !sawVersion {
		return nil, protocol.NewProtocolMalformedError(nil, fmt.Errorf("server did not advertise protocol version 2"))
	}
	return caps, nil
}
