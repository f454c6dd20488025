package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// uploadPack sends a POST request to the git-upload-pack endpoint and
// returns the full response body.
//
// NOTE: The path is defined by the protocol v2 spec as $GIT_URL/git-upload-pack.
// See: https://git-scm.com/docs/protocol-v2#_http_transport
func (c *RawClient) uploadPack(ctx context.Context, data []byte) ([]byte, error) {
	u := c.base.JoinPath("git-upload-pack").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
	req.Header.Set("Accept", "application/x-git-upload-pack-result")
	c.addDefaultHeaders(req)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkStatus(res, "git-upload-pack"); err != nil {
		return nil, err
	}

	return io.ReadAll(res.Body)
}
