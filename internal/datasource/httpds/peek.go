package httpds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// FetchFirstBytes returns up to n leading bytes of url. It asks for a byte
// range and also caps the read, so servers that ignore Range still work. The
// probe command uses it to sample remote inputs.
func (c *Client) FetchFirstBytes(ctx context.Context, url string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("httpds: n must be > 0")
	}
	h := make(http.Header)
	h.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))
	resp, err := c.Get(ctx, url, h)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, int64(n))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
