package httpjson

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

// Client calls the management API with up to three attempts per request.
type Client struct {
    httpc    *http.Client
    attempts int
}

// NewClient uses timeout per attempt, 3s when zero.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: &http.Transport{}}, attempts: 3}
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.do(ctx, http.MethodGet, endpoint(addr, "/status", nil), nil)
}

func (c *Client) GetLeader(ctx context.Context, addr string, req transport.LeaderRequest) (transport.LeaderResponse, error) {
    var out transport.LeaderResponse
    q := url.Values{}
    if req.ComponentID != "" {
        q.Set("component", req.ComponentID)
    }
    b, err := c.do(ctx, http.MethodGet, endpoint(addr, "/leader", q), nil)
    if err != nil {
        return out, err
    }
    err = json.Unmarshal(b, &out)
    return out, err
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var out transport.JoinResponse
    err := c.post(ctx, addr, "/join", req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var out transport.LeaveResponse
    err := c.post(ctx, addr, "/leave", req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) Close() error {
    c.httpc.CloseIdleConnections()
    return nil
}

// post sends req and decodes the reply into out, also for error statuses.
// errMsg extracts the error carried in the decoded reply.
func (c *Client) post(ctx context.Context, addr, path string, req, out any, errMsg func() string) error {
    body, err := json.Marshal(req)
    if err != nil {
        return err
    }
    b, err := c.do(ctx, http.MethodPost, endpoint(addr, path, nil), body)
    var se *statusError
    if errors.As(err, &se) {
        if json.Unmarshal(se.body, out) == nil && errMsg() != "" {
            return errors.New(errMsg())
        }
        return err
    }
    if err != nil {
        return err
    }
    return json.Unmarshal(b, out)
}

type statusError struct {
    code int
    body []byte
}

func (e *statusError) Error() string {
    return fmt.Sprintf("status %d: %s", e.code, bytes.TrimSpace(e.body))
}

// do retries transport errors and 5xx answers with exponential backoff.
func (c *Client) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        var rd io.Reader
        if body != nil {
            rd = bytes.NewReader(body)
        }
        req, err := http.NewRequestWithContext(ctx, method, u, rd)
        if err != nil {
            return nil, err
        }
        if body != nil {
            req.Header.Set("Content-Type", "application/json")
        }
        b, err := c.once(req)
        if err == nil {
            return b, nil
        }
        lastErr = err
        var se *statusError
        if errors.As(err, &se) && se.code < http.StatusInternalServerError {
            return nil, err
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

func (c *Client) once(req *http.Request) ([]byte, error) {
    resp, err := c.httpc.Do(req)
    if err != nil {
        return nil, err
    }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil {
        return nil, err
    }
    if resp.StatusCode != http.StatusOK {
        return nil, &statusError{code: resp.StatusCode, body: b}
    }
    return b, nil
}

func endpoint(addr, path string, q url.Values) string {
    u := url.URL{Scheme: "http", Host: addr, Path: path}
    if len(q) > 0 {
        u.RawQuery = q.Encode()
    }
    return u.String()
}

var _ transport.RPCClient = (*Client)(nil)
