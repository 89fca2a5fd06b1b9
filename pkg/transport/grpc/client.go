package grpc

import (
    "context"
    "errors"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

// Client implements transport.RPCClient on pooled connections.
type Client struct {
    timeout time.Duration

    once sync.Once
    cm   *ConnManager
}

// NewClient bounds every call by timeout, 3s when zero.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    return &Client{timeout: timeout}
}

func dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    return grpc.NewClient(target,
        grpc.WithTransportCredentials(insecure.NewCredentials()),
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    )
}

func (c *Client) conns() *ConnManager {
    c.once.Do(func() { c.cm = NewConnManager(30*time.Second, dial) })
    return c.cm
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, release, err := c.conns().Get(cctx, addr)
    if err != nil {
        return err
    }
    defer release()
    return cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "GetStatus", &empty{}, out); err != nil {
        return nil, err
    }
    return out.Data, nil
}

func (c *Client) GetLeader(ctx context.Context, addr string, req transport.LeaderRequest) (transport.LeaderResponse, error) {
    var resp transport.LeaderResponse
    err := c.invoke(ctx, addr, "GetLeader", &req, &resp)
    return resp, err
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var resp transport.JoinResponse
    if err := c.invoke(ctx, addr, "Join", &req, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" {
        return resp, errors.New(resp.Error)
    }
    return resp, nil
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var resp transport.LeaveResponse
    if err := c.invoke(ctx, addr, "Leave", &req, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" {
        return resp, errors.New(resp.Error)
    }
    return resp, nil
}

// Close releases all pooled connections.
func (c *Client) Close() error {
    c.conns().Close()
    return nil
}

var _ transport.RPCClient = (*Client)(nil)
