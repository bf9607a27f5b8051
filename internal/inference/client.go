// Package inference talks to the external model servers. Requests and
// responses are google.protobuf.Struct values so no generated stubs are
// needed on either side.
package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	MethodDetect   = "/relay.inference.v1.Detector/Detect"
	MethodClassify = "/relay.inference.v1.Classifier/Classify"
)

// ErrModelUnavailable is returned when no model server is configured or the
// connection has been closed.
var ErrModelUnavailable = errors.New("inference: model unavailable")

type Options struct {
	Timeout     time.Duration
	DialOptions []grpc.DialOption
}

// Client wraps one gRPC connection to a model server. A nil *Client is
// valid and fails every call with ErrModelUnavailable.
type Client struct {
	addr    string
	conn    *grpc.ClientConn
	timeout time.Duration
	log     log.FieldLogger
}

// Dial creates a client for addr. An empty addr returns (nil, nil) so that
// callers can treat an unconfigured model like an unavailable one. The
// connection is established lazily by grpc on first use.
func Dial(addr string, opts Options, logger log.FieldLogger) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("inference: dial %s: %w", addr, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	logger.WithField("addr", addr).Info("inference client ready")
	return &Client{addr: addr, conn: conn, timeout: timeout, log: logger}, nil
}

func (c *Client) Addr() string {
	if c == nil {
		return ""
	}
	return c.addr
}

// Healthy runs a grpc.health.v1 check against the server.
func (c *Client) Healthy(ctx context.Context) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, image []byte) (*structpb.Struct, error) {
	if c == nil {
		return nil, ErrModelUnavailable
	}

	req, err := structpb.NewStruct(map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, fmt.Errorf("inference: %s: %w", method, err)
	}
	return resp, nil
}
