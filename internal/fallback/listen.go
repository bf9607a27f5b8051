package fallback

import (
	"context"
	"net"
)

// Listen binds the first address in addrs that is free.
func Listen(ctx context.Context, addrs []string) (net.Listener, error) {
	var lc net.ListenConfig
	lis, _, err := First(ctx, addrs, func(ctx context.Context, addr string) (net.Listener, error) {
		return lc.Listen(ctx, "tcp", addr)
	})
	return lis, err
}
