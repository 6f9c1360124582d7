package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-client-go/client"
	"github.com/ggoodman/mcp-client-go/jsonrpc"
	"github.com/ggoodman/mcp-client-go/mcp"
)

type stepResult struct {
	step    string
	err     error
	elapsed time.Duration
}

type suiteOptions struct {
	clientInfo mcp.ImplementationInfo
	// sendInit runs the initialize exchange through the session. The
	// streaming HTTP transport performs it during its handshake instead.
	sendInit      bool
	handshakeInit interface {
		InitializeResult() *mcp.InitializeResult
	}
}

// runSuite walks the standard protocol exchange and reports per-step
// outcomes. Steps run in order; a failed step does not stop the walk since
// later steps often still carry signal about what broke.
func runSuite(ctx context.Context, c *client.Client, opts suiteOptions) []stepResult {
	var results []stepResult
	step := func(name string, fn func() error) {
		start := time.Now()
		err := fn()
		results = append(results, stepResult{step: name, err: err, elapsed: time.Since(start)})
	}

	step("initialize", func() error {
		if !opts.sendInit {
			if opts.handshakeInit == nil || opts.handshakeInit.InitializeResult() == nil {
				return fmt.Errorf("handshake produced no initialize result")
			}
			return nil
		}

		resp, err := c.Call(ctx, string(mcp.InitializeMethod), &mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      opts.clientInfo,
		})
		if err != nil {
			return err
		}
		var res mcp.InitializeResult
		if err := resp.UnmarshalResult(&res); err != nil {
			return err
		}
		if res.ServerInfo.Name == "" {
			return fmt.Errorf("initialize result carries no server info")
		}
		return nil
	})

	step("initialized", func() error {
		return c.Notify(ctx, string(mcp.InitializedNotificationMethod), nil)
	})

	step("tools/list", func() error {
		resp, err := c.Call(ctx, string(mcp.ToolsListMethod), &mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		var res mcp.ListToolsResult
		if err := resp.UnmarshalResult(&res); err != nil {
			return err
		}
		if len(res.Tools) == 0 {
			return fmt.Errorf("server advertises no tools")
		}
		return nil
	})

	step("tools/call echo", func() error {
		return callEcho(ctx, c, nil, "hello from mcp-probe")
	})

	step("concurrent calls", func() error {
		return concurrentEcho(ctx, c)
	})

	return results
}

func callEcho(ctx context.Context, c *client.Client, id *jsonrpc.RequestID, message string) error {
	args, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	params := &mcp.CallToolRequest{Name: "echo", Arguments: args}

	var resp *jsonrpc.Response
	if id != nil {
		resp, err = c.CallWithID(ctx, id, string(mcp.ToolsCallMethod), params)
	} else {
		resp, err = c.Call(ctx, string(mcp.ToolsCallMethod), params)
	}
	if err != nil {
		return err
	}

	var res mcp.CallToolResult
	if err := resp.UnmarshalResult(&res); err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("echo tool reported an error: %+v", res.Content)
	}
	for _, block := range res.Content {
		if strings.Contains(block.Text, message) {
			return nil
		}
	}
	return fmt.Errorf("echo result does not contain %q", message)
}

// concurrentEcho issues two calls with distinct ids at once and verifies
// each caller got its own answer back, whatever order the server replied in.
func concurrentEcho(ctx context.Context, c *client.Client) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := jsonrpc.NewRequestID(fmt.Sprintf("probe-concurrent-%d", i))
			errs[i] = callEcho(ctx, c, id, fmt.Sprintf("concurrent message %d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
