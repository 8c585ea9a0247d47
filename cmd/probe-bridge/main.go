package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rexliu/liveprobe/pkg/client"
	"github.com/rexliu/liveprobe/pkg/config"
	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/logging"
)

// message is one line on stdin.
type message struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// reply is one line on stdout.
type reply struct {
	Method string          `json:"method"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ipc.Error      `json:"error,omitempty"`
}

func main() {
	profile := flag.String("profile", "./_dev_profile", "Profile directory")
	addr := flag.String("addr", "", "Override server address")
	retries := flag.Int("retries", 3, "Retries per request on connection failure")
	flag.Parse()

	logger := logging.New("probe-bridge")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *addr, *retries, os.Stdin, os.Stdout, logger); err != nil {
		logger.Errorf("bridge exiting: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, profile, addrOverride string, retries int, in io.Reader, out io.Writer, logger *logging.Logger) error {
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		return err
	}
	address := cfg.Server.Address
	if addrOverride != "" {
		address = addrOverride
	}
	c, err := dial(ctx, cfg.Server.Network, address, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return bridge(ctx, c, retries, in, out, logger)
}

// dial waits for the server to come up.
func dial(ctx context.Context, network, address string, logger *logging.Logger) (*client.Client, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	return backoff.RetryNotifyWithData(func() (*client.Client, error) {
		return client.Dial(ctx, network, address, client.Options{KeepAlive: 30 * time.Second, Logger: logger})
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warnf("server not reachable: %v; retrying in %s", err, next)
	})
}

type caller interface {
	CallWithRetry(ctx context.Context, method string, params any, maxRetries int) (*ipc.Response, error)
}

// bridge forwards line-delimited messages until in is exhausted. A line
// that is not a message gets a parse error reply and the loop continues.
func bridge(ctx context.Context, c caller, retries int, in io.Reader, out io.Writer, logger *logging.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), ipc.MaxFrameSize)
	writer := bufio.NewWriter(out)
	defer writer.Flush()
	enc := json.NewEncoder(writer)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		var r reply
		if err := json.Unmarshal(line, &msg); err != nil {
			r.Error = ipc.ParseError(err.Error())
		} else {
			r = forward(ctx, c, msg, retries, logger)
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func forward(ctx context.Context, c caller, msg message, retries int, logger *logging.Logger) reply {
	r := reply{Method: msg.Method}
	var params any
	if len(msg.Params) > 0 {
		params = msg.Params
	}
	resp, err := c.CallWithRetry(ctx, msg.Method, params, retries)
	if err != nil {
		logger.Warnf("%s failed: %v", msg.Method, err)
		r.Error = ipc.InternalError(err.Error())
		return r
	}
	r.Result, r.Error = resp.Result, resp.Error
	return r
}
