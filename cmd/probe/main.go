package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/liveprobe/pkg/client"
	"github.com/rexliu/liveprobe/pkg/config"
	"github.com/rexliu/liveprobe/pkg/ipc"
)

var (
	profileDir  string
	addrFlag    string
	networkFlag string
	timeout     time.Duration
	retries     int

	rootCmd = &cobra.Command{
		Use:           "probe",
		Short:         "Inspect a running process through its probe socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile", "./_dev_profile", "Profile directory")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Override server address")
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "", "Override server network (tcp or unix)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout per command")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 3, "Retries on connection failure")

	rootCmd.AddCommand(
		initCmd(),
		handshakeCmd(),
		callCmd(),
		inspectCmd(),
		typesCmd(),
		findCmd(),
		describeCmd(),
		logCmd(),
		diagCmd(),
		snapshotCmd(),
		versionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(1)
	}
}

// endpoint resolves the server address from the profile and flag overrides.
func endpoint() (network, address string, err error) {
	cfg, err := config.LoadProfile(profileDir)
	if err != nil {
		return "", "", err
	}
	network, address = cfg.Server.Network, cfg.Server.Address
	if networkFlag != "" {
		network = networkFlag
	}
	if addrFlag != "" {
		address = addrFlag
	}
	return network, address, nil
}

// rpcCall dials, performs one call with retries and returns the response.
// Operation failures reported by the server come back as *ipc.Error.
func rpcCall(ctx context.Context, method string, params any) (*ipc.Response, error) {
	network, address, err := endpoint()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := client.Dial(ctx, network, address, client.Options{})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	resp, err := c.CallWithRetry(ctx, method, params, retries)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return resp, describeError(resp.Error)
	}
	return resp, nil
}

func describeError(e *ipc.Error) error {
	if e.Data == nil {
		return e
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return e
	}
	return fmt.Errorf("%w %s", e, data)
}

func printResult(resp *ipc.Response) error {
	var v any
	if err := resp.Decode(&v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
