package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rexliu/liveprobe/pkg/config"
)

const cliVersion = "0.3.0"

func initCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a local profile (writes config.toml)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(profileDir, 0o700); err != nil {
				return err
			}
			configPath := filepath.Join(profileDir, config.FileName)
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}
			cfg := config.DefaultConfig(name)
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("initialized profile %s at %s\n", cfg.ProfileName, profileDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "dev", "Profile name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config if present")
	return cmd
}

func handshakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Print server identity and available methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), "handshake", nil)
			if err != nil {
				return err
			}
			var data struct {
				Server   string   `json:"server"`
				Version  string   `json:"version"`
				Protocol string   `json:"protocol"`
				Methods  []string `json:"methods"`
			}
			if err := resp.Decode(&data); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			fmt.Printf("%s %s (%s)\n", data.Server, data.Version, data.Protocol)
			fmt.Printf("methods: %s\n", strings.Join(data.Methods, ", "))
			return nil
		},
	}
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Send an arbitrary request",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params must be valid JSON")
				}
				params = json.RawMessage(args[1])
			}
			resp, err := rpcCall(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
}

func inspectCmd() *cobra.Command {
	var typeName string
	var depth int
	cmd := &cobra.Command{
		Use:   "inspect <object>",
		Short: "Dump a live object (or one of its components)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"object_name": args[0]}
			if typeName != "" {
				params["object_type"] = typeName
			}
			if depth > 0 {
				params["depth"] = depth
			}
			resp, err := rpcCall(cmd.Context(), "inspect_object", params)
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "Component type to select")
	cmd.Flags().IntVar(&depth, "depth", 0, "Traversal depth (1-10)")
	return cmd
}

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types [filter]",
		Short: "List registered types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if len(args) == 1 {
				params["filter"] = args[0]
			}
			resp, err := rpcCall(cmd.Context(), "list_types", params)
			if err != nil {
				return err
			}
			var data struct {
				Types []string `json:"types"`
				Count int      `json:"count"`
			}
			if err := resp.Decode(&data); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			for _, t := range data.Types {
				fmt.Println(t)
			}
			fmt.Printf("%d types\n", data.Count)
			return nil
		},
	}
}

func findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <query>",
		Short: "Rank registered types against a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), "find_type", map[string]any{"query": args[0]})
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <type>",
		Short: "List fields, properties and methods of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), "describe_type", map[string]any{"type_name": args[0]})
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
}

func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent exchanges from the server journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), "get_request_log", map[string]any{"limit": limit})
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries")
	return cmd
}

func diagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print profile configuration paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProfile(profileDir)
			if err != nil {
				return err
			}
			fmt.Printf("Profile: %s\n", cfg.ProfileName)
			fmt.Printf("Config: %s\n", filepath.Join(profileDir, config.FileName))
			fmt.Printf("Listen: %s %s\n", cfg.Server.Network, cfg.Server.Address)
			fmt.Printf("Heartbeat: %s\n", cfg.Server.HeartbeatInterval)
			fmt.Printf("Journal: %s (enabled=%t, keep=%d)\n", cfg.Journal.DBPath, cfg.Journal.Enabled, cfg.Journal.MaxEntries)
			if cfg.Logging.FilePath != "" {
				fmt.Printf("Log File: %s\n", cfg.Logging.FilePath)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("probe %s\n", cliVersion)
		},
	}
}
