package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/liveprobe/pkg/ids"
)

type snapshot struct {
	ID       string          `json:"id"`
	Object   string          `json:"object"`
	Type     string          `json:"type,omitempty"`
	TakenAt  time.Time       `json:"taken_at"`
	Contents json.RawMessage `json:"contents"`
}

func snapshotCmd() *cobra.Command {
	var typeName, out string
	var depth int
	cmd := &cobra.Command{
		Use:   "snapshot <object>",
		Short: "Save an object dump as JSON",
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
			now := time.Now().UTC()
			snap := snapshot{ID: ids.NewAt(now), Object: args[0], Type: typeName, TakenAt: now, Contents: resp.Result}
			if out == "" {
				out = filepath.Join(profileDir, "snapshots", snap.ID+".json")
			}
			if err := writeSnapshot(out, snap); err != nil {
				return err
			}
			fmt.Printf("snapshot %s written to %s\n", snap.ID, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "Component type to select")
	cmd.Flags().IntVar(&depth, "depth", 0, "Traversal depth (1-10)")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default <profile>/snapshots/<id>.json)")
	return cmd
}

func writeSnapshot(path string, snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
