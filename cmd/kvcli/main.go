// cmd/kvcli is the CLI entry-point built with Cobra.
//
// Usage:
//
//	kvcli set mykey "hello world"      --server 127.0.0.1:9999
//	kvcli get mykey                    --server 127.0.0.1:9999
//	kvcli delete mykey                 --server 127.0.0.1:9999
//	kvcli bulk-set a=1 b=2             --server 127.0.0.1:9999
//	kvcli search hello                 --server 127.0.0.1:9999
//	kvcli search-similar "hello world" --top-k 5
//	kvcli role                         --server 127.0.0.1:9999
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kvstore/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
	simFail    bool
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for the durable key-value store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"127.0.0.1:9999", "node client address (host:port)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"request timeout")

	root.AddCommand(getCmd(), setCmd(), deleteCmd(), bulkSetCmd(), searchCmd(), searchSimilarCmd(), roleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			value, found, err := c.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			prettyPrint(value)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a key-value pair (value is parsed as JSON, falling back to a string)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.Set(context.Background(), args[0], parseValue(args[1]), simFail)
		},
	}
	cmd.Flags().BoolVar(&simFail, "debug-simulate-fail", false, "exercise the server's snapshot-skip failure path")
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0], simFail); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&simFail, "debug-simulate-fail", false, "exercise the server's snapshot-skip failure path")
	return cmd
}

func bulkSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-set <key=value> [key=value...]",
		Short: "Set multiple key-value pairs atomically",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]client.KV, 0, len(args))
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("invalid pair %q: expected key=value", arg)
				}
				items = append(items, client.KV{Key: k, Value: parseValue(v)})
			}
			c := client.New(serverAddr, timeout)
			return c.BulkSet(context.Background(), items, simFail)
		},
	}
	cmd.Flags().BoolVar(&simFail, "debug-simulate-fail", false, "exercise the server's snapshot-skip failure path")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text AND search over stored values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			keys, err := c.Search(context.Background(), args[0])
			if err != nil {
				return err
			}
			prettyPrint(keys)
			return nil
		},
	}
}

func searchSimilarCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search-similar <query>",
		Short: "Bag-of-words similarity search over stored values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			results, err := c.SearchSimilar(context.Background(), args[0], topK)
			if err != nil {
				return err
			}
			prettyPrint(results)
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 10, "number of results to return")
	return cmd
}

func roleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role",
		Short: "Report whether the node is primary, and its node id",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			isPrimary, nodeID, err := c.Role(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(map[string]any{"primary": isPrimary, "node_id": nodeID})
			return nil
		},
	}
}

// parseValue tries to parse arg as JSON; if that fails, it is sent as a
// plain string. This lets `kvcli set k 42` store a number while
// `kvcli set k hello` stores a string without extra quoting.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}
	return arg
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
