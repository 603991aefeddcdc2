// Package main provides the wsgraph CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"wsgraph/internal/config"
	"wsgraph/internal/graph"
	"wsgraph/internal/snapshot"
	"wsgraph/internal/store"
)

// Version is the current wsgraph CLI version.
var Version = "0.3.0"

var (
	configPath string
	workspace  string
	changeSet  string
)

var rootCmd = &cobra.Command{
	Use:     "wsgraph",
	Short:   "Wsgraph - versioned workspace snapshot graphs",
	Long:    `Wsgraph stores workspace configuration as content-addressed snapshot graphs, diffs them into replayable update batches, and rebases batches across change sets.`,
	Version: Version,
}

var infoCmd = &cobra.Command{
	Use:   "info [address]",
	Short: "Show a snapshot's shape, or the current head when no address is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

var diffCmd = &cobra.Command{
	Use:   "diff <from-address> <to-address>",
	Short: "Show the update batch that turns one snapshot into another",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete unreferenced snapshots past the retention window",
	RunE:  runGC,
}

var gcDryRun bool

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	infoCmd.Flags().StringVar(&workspace, "workspace", "", "workspace to resolve the head in")
	infoCmd.Flags().StringVar(&changeSet, "change-set", "head", "change set to resolve the head in")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what would be deleted without deleting")

	rootCmd.AddCommand(infoCmd, diffCmd, gcCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and opens the store stack: the durable SQLite tier for
// sweeps, fronted by the layered cache for snapshot reads.
func setup() (*config.Config, *store.SQLiteStore, *store.LayeredStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
	durable, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, durable, store.NewLayeredStore(durable), nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, durable, s, err := setup()
	if err != nil {
		return err
	}
	defer durable.Close()

	var addr snapshot.Address
	if len(args) == 1 {
		hash, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		addr = hash
	} else {
		if workspace == "" {
			return fmt.Errorf("pass an address or --workspace to resolve the head")
		}
		head, err := s.Head(ctx, workspace, changeSet)
		if err != nil {
			return err
		}
		if head.IsNil() {
			return fmt.Errorf("%s/%s has no head snapshot", workspace, changeSet)
		}
		addr = snapshot.Address(head)
	}

	g, err := snapshot.Load(ctx, s, addr)
	if err != nil {
		return err
	}

	fmt.Printf("address: %s\n", addr)
	fmt.Printf("root:    %s\n", g.RootID())
	fmt.Printf("merkle:  %s\n", g.RootMerkleHash())
	fmt.Printf("nodes:   %d\n", g.NodeCount())
	fmt.Printf("edges:   %d\n", g.EdgeCount())

	kinds := make(map[graph.NodeKind]int)
	for _, nodeID := range g.NodeIDs() {
		w, err := g.NodeWeight(nodeID)
		if err != nil {
			return err
		}
		kinds[w.Kind()]++
	}
	for _, kind := range []graph.NodeKind{
		graph.KindRoot, graph.KindCategory, graph.KindComponent, graph.KindFunc,
		graph.KindContent, graph.KindProp, graph.KindAttributeValue,
		graph.KindInputSocket, graph.KindOutputSocket, graph.KindOrdering,
	} {
		if kinds[kind] > 0 {
			fmt.Printf("  %-14s %d\n", kind, kinds[kind])
		}
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, durable, s, err := setup()
	if err != nil {
		return err
	}
	defer durable.Close()

	fromAddr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	toAddr, err := parseAddress(args[1])
	if err != nil {
		return err
	}

	from, err := snapshot.Load(ctx, s, fromAddr)
	if err != nil {
		return err
	}
	to, err := snapshot.Load(ctx, s, toAddr)
	if err != nil {
		return err
	}

	updates, err := graph.DetectUpdates(from, to)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		fmt.Println("snapshots are identical")
		return nil
	}
	for _, u := range updates {
		fmt.Println(u)
	}
	fmt.Printf("%d updates\n", len(updates))
	return nil
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, durable, _, err := setup()
	if err != nil {
		return err
	}
	defer durable.Close()

	plan, err := durable.SweepObjects(ctx, store.SweepOptions{
		Retention: cfg.GC.Retention.Std(),
		DryRun:    gcDryRun,
	})
	if err != nil {
		return err
	}
	if gcDryRun {
		fmt.Printf("would delete %d of %d candidate objects\n", plan.Deleted, plan.Examined)
	} else {
		fmt.Printf("deleted %d of %d candidate objects\n", plan.Deleted, plan.Examined)
	}
	return nil
}

func parseAddress(raw string) (snapshot.Address, error) {
	var addr snapshot.Address
	if err := addr.UnmarshalText([]byte(raw)); err != nil {
		return snapshot.Address{}, fmt.Errorf("bad snapshot address %q: %w", raw, err)
	}
	return addr, nil
}
