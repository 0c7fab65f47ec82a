// seqctl 是序列计数器的运维工具：分配、查看、重置编号，检查存储连通性。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/seq"
)

var (
	configPath string
	backend    string
	env        string
	count      int
	confirmed  bool
)

var rootCmd = &cobra.Command{
	Use:           "seqctl",
	Short:         "Inspect and operate bank-kit sequence counters",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var nextCmd = &cobra.Command{
	Use:   "next <sequence>",
	Short: "Allocate the next id(s) of a sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAllocator(cmd.Context(), func(ctx context.Context, alloc seq.Allocator) error {
			for i := 0; i < count; i++ {
				id, err := alloc.Allocate(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <sequence>",
	Short: "Print the last allocated id of a sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAllocator(cmd.Context(), func(ctx context.Context, alloc seq.Allocator) error {
			value, found, err := alloc.Current(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no counter\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], strconv.FormatInt(value, 10))
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <sequence>",
	Short: "Delete the counter of a sequence so the next id is 1",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed {
			return fmt.Errorf("refusing to reset %q without --yes", args[0])
		}
		return withAllocator(cmd.Context(), func(ctx context.Context, alloc seq.Allocator) error {
			if err := alloc.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: reset\n", args[0])
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the counter store is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAllocator(cmd.Context(), func(ctx context.Context, alloc seq.Allocator) error {
			if err := alloc.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "counter store backend: mongo, etcd, pebble, memory")
	rootCmd.PersistentFlags().StringVar(&env, "env", getEnv("APP_ENV", "development"), "environment used for defaults")

	nextCmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids to allocate")
	resetCmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")

	rootCmd.AddCommand(nextCmd, showCmd, resetCmd, healthCmd)
}

// withAllocator 按配置打开存储和分配器，执行 fn 后关闭
func withAllocator(ctx context.Context, fn func(ctx context.Context, alloc seq.Allocator) error) error {
	cfg, err := loadConfig(env, configPath, backend)
	if err != nil {
		return err
	}
	if err := clog.Init(ctx, cfg.Log, clog.WithNamespace("seqctl")); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := seq.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	alloc, err := seq.New(ctx, cfg.Allocator, store)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer alloc.Close()
	return fn(ctx, alloc)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		clog.Error("seqctl failed", clog.Err(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
