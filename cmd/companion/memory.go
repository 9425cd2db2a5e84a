package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/companion/agent/memory"
)

// =============================================================================
// 🧠 memory 命令
// =============================================================================

func newMemoryCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Maintain long-term memories",
	}
	cmd.AddCommand(newMemoryDecayCommand(root), newMemoryGCCommand(root))
	return cmd
}

func newMemoryDecayCommand(root *rootOptions) *cobra.Command {
	var (
		agentID string
		factor  float64
	)
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Multiply memory salience by a decay factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			st, err := openStorage(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if factor == 0 {
				factor = cfg.Memory.DecayFactor
			}
			// 衰减与清理不需要嵌入或抽取
			mgr := memory.NewManager(st.store, nil, nil, cfg.Memory, memory.WithLogger(logger))

			if agentID != "" {
				n, err := mgr.Decay(cmd.Context(), agentID, factor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "decayed %d memories\n", n)
				return nil
			}

			scheduler := memory.NewDecayScheduler(mgr, st.store, time.Hour, factor, logger)
			decayed, purged, err := scheduler.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "decayed %d memories, purged %d expired\n", decayed, purged)
			if err != nil {
				logger.Warn("decay round incomplete", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Only decay this agent's memories")
	cmd.Flags().Float64Var(&factor, "factor", 0, "Decay factor in (0,1); defaults to memory.decay_factor")
	return cmd
}

func newMemoryGCCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete expired memories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			st, err := openStorage(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			mgr := memory.NewManager(st.store, nil, nil, cfg.Memory, memory.WithLogger(logger))
			n, err := mgr.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired memories\n", n)
			return nil
		},
	}
}
