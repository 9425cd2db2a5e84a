package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/companion/agent/runtime"
)

// =============================================================================
// 🤖 agent 命令
// =============================================================================

func newAgentCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentCreateCommand(root))
	return cmd
}

func newAgentCreateCommand(root *rootOptions) *cobra.Command {
	var (
		req    runtime.CreateAgentRequest
		traits map[string]string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent and print its ID",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseTraits(traits)
			if err != nil {
				return err
			}
			req.Traits = parsed

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.Close(ctx)
			}()

			id, err := a.runtime.CreateAgent(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Agent name (required)")
	cmd.Flags().StringVar(&req.UserID, "user", "local", "Owner user ID")
	cmd.Flags().StringVar(&req.Persona, "persona", "", "Persona text; {{name}} is replaced with the agent name")
	cmd.Flags().StringToStringVar(&traits, "trait", nil, "Personality trait as name=value in [0,1], repeatable")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// parseTraits 解析 name=value 形式的性格特征
func parseTraits(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	traits := make(map[string]float64, len(raw))
	for name, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("trait %s: %w", name, err)
		}
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("trait %s: value %v out of range [0,1]", name, f)
		}
		traits[name] = f
	}
	return traits, nil
}
