package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/companion/agent/brain"
	"github.com/BaSui01/companion/agent/memory"
	"github.com/BaSui01/companion/agent/runtime"
	"github.com/BaSui01/companion/internal/telemetry"
	"github.com/BaSui01/companion/types"
)

// =============================================================================
// 💬 chat 命令
// =============================================================================

type chatOptions struct {
	agentID string
	userID  string
	channel string
	stream  bool
}

func newChatCommand(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation with an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.agentID, "agent", "", "Agent ID (required)")
	cmd.Flags().StringVar(&opts.userID, "user", "local", "User ID")
	cmd.Flags().StringVar(&opts.channel, "channel", "console", "External channel ID")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream tokens as they arrive (bypasses the engine layer)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func runChat(cmd *cobra.Command, root *rootOptions, opts *chatOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProviders.Shutdown(shutdownCtx)
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ExtractionTimeout+5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Addr, a.registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Memory.DecayInterval > 0 {
		scheduler := memory.NewDecayScheduler(a.memory, a.store, cfg.Memory.DecayInterval, cfg.Memory.DecayFactor, logger)
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	convID, err := a.runtime.GetOrCreateConversation(ctx, runtime.ConversationRequest{
		AgentID:           opts.agentID,
		UserID:            opts.userID,
		ChannelType:       types.ChannelDirect,
		ExternalChannelID: opts.channel,
	})
	if err != nil {
		return err
	}

	session := &chatSession{
		agentID:        opts.agentID,
		userID:         opts.userID,
		channelID:      opts.channel,
		conversationID: convID,
		stream:         opts.stream,
		brain:          a.brain,
		streamer:       a.runtime,
		exec:           newConsoleExecutor(cmd.OutOrStdout(), a.memory, defaultTools(), logger),
		out:            cmd.OutOrStdout(),
		logger:         logger,
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to agent %s (conversation %s). Type /quit to exit.\n", opts.agentID, convID)
	return session.run(ctx, cmd.InOrStdin())
}

// =============================================================================
// 🔁 REPL
// =============================================================================

// turnProcessor 事件 → 意图，由 brain.Brain 实现
type turnProcessor interface {
	Process(ctx context.Context, ev brain.Event) ([]brain.Intent, error)
}

// streamer 流式单轮对话，由 runtime.Runtime 实现
type streamer interface {
	HandleMessageStream(ctx context.Context, req runtime.MessageRequest) (<-chan runtime.StreamEvent, error)
}

type chatSession struct {
	agentID        string
	userID         string
	channelID      string
	conversationID string
	stream         bool

	brain    turnProcessor
	streamer streamer
	exec     *consoleExecutor
	out      io.Writer
	logger   *zap.Logger
}

// run 逐行读取输入直到 EOF、/quit 或 ctx 取消
func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			}
			s.turn(ctx, line)
			s.flushScheduled(ctx)
		}
	}
}

func (s *chatSession) turn(ctx context.Context, content string) {
	if reason, restricted := s.exec.Restricted(s.userID); restricted {
		fmt.Fprintf(s.out, "[blocked] %s\n", reason)
		return
	}
	if s.stream {
		s.streamTurn(ctx, content)
		return
	}

	ev := brain.Event{
		ID:             uuid.NewString(),
		AgentID:        s.agentID,
		UserID:         s.userID,
		ConversationID: s.conversationID,
		ChannelID:      s.channelID,
		MessageID:      uuid.NewString(),
		Content:        content,
		Timestamp:      time.Now(),
	}
	intents, err := s.brain.Process(ctx, ev)
	if err != nil {
		fmt.Fprintf(s.out, "[error] %v\n", err)
		return
	}
	if len(intents) == 0 {
		fmt.Fprintln(s.out, "[no response]")
		return
	}
	if err := brain.Dispatch(ctx, s.exec, intents); err != nil {
		s.logger.Warn("intent dispatch failed", zap.String("event_id", ev.ID), zap.Error(err))
		fmt.Fprintf(s.out, "[error] %v\n", err)
	}
}

func (s *chatSession) streamTurn(ctx context.Context, content string) {
	events, err := s.streamer.HandleMessageStream(ctx, runtime.MessageRequest{
		AgentID:        s.agentID,
		UserID:         s.userID,
		ConversationID: s.conversationID,
		Content:        content,
	})
	if err != nil {
		fmt.Fprintf(s.out, "[rejected] %v\n", err)
		return
	}

	started := false
	for ev := range events {
		if !ev.Done {
			if !started {
				fmt.Fprint(s.out, "< ")
				started = true
			}
			fmt.Fprint(s.out, ev.Delta)
			continue
		}
		if started {
			fmt.Fprintln(s.out)
		}
		switch {
		case ev.Err != nil:
			fmt.Fprintf(s.out, "[error] %v\n", ev.Err)
		case ev.Blocked:
			// 被拦截的输出不会以 Delta 形式到达，只显示兜底回复
			fmt.Fprintf(s.out, "< %s\n", ev.Response)
		}
	}
}

func (s *chatSession) flushScheduled(ctx context.Context) {
	for _, post := range s.exec.DuePosts() {
		reply := brain.NewReply(post.Source, post.Priority, post.ChannelID, post.Content, "")
		if err := s.exec.Reply(ctx, reply); err != nil {
			s.logger.Warn("scheduled post failed", zap.Error(err))
		}
	}
}
