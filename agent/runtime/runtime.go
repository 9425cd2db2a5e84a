package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/internal/telemetry"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/llm/tokenizer"
	"github.com/BaSui01/companion/types"
)

// Deps 运行时依赖，除 Memory 外均为必需
type Deps struct {
	Store     Store
	Limiter   RateLimiter
	Moderator Moderator
	Memory    MemoryService
	Prompt    PromptBuilder
	LLM       LanguageModel
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("runtime: store is required")
	case d.Limiter == nil:
		return errors.New("runtime: rate limiter is required")
	case d.Moderator == nil:
		return errors.New("runtime: moderator is required")
	case d.Prompt == nil:
		return errors.New("runtime: prompt builder is required")
	case d.LLM == nil:
		return errors.New("runtime: language model is required")
	}
	return nil
}

// Option Runtime 可选项
type Option func(*Runtime)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Runtime) { r.metrics = collector }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithTokenizer 设置用于记录消息 Token 数的分词器
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(r *Runtime) { r.tokenizer = tok }
}

// Runtime 单轮对话处理流水线
type Runtime struct {
	deps      Deps
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	tokenizer tokenizer.Tokenizer
	now       func() time.Time

	// 后台记忆抽取
	extractSem *semaphore.Weighted
	bgCtx      context.Context
	bgCancel   context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
}

// New 创建运行时
func New(deps Deps, cfg Config, opts ...Option) (*Runtime, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentExtracts <= 0 {
		cfg.MaxConcurrentExtracts = 1
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 30 * time.Second
	}

	r := &Runtime{
		deps:       deps,
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
		extractSem: semaphore.NewWeighted(cfg.MaxConcurrentExtracts),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "agent_runtime"))
	r.bgCtx, r.bgCancel = context.WithCancel(context.Background())
	return r, nil
}

// =============================================================================
// 💬 同步处理
// =============================================================================

// HandleMessage 处理一条消息并返回完整回复
func (r *Runtime) HandleMessage(ctx context.Context, req MessageRequest) (resp *MessageResponse, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "runtime.HandleMessage",
		attribute.String("agent_id", req.AgentID),
		attribute.String("conversation_id", req.ConversationID))
	defer func() {
		telemetry.EndSpan(span, err)
		r.metrics.RecordTurn("sync", turnStatus(err), time.Since(start))
	}()

	t, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	completion, err := r.deps.LLM.Complete(ctx, t.messages)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	return r.finish(ctx, t, completion.Content, completion.Usage.TotalTokens, completion.Usage.CompletionTokens)
}

// =============================================================================
// 🌊 流式处理
// =============================================================================

// HandleMessageStream 流式处理一条消息。限流、审核与上下文加载的错误同步返回；
// 之后的错误通过最后一个事件的 Err 返回。通道有限且只能消费一次。
// Delta 事件在输出审核通过后才发出；输出被拦截时只有携带兜底回复的最终事件。
func (r *Runtime) HandleMessageStream(ctx context.Context, req MessageRequest) (<-chan StreamEvent, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "runtime.HandleMessageStream",
		attribute.String("agent_id", req.AgentID),
		attribute.String("conversation_id", req.ConversationID))

	fail := func(err error) (<-chan StreamEvent, error) {
		telemetry.EndSpan(span, err)
		r.metrics.RecordTurn("stream", turnStatus(err), time.Since(start))
		return nil, err
	}

	t, err := r.prepare(ctx, req)
	if err != nil {
		return fail(err)
	}

	chunks, err := r.deps.LLM.CompleteStream(ctx, t.messages)
	if err != nil {
		return fail(fmt.Errorf("generate reply: %w", err))
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		err := r.forwardStream(ctx, t, chunks, out)
		telemetry.EndSpan(span, err)
		r.metrics.RecordTurn("stream", turnStatus(err), time.Since(start))
	}()
	return out, nil
}

// forwardStream 收集模型输出，输出审核通过后才按原分片顺序转发，被拦截的内容不会到达调用方
func (r *Runtime) forwardStream(ctx context.Context, t *turn, chunks <-chan llm.StreamChunk, out chan<- StreamEvent) error {
	send := func(ev StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		deltas           []string
		full             strings.Builder
		totalTokens      int
		completionTokens int
	)
	for chunk := range chunks {
		if chunk.Err != nil {
			err := fmt.Errorf("generate reply: %w", chunk.Err)
			for range chunks {
			}
			send(StreamEvent{Done: true, Err: err})
			return err
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
			completionTokens = chunk.Usage.CompletionTokens
		}
		if chunk.Delta == "" {
			continue
		}
		full.WriteString(chunk.Delta)
		deltas = append(deltas, chunk.Delta)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := r.finish(ctx, t, full.String(), totalTokens, completionTokens)
	if err != nil {
		send(StreamEvent{Done: true, Err: err})
		return err
	}
	if !resp.OutputBlocked {
		for _, d := range deltas {
			if !send(StreamEvent{Delta: d}) {
				return ctx.Err()
			}
		}
	}
	send(StreamEvent{
		Done:     true,
		Response: resp.Response,
		Blocked:  resp.OutputBlocked,
		Tokens:   resp.Tokens,
	})
	return nil
}

// =============================================================================
// 🧩 流水线阶段
// =============================================================================

// turn 单轮处理的中间状态
type turn struct {
	req      MessageRequest
	actx     types.AgentContext
	messages []types.Message
}

// prepare 限流 → 输入审核 → 加载上下文 → 检索记忆 → 组装 Prompt
func (r *Runtime) prepare(ctx context.Context, req MessageRequest) (*turn, error) {
	if err := validateMessageRequest(req); err != nil {
		return nil, err
	}
	ctx = types.WithUserID(types.WithAgentID(ctx, req.AgentID), req.UserID)

	// Admitted
	limit := r.deps.Limiter.Allow(ctx, "user:"+req.UserID)
	if !limit.Allowed {
		return nil, types.NewError(types.ErrRateLimitExceeded,
			fmt.Sprintf("rate limit exceeded, retry after %s", limit.ResetAt.Format(time.RFC3339)))
	}

	// InputChecked
	if verdict := r.deps.Moderator.Moderate(ctx, req.Content); !verdict.Safe {
		r.logger.Info("input blocked",
			zap.String("agent_id", req.AgentID),
			zap.String("user_id", req.UserID),
			zap.String("reason", verdict.Reason))
		return nil, types.NewError(types.ErrContentBlocked, verdict.Reason)
	}

	// ContextLoaded
	agent, err := r.deps.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	conv, err := r.deps.Store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.AgentID != req.AgentID || conv.UserID != req.UserID {
		return nil, types.NewError(types.ErrInvalidRequest, "conversation does not belong to this agent and user")
	}
	history, err := r.deps.Store.RecentMessages(ctx, req.ConversationID, r.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	// MemoryRetrieved
	var memories []types.Memory
	if r.deps.Memory != nil {
		memories, err = r.deps.Memory.Retrieve(ctx, req.AgentID, req.Content, req.UserID, r.cfg.MemoryLimit)
		if err != nil {
			r.logger.Warn("memory retrieval failed, continuing without memories",
				zap.String("agent_id", req.AgentID),
				zap.Error(err))
			memories = nil
		}
	}

	actx := types.AgentContext{Agent: *agent, History: history, Memories: memories}
	return &turn{
		req:      req,
		actx:     actx,
		messages: r.deps.Prompt.BuildMessages(actx, req.Content),
	}, nil
}

// finish 输出审核 → 持久化 → 调度记忆抽取
func (r *Runtime) finish(ctx context.Context, t *turn, content string, totalTokens, completionTokens int) (*MessageResponse, error) {
	resp := &MessageResponse{
		Response:     content,
		Tokens:       totalTokens,
		MemoriesUsed: len(t.actx.Memories),
	}

	// OutputChecked
	if verdict := r.deps.Moderator.Moderate(ctx, content); !verdict.Safe {
		r.logger.Warn("output blocked, replacing with fallback",
			zap.String("agent_id", t.req.AgentID),
			zap.String("reason", verdict.Reason))
		r.metrics.RecordModerationBlock("output")
		resp.Response = r.cfg.FallbackReply
		resp.OutputBlocked = true
		completionTokens = 0
	}

	// Persisted
	now := r.now()
	userMsg := types.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: t.req.ConversationID,
		Speaker:        types.SpeakerUser,
		Content:        t.req.Content,
		Tokens:         r.countTokens(t.req.Content),
		CreatedAt:      now,
	}
	agentMsg := types.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: t.req.ConversationID,
		Speaker:        types.SpeakerAgent,
		Content:        resp.Response,
		Tokens:         completionTokens,
		CreatedAt:      now,
	}
	if agentMsg.Tokens == 0 {
		agentMsg.Tokens = r.countTokens(resp.Response)
	}
	if err := r.deps.Store.AppendTurn(ctx, userMsg, agentMsg); err != nil {
		if types.GetErrorCode(err) == "" {
			err = types.NewError(types.ErrStorageFailure, "persist turn").WithCause(err)
		}
		return nil, err
	}

	r.scheduleExtraction(t.req, []types.ChatMessage{userMsg, agentMsg})
	return resp, nil
}

func (r *Runtime) countTokens(text string) int {
	if r.tokenizer == nil {
		return 0
	}
	n, err := tokenizer.CountMessage(r.tokenizer, text)
	if err != nil {
		return 0
	}
	return n
}

func validateMessageRequest(req MessageRequest) error {
	switch {
	case req.AgentID == "":
		return types.NewError(types.ErrInvalidRequest, "agent id is required")
	case req.UserID == "":
		return types.NewError(types.ErrInvalidRequest, "user id is required")
	case req.ConversationID == "":
		return types.NewError(types.ErrInvalidRequest, "conversation id is required")
	case strings.TrimSpace(req.Content) == "":
		return types.NewError(types.ErrInvalidRequest, "message content is empty")
	}
	return nil
}

// turnStatus 指标标签
func turnStatus(err error) string {
	if err == nil {
		return "ok"
	}
	switch types.GetErrorCode(err) {
	case types.ErrRateLimitExceeded:
		return "rate_limited"
	case types.ErrContentBlocked:
		return "blocked"
	case types.ErrAgentNotFound, types.ErrConversationNotFound, types.ErrInvalidRequest:
		return "rejected"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// =============================================================================
// 🧠 后台记忆抽取
// =============================================================================

func (r *Runtime) scheduleExtraction(req MessageRequest, turns []types.ChatMessage) {
	if r.deps.Memory == nil {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !r.extractSem.TryAcquire(1) {
		r.mu.Unlock()
		r.metrics.RecordExtractionSkipped()
		r.logger.Debug("extraction skipped, too many in flight", zap.String("agent_id", req.AgentID))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.extractSem.Release(1)

		ctx, cancel := context.WithTimeout(r.bgCtx, r.cfg.ExtractionTimeout)
		defer cancel()
		ctx = types.WithUserID(types.WithAgentID(ctx, req.AgentID), req.UserID)

		stored, err := r.deps.Memory.ExtractFromConversation(ctx, req.AgentID, req.UserID, turns)
		if err != nil {
			r.metrics.RecordExtractionFailure()
			r.logger.Warn("memory extraction failed",
				zap.String("agent_id", req.AgentID),
				zap.String("user_id", req.UserID),
				zap.Error(err))
			return
		}
		if len(stored) > 0 {
			r.logger.Debug("memories extracted",
				zap.String("agent_id", req.AgentID),
				zap.Int("count", len(stored)))
		}
	}()
}

// Close 停止接收新的抽取任务并等待进行中的任务；ctx 到期时取消剩余任务
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.bgCancel()
		return nil
	case <-ctx.Done():
		r.bgCancel()
		<-done
		return ctx.Err()
	}
}

// =============================================================================
// 🤖 Agent 与会话
// =============================================================================

// CreateAgent 创建 Agent 并返回其 ID
func (r *Runtime) CreateAgent(ctx context.Context, req CreateAgentRequest) (string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", types.NewError(types.ErrInvalidRequest, "agent name is required")
	}
	if req.UserID == "" {
		return "", types.NewError(types.ErrInvalidRequest, "owner user id is required")
	}
	persona := strings.TrimSpace(req.Persona)
	if persona == "" {
		persona = DefaultPersona
	}

	now := r.now()
	agent := &types.Agent{
		ID:        uuid.NewString(),
		OwnerID:   req.UserID,
		Name:      name,
		Persona:   persona,
		Traits:    req.Traits,
		Mood:      initialMood,
		Energy:    initialEnergy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.deps.Store.CreateAgent(ctx, agent); err != nil {
		return "", err
	}

	r.logger.Info("agent created",
		zap.String("agent_id", agent.ID),
		zap.String("owner_id", agent.OwnerID))
	return agent.ID, nil
}

// GetOrCreateConversation 返回 (agent, user, channel) 对应的会话 ID
func (r *Runtime) GetOrCreateConversation(ctx context.Context, req ConversationRequest) (string, error) {
	if req.AgentID == "" || req.UserID == "" {
		return "", types.NewError(types.ErrInvalidRequest, "agent id and user id are required")
	}
	if _, err := r.deps.Store.GetAgent(ctx, req.AgentID); err != nil {
		return "", err
	}

	channel := req.ChannelType
	if channel == "" {
		channel = types.ChannelDirect
	}
	conv, err := r.deps.Store.GetOrCreateConversation(ctx, &types.Conversation{
		ID:                uuid.NewString(),
		AgentID:           req.AgentID,
		UserID:            req.UserID,
		ChannelType:       channel,
		ExternalChannelID: req.ExternalChannelID,
		CreatedAt:         r.now(),
	})
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}
