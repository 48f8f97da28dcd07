package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/masking"
	"github.com/famulus-ai/famulus/pkg/models"
)

// Indexer records tool output into the user's long-term memory. Satisfied
// by memory.Manager.
type Indexer interface {
	AddLong(ctx context.Context, tenantID, userID, content string, kind models.MemoryKind, importance float64, sourceSessions []string) (*models.MemoryEntry, error)
}

// Notifier publishes notifications. Satisfied by notify.Center.
type Notifier interface {
	Publish(ctx context.Context, n *models.Notification) (*models.Notification, error)
}

// Call identifies one tool invocation request.
type Call struct {
	TenantID  string
	UserID    string
	SessionID string
	Tool      string
	Args      map[string]any
}

// Invoker runs tool calls through the full pipeline: schema validation,
// per-tool deadline, bounded retries for retriable kinds, auto-indexing of
// index-worthy output. Failures are encoded in the returned ToolResult,
// never as Go errors.
type Invoker struct {
	registry *Registry
	defaults *config.Defaults
	memCfg   *config.MemoryConfig
	indexer  Indexer
	masker   *masking.Service
	notifier Notifier
	logger   *slog.Logger

	// newBackOff builds the retry policy per invocation; replaceable in tests.
	newBackOff func() backoff.BackOff
}

// NewInvoker creates an Invoker. indexer, masker and notifier are optional:
// without an indexer nothing is auto-indexed, without a notifier auth
// failures are only logged.
func NewInvoker(registry *Registry, defaults *config.Defaults, memCfg *config.MemoryConfig, indexer Indexer, masker *masking.Service, notifier Notifier) *Invoker {
	return &Invoker{
		registry:   registry,
		defaults:   defaults,
		memCfg:     memCfg,
		indexer:    indexer,
		masker:     masker,
		notifier:   notifier,
		logger:     slog.Default().With("component", "tools.invoker"),
		newBackOff: defaultBackOff,
	}
}

// defaultBackOff is the retry policy for retriable failures: exponential
// 1s/2s/4s with ±20% jitter. Attempt budget is applied per invocation.
func defaultBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.RandomizationFactor = 0.2
	policy.Multiplier = 2
	policy.MaxInterval = 4 * time.Second
	policy.MaxElapsedTime = 0 // bounded by attempts, not wall clock
	return policy
}

// OverrideBackOffForTest replaces the retry policy factory. For testing only.
func (i *Invoker) OverrideBackOffForTest(fn func() backoff.BackOff) {
	i.newBackOff = fn
}

// Invoke executes one tool call end to end.
func (i *Invoker) Invoke(ctx context.Context, call Call) *models.ToolResult {
	started := time.Now()
	result := &models.ToolResult{
		Tool:       call.Tool,
		ArgsDigest: argsDigest(call.Args),
		Status:     models.ToolError,
	}

	binding, ok := i.registry.Get(call.Tool)
	if !ok {
		result.ErrorKind = models.ErrKindBadArgs
		result.Error = fmt.Sprintf("unknown tool %q", call.Tool)
		result.Duration = time.Since(started)
		return result
	}

	if err := binding.ValidateArgs(call.Args); err != nil {
		result.ErrorKind = models.ErrKindBadArgs
		result.Error = fmt.Sprintf("invalid arguments: %v", err)
		result.Duration = time.Since(started)
		return result
	}

	output, attempts, err := i.execute(ctx, binding, call)
	result.Attempts = attempts
	result.Duration = time.Since(started)

	if err != nil {
		kind := KindOf(err)
		result.ErrorKind = kind
		result.Error = err.Error()
		if kind == models.ErrKindAuthRequired || kind == models.ErrKindSafetyBlocked {
			result.Status = models.ToolDenied
		}
		if kind == models.ErrKindAuthRequired {
			i.publishReauth(ctx, call, err)
		}
		i.logger.Warn("tool call failed",
			"tool", call.Tool, "kind", kind, "attempts", attempts, "error", err)
		return result
	}

	result.Status = models.ToolOK
	result.Output = output

	if binding.Descriptor.IndexWorthy && i.indexer != nil && output != "" {
		result.Indexing = i.autoIndex(ctx, binding, call, output)
	}
	return result
}

// execute runs the handler with the per-tool deadline, retrying retriable
// failures up to the attempt budget.
func (i *Invoker) execute(ctx context.Context, binding *Binding, call Call) (string, int, error) {
	timeout := i.timeoutFor(binding)
	maxAttempts := i.defaults.ToolMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	inv := Invocation{
		TenantID:  call.TenantID,
		UserID:    call.UserID,
		SessionID: call.SessionID,
		Args:      call.Args,
	}

	var output string
	attempts := 0
	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := binding.Handler.Call(attemptCtx, inv)
		if err != nil {
			if !KindOf(err).Retriable() {
				return backoff.Permanent(err)
			}
			return err
		}
		output = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(i.newBackOff(), uint64(maxAttempts-1)), ctx)
	err := backoff.Retry(operation, policy)
	return output, attempts, err
}

// timeoutFor resolves the per-call deadline: binding override or default,
// clamped to the configured maximum.
func (i *Invoker) timeoutFor(binding *Binding) time.Duration {
	timeout := i.defaults.ToolTimeout
	if binding.Timeout > 0 {
		timeout = binding.Timeout
	}
	if timeout <= 0 {
		timeout = config.DefaultToolTimeout
	}
	if max := i.defaults.ToolTimeoutMax; max > 0 && timeout > max {
		timeout = max
	}
	return timeout
}

// autoIndexImportance is the importance assigned to auto-indexed output.
// Kept below the integrity checker's 0.7 comparison floor.
const autoIndexImportance = 0.5

// autoIndex writes masked, truncated tool output into the user's long-term
// memory; the fingerprint upsert absorbs repeated results. Best-effort:
// failures are reported in the stats and logged, never raised.
func (i *Invoker) autoIndex(ctx context.Context, binding *Binding, call Call, output string) *models.IndexingStats {
	stats := &models.IndexingStats{}

	content := output
	if i.masker != nil {
		content = i.masker.MaskForIndex(content, binding.Masking)
	}

	if maxChars := i.indexMaxChars(); maxChars > 0 && len(content) > maxChars {
		content = content[:maxChars]
		stats.Truncated = true
	}

	// Indexing survives request cancellation: the result was already produced.
	indexCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var sources []string
	if call.SessionID != "" {
		sources = []string{call.SessionID}
	}
	entry, err := i.indexer.AddLong(indexCtx, call.TenantID, call.UserID, content, models.MemoryFact, autoIndexImportance, sources)
	if err != nil {
		stats.FailReason = err.Error()
		i.logger.Warn("auto-index failed",
			"tool", call.Tool, "session_id", call.SessionID, "error", err)
		return stats
	}

	stats.Indexed = true
	stats.MemoryID = entry.ID
	return stats
}

func (i *Invoker) indexMaxChars() int {
	if i.memCfg == nil {
		return 0
	}
	return i.memCfg.IndexMaxChars
}

// publishReauth raises a high-priority re-auth notification when a tool call
// fails with expired credentials. Best-effort.
func (i *Invoker) publishReauth(ctx context.Context, call Call, cause error) {
	if i.notifier == nil {
		return
	}
	n := &models.Notification{
		TenantID:    call.TenantID,
		UserID:      call.UserID,
		SessionID:   call.SessionID,
		Type:        models.NotifyReauthRequired,
		Priority:    models.PriorityHigh,
		Title:       fmt.Sprintf("Re-authentication required for %s", call.Tool),
		Body:        cause.Error(),
		ReferenceID: call.Tool,
	}
	if _, err := i.notifier.Publish(ctx, n); err != nil {
		i.logger.Warn("failed to publish re-auth notification",
			"tool", call.Tool, "error", err)
	}
}

// argsDigest is a short stable fingerprint of the argument object for result
// records and logs. Map keys are sorted by the JSON encoder.
func argsDigest(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:12]
}
