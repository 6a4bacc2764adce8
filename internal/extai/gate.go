package extai

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/retry"
)

// GateConfig configures the external AI gate.
type GateConfig struct {
	// RequireApproval routes every request through the approval broker.
	RequireApproval bool

	// ApprovalTimeout bounds the wait for a human decision.
	ApprovalTimeout time.Duration
}

// Gate is the single checkpoint for external AI calls.
//
// Every request passes scope policy, the response cache, budget reservation
// and optionally human approval before the provider is invoked. Every
// outcome, including denials and cache hits, lands in the audit log.
type Gate struct {
	config    GateConfig
	policy    *Policy
	cache     *Cache
	budget    *Budget
	approvals *Approvals
	audit     *AuditLog
	provider  Provider
	retrier   *retry.Executor
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewGate assembles a gate from its parts. A nil logger is replaced with a
// no-op logger.
func NewGate(config GateConfig, policy *Policy, cache *Cache, budget *Budget, approvals *Approvals, audit *AuditLog, provider Provider, retrier *retry.Executor, logger *zap.Logger) *Gate {
	if config.ApprovalTimeout == 0 {
		config.ApprovalTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		config:    config,
		policy:    policy,
		cache:     cache,
		budget:    budget,
		approvals: approvals,
		audit:     audit,
		provider:  provider,
		retrier:   retrier,
		logger:    logger,
		tracer:    otel.Tracer("missiond/extai"),
	}
}

// Approvals returns the gate's approval broker so operators can list and
// decide pending requests.
func (g *Gate) Approvals() *Approvals { return g.approvals }

// Audit returns the gate's audit log.
func (g *Gate) Audit() *AuditLog { return g.audit }

// Budget returns the gate's budget tracker.
func (g *Gate) Budget() *Budget { return g.budget }

// Invoke runs req through the gate.
//
// The order is fixed: scope policy, cache, budget, approval, provider. A
// cache hit short-circuits budget and approval; the cached response costs
// nothing and needs no new permission. Denials at any stage are audited.
func (g *Gate) Invoke(ctx context.Context, req Request) (Response, error) {
	ctx, span := g.tracer.Start(ctx, "extai.invoke",
		trace.WithAttributes(
			attribute.String("extai.provider", req.Provider),
			attribute.String("extai.model", req.Model),
			attribute.String("extai.purpose", req.Purpose),
		))
	defer span.End()

	if err := g.policy.Check(req); err != nil {
		g.denied(req, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy denied")
		return Response{}, err
	}

	key := CacheKey(req)
	if resp, hit := g.cache.Get(key); hit {
		resp.Cached = true
		resp.CostUSD = 0
		g.audit.Append(AuditRecord{
			MissionID:     req.MissionID,
			Provider:      req.Provider,
			Model:         req.Model,
			Purpose:       req.Purpose,
			Justification: req.Justification,
			Approved:      true,
			Request:       req.Prompt,
			Response:      resp.Text,
			TokensUsed:    0,
			Cached:        true,
		})
		span.SetAttributes(attribute.Bool("extai.cached", true))
		g.logger.Debug("external AI cache hit",
			zap.String("mission_id", req.MissionID),
			zap.String("model", req.Model),
		)
		return resp, nil
	}

	if err := g.budget.Reserve(req.MissionID, req.EstimatedCostUSD); err != nil {
		g.denied(req, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "budget exceeded")
		return Response{}, err
	}

	var approvedBy string
	var approvedAt *time.Time
	if g.config.RequireApproval {
		decision, err := g.approvals.Submit(ctx, req, g.config.ApprovalTimeout)
		if err != nil {
			g.budget.Adjust(req.MissionID, -req.EstimatedCostUSD)
			g.denied(req, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "approval failed")
			return Response{}, err
		}
		approvedBy = decision.DecidedBy
		at := decision.DecidedAt
		approvedAt = &at
	}

	resp, err := retry.Do(ctx, g.retrier, "extai.call", func(ctx context.Context) (Response, error) {
		return g.provider.Call(ctx, req.Model, req.Prompt)
	})
	if err != nil {
		g.budget.Adjust(req.MissionID, -req.EstimatedCostUSD)
		g.failed(req, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return Response{}, err
	}

	// Replace the estimate with the provider's reported cost.
	g.budget.Adjust(req.MissionID, resp.CostUSD-req.EstimatedCostUSD)

	g.cache.Put(key, resp)

	g.audit.Append(AuditRecord{
		MissionID:     req.MissionID,
		Provider:      req.Provider,
		Model:         req.Model,
		Purpose:       req.Purpose,
		Justification: req.Justification,
		Approved:      true,
		ApprovedBy:    approvedBy,
		ApprovedAt:    approvedAt,
		Request:       req.Prompt,
		Response:      resp.Text,
		TokensUsed:    resp.TokensUsed,
		CostUSD:       resp.CostUSD,
	})

	g.logger.Info("external AI call completed",
		zap.String("mission_id", req.MissionID),
		zap.String("provider", req.Provider),
		zap.String("model", req.Model),
		zap.Int("tokens_used", resp.TokensUsed),
		zap.Float64("cost_usd", resp.CostUSD),
	)

	return resp, nil
}

// denied records a policy refusal: the request never reached the provider.
func (g *Gate) denied(req Request, cause error) {
	g.audit.Append(AuditRecord{
		MissionID:     req.MissionID,
		Provider:      req.Provider,
		Model:         req.Model,
		Purpose:       req.Purpose,
		Justification: req.Justification,
		Request:       req.Prompt,
		Denied:        true,
		DenialReason:  cause.Error(),
	})
}

// failed records a permitted request whose provider call did not succeed.
func (g *Gate) failed(req Request, cause error) {
	g.audit.Append(AuditRecord{
		MissionID:     req.MissionID,
		Provider:      req.Provider,
		Model:         req.Model,
		Purpose:       req.Purpose,
		Justification: req.Justification,
		Approved:      true,
		Request:       req.Prompt,
		Failed:        true,
		FailureReason: cause.Error(),
	})
}
