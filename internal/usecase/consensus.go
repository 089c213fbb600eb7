package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/tracer"
)

// Confidence levels assigned by source count. Synthesis quality grows with
// the number of independent specialist answers backing it.
const (
	confNoSources    = 0.3
	confSingleSource = 0.75
	confTwoSources   = 0.65
	confManySources  = 0.78
)

const insufficientInfoResponse = "I don't have enough information to answer that right now. " +
	"Could you rephrase the question or add a bit more detail?"

// ConsensusBuilder merges specialist answers into one unified response.
// Zero or one usable answers are handled deterministically without any
// model call; two or more trigger an advanced-tier synthesis.
type ConsensusBuilder struct {
	generator domain.TextGenerator
	registry  *Registry
	logger    *slog.Logger
}

func NewConsensusBuilder(generator domain.TextGenerator, registry *Registry, logger *slog.Logger) *ConsensusBuilder {
	return &ConsensusBuilder{
		generator: generator,
		registry:  registry,
		logger:    logger,
	}
}

// Build produces the ConsensusResult for one turn. Only results with status
// success contribute; failed and budget-exceeded invocations are counted by
// the caller, never surfaced verbatim to the user.
func (b *ConsensusBuilder) Build(ctx context.Context, message string, results []domain.InvocationResult, userCtx *domain.UserContext, budgetUSD float64) (*domain.ConsensusResult, error) {
	ctx, span := tracer.StartSpan(ctx, "consensus.Build")
	defer span.End()

	var ok []domain.InvocationResult
	for _, res := range results {
		if res.Succeeded() && strings.TrimSpace(res.Response) != "" {
			ok = append(ok, res)
		}
	}
	span.SetAttributes(tracer.IntAttr("consensus.sources", len(ok)))

	switch len(ok) {
	case 0:
		tracer.SetOK(span)
		return &domain.ConsensusResult{
			UnifiedResponse: insufficientInfoResponse,
			Confidence:      confNoSources,
			Sources:         []string{},
		}, nil
	case 1:
		tracer.SetOK(span)
		return b.single(ok[0]), nil
	default:
		res, err := b.synthesize(ctx, message, ok, userCtx, budgetUSD)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		tracer.SetOK(span)
		return res, nil
	}
}

// keyPointCount is how many leading sentences a single-source answer gets
// pulled out as key points.
const keyPointCount = 2

// single synthesizes the lone specialist answer deterministically: the
// answer attributed by name, with its leading sentences pulled out as key
// points when the answer runs longer than them. No tokens are spent.
func (b *ConsensusBuilder) single(res domain.InvocationResult) *domain.ConsensusResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s says: %s", b.agentName(res.AgentID), res.Response)

	if sentences := splitSentences(res.Response); len(sentences) > keyPointCount {
		sb.WriteString("\n\nKey points:")
		for _, point := range sentences[:keyPointCount] {
			sb.WriteString("\n- " + point)
		}
	}

	return &domain.ConsensusResult{
		UnifiedResponse: sb.String(),
		Confidence:      confSingleSource,
		Sources:         []string{res.AgentID},
	}
}

// splitSentences breaks text on sentence-ending punctuation and newlines,
// dropping empty fragments.
func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// synthesize asks the advanced-tier model to merge two or more specialist
// answers into one coherent reply.
func (b *ConsensusBuilder) synthesize(ctx context.Context, message string, ok []domain.InvocationResult, userCtx *domain.UserContext, budgetUSD float64) (*domain.ConsensusResult, error) {
	sources := make([]string, 0, len(ok))
	for _, res := range ok {
		sources = append(sources, res.AgentID)
	}

	gen, err := b.generator.Generate(ctx, domain.GenerateRequest{
		System:    synthesisSystemPrompt,
		Prompt:    b.synthesisPrompt(message, ok, userCtx),
		Tier:      domain.TierAdvanced,
		MaxTokens: 1024,
		BudgetUSD: budgetUSD,
	})
	if err != nil {
		return nil, domain.WrapOp("ConsensusBuilder.synthesize", err)
	}

	response, followUp := parseSynthesis(gen.Text)
	conf := confTwoSources
	if len(sources) >= 3 {
		conf = confManySources
	}

	b.logger.Debug("consensus synthesized",
		"sources", len(sources),
		"tokens", gen.Usage.TotalTokens,
		"cost_usd", gen.CostUSD,
	)

	return &domain.ConsensusResult{
		UnifiedResponse:   response,
		Confidence:        conf,
		Sources:           sources,
		FollowUpSuggested: followUp,
		TokensUsed:        gen.Usage.TotalTokens,
		CostUSD:           gen.CostUSD,
	}, nil
}

const synthesisSystemPrompt = "You are the voice of a wellness coaching team. " +
	"Merge the specialist answers below into one coherent, friendly reply in the user's language. " +
	"Resolve contradictions by favoring the more conservative advice. " +
	"Answer in exactly two sections:\n" +
	"RESPUESTA: <the unified reply>\n" +
	"SEGUIMIENTO: <one short follow-up question, or NONE>"

func (b *ConsensusBuilder) synthesisPrompt(message string, ok []domain.InvocationResult, userCtx *domain.UserContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User message:\n%s\n\n", message)

	if userCtx != nil {
		if userCtx.ActiveSeason != "" {
			fmt.Fprintf(&sb, "Active program season: %s\n", userCtx.ActiveSeason)
		}
		for k, v := range userCtx.Preferences {
			fmt.Fprintf(&sb, "User preference %s: %s\n", k, v)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Specialist answers:\n")
	for _, res := range ok {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", b.agentName(res.AgentID), res.Response)
	}
	return sb.String()
}

// parseSynthesis splits the model output into the unified reply and the
// optional follow-up. A reply that does not follow the section format is
// used whole, with no follow-up.
func parseSynthesis(text string) (response, followUp string) {
	const (
		respTag   = "RESPUESTA:"
		followTag = "SEGUIMIENTO:"
	)
	trimmed := strings.TrimSpace(text)

	ri := strings.Index(trimmed, respTag)
	if ri < 0 {
		return trimmed, ""
	}
	rest := trimmed[ri+len(respTag):]

	if fi := strings.Index(rest, followTag); fi >= 0 {
		response = strings.TrimSpace(rest[:fi])
		followUp = strings.TrimSpace(rest[fi+len(followTag):])
		if strings.EqualFold(followUp, "NONE") {
			followUp = ""
		}
		return response, followUp
	}
	return strings.TrimSpace(rest), ""
}

func (b *ConsensusBuilder) agentName(agentID string) string {
	if b.registry != nil {
		if spec, err := b.registry.Get(agentID); err == nil && spec.Name != "" {
			return spec.Name
		}
	}
	return agentID
}
