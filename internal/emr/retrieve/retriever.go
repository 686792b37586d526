// Package retrieve answers questions over the ingested records. Hybrid
// mode pairs vector search with graph context; graph mode is a best-effort
// debug path that lets the model query the graph directly, read-only.
package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiemr/graphrag-backend/internal/emr/graph"
	"github.com/aiemr/graphrag-backend/internal/emr/index"
	"github.com/aiemr/graphrag-backend/internal/platform/envutil"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
	"github.com/aiemr/graphrag-backend/internal/platform/openai"
)

const hybridSystemPrompt = "You are a clinical QA assistant. Use ONLY the provided JSON facts " +
	"(and optional document) to answer. If insufficient evidence is present, say so explicitly."

const noEvidenceAnswer = "No supporting evidence was found in the patient records for this question."

// factGraph is the slice of the graph engine retrieval reads from.
type factGraph interface {
	FetchContext(ctx context.Context, factIDs []string) ([]graph.ContextGroup, error)
	Introspect(ctx context.Context) (*graph.SchemaSummary, error)
	RunReadCypher(ctx context.Context, query string) ([]map[string]any, error)
}

type factSearcher interface {
	SearchFactIDs(ctx context.Context, question string, pids []string, topK int) ([]string, error)
}

type Retriever struct {
	engine  factGraph
	indexer factSearcher
	ai      openai.Client
	log     *logger.Logger
	topK    int
}

type Answer struct {
	Answer      string   `json:"answer"`
	ContextJSON string   `json:"context_json"`
	FactIDs     []string `json:"fact_ids"`
}

type GraphDebugAnswer struct {
	Answer string           `json:"answer"`
	Cypher string           `json:"cypher"`
	Rows   []map[string]any `json:"rows,omitempty"`
}

func NewRetriever(engine *graph.Engine, indexer *index.Indexer, ai openai.Client, log *logger.Logger) *Retriever {
	return &Retriever{
		engine:  engine,
		indexer: indexer,
		ai:      ai,
		log:     log.With("component", "Retriever"),
		topK:    envutil.Int("RAG_TOP_K", 12),
	}
}

// HybridAnswer retrieves the nearest facts, expands them into graph
// context, and asks the model to answer from that context alone. An empty
// context short-circuits without a model call.
func (r *Retriever) HybridAnswer(ctx context.Context, question string, patientIDs []string, extraDoc string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	factIDs, err := r.indexer.SearchFactIDs(ctx, question, patientIDs, r.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	groups, err := r.engine.FetchContext(ctx, factIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch context: %w", err)
	}
	if len(groups) == 0 {
		return &Answer{Answer: noEvidenceAnswer, ContextJSON: "{}", FactIDs: factIDs}, nil
	}

	ctxJSON, err := formatContext(groups)
	if err != nil {
		return nil, fmt.Errorf("serialize context: %w", err)
	}

	user := fmt.Sprintf("Question:\n%s\n\nEMR JSON (grouped by patient/section):\n%s", question, ctxJSON)
	if strings.TrimSpace(extraDoc) != "" {
		user += "\n\nAdditional consultation document:\n" + extraDoc
	}

	answer, err := r.ai.Complete(ctx, []openai.Message{
		{Role: "system", Content: hybridSystemPrompt},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	return &Answer{Answer: answer, ContextJSON: ctxJSON, FactIDs: factIDs}, nil
}

// formatContext nests the groups patient -> section -> facts and renders
// indented JSON for the prompt.
func formatContext(groups []graph.ContextGroup) (string, error) {
	byPatient := map[string]map[string][]map[string]any{}
	for _, g := range groups {
		sections, ok := byPatient[g.PatientID]
		if !ok {
			sections = map[string][]map[string]any{}
			byPatient[g.PatientID] = sections
		}
		sections[g.Section] = g.Facts
	}
	raw, err := json.MarshalIndent(byPatient, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

const cypherSystemPrompt = "You translate questions about a clinical knowledge graph into Cypher. " +
	"The graph links (:Patient)-[section relationship]->(:SectionTable)-[:HAS_INFORMATION_OF]->(:Schema)-[:HAS_VALUE]->(:Value). " +
	"Respond with exactly one read-only Cypher query and nothing else: no explanation, no code fences. " +
	"Never use CREATE, MERGE, SET, DELETE, REMOVE, or any other write clause."

const graphAnswerSystemPrompt = "You are a clinical QA assistant. Answer the question using only the " +
	"query result rows provided. If the rows do not contain the answer, say so explicitly."

// maxGraphAnswerRows bounds how much of the query result is fed back to
// the model.
const maxGraphAnswerRows = 50

// GraphAnswer asks the model to write a read-only Cypher query against the
// live schema, runs it guarded, and summarizes the rows.
func (r *Retriever) GraphAnswer(ctx context.Context, question string) (*GraphDebugAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	schema, err := r.engine.Introspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}

	cypher, err := r.ai.Complete(ctx, []openai.Message{
		{Role: "system", Content: cypherSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Graph schema:\n%s\n\nQuestion:\n%s", schemaJSON, question)},
	})
	if err != nil {
		return nil, fmt.Errorf("generate query: %w", err)
	}
	cypher = stripCodeFences(cypher)

	rows, err := r.engine.RunReadCypher(ctx, cypher)
	if err != nil {
		return nil, fmt.Errorf("run generated query: %w", err)
	}

	shown := rows
	if len(shown) > maxGraphAnswerRows {
		shown = shown[:maxGraphAnswerRows]
	}
	rowsJSON, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize rows: %w", err)
	}

	answer, err := r.ai.Complete(ctx, []openai.Message{
		{Role: "system", Content: graphAnswerSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question:\n%s\n\nQuery result rows:\n%s", question, rowsJSON)},
	})
	if err != nil {
		return nil, fmt.Errorf("summarize rows: %w", err)
	}

	return &GraphDebugAnswer{Answer: answer, Cypher: cypher, Rows: shown}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.ContainsAny(s[:idx], " \t") {
		// Drop a language tag on the opening fence.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
