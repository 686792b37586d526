package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// FactRow is one indexed fact joined across the patient subgraph. Nullable
// columns stay `any` so absent values survive the round trip.
type FactRow struct {
	PatientID    string
	Section      string
	Field        string
	Value        any
	ValueType    string
	Unit         string
	Category     string
	DiseaseType  string
	SinceYear    any
	OnMedication any
	FactID       string
	SchemaID     string
}

const factRowsCypher = `
MATCH (p:Patient)
WHERE $pids IS NULL OR p.patientID IN $pids
MATCH (p)-[]->(sec:SectionTable {patientID: p.patientID})
MATCH (sec)-[:HAS_INFORMATION_OF]->(s:Schema {patientID: p.patientID})
MATCH (s)-[:HAS_VALUE]->(v:Value {patientID: p.patientID})
WHERE v.node_id IS NOT NULL AND s.node_id IS NOT NULL
RETURN p.patientID AS patientID, sec.name AS section, s.field AS field,
       v.value AS value, v.valueType AS valueType, v.unit AS unit,
       v.category AS category, v.type AS disease_type,
       v.since_year AS since_year, v.on_medication AS on_medication,
       v.node_id AS fact_id, s.node_id AS schema_id`

// FactRows returns every indexable fact for the given patients, or for the
// whole graph when pids is nil.
func (e *Engine) FactRows(ctx context.Context, pids []string) ([]FactRow, error) {
	var pidsParam any
	if pids != nil {
		pidsParam = pids
	}
	rows, err := e.db.ReadRows(ctx, factRowsCypher, map[string]any{"pids": pidsParam})
	if err != nil {
		return nil, fmt.Errorf("fetch fact rows: %w", err)
	}

	out := make([]FactRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, FactRow{
			PatientID:    stringAt(r, "patientID"),
			Section:      stringAt(r, "section"),
			Field:        stringAt(r, "field"),
			Value:        sanitizeValue(r["value"]),
			ValueType:    stringAt(r, "valueType"),
			Unit:         stringAt(r, "unit"),
			Category:     stringAt(r, "category"),
			DiseaseType:  stringAt(r, "disease_type"),
			SinceYear:    sanitizeValue(r["since_year"]),
			OnMedication: sanitizeValue(r["on_medication"]),
			FactID:       stringAt(r, "fact_id"),
			SchemaID:     stringAt(r, "schema_id"),
		})
	}
	return out, nil
}

// ContextGroup is the retrieval context for one (patient, section) pair.
type ContextGroup struct {
	PatientID string
	Section   string
	Facts     []map[string]any
}

// Facts per (patient, section) are capped at 24 so one dense section
// cannot crowd the model's context.
const contextCypher = `
MATCH (v:Value) WHERE v.node_id IN $ids
MATCH (s:Schema)-[:HAS_VALUE]->(v)
MATCH (sec:SectionTable)-[:HAS_INFORMATION_OF]->(s)
MATCH (p:Patient)-[]->(sec)
WITH p, sec, s, v
ORDER BY p.patientID
WITH p.patientID AS patientID, sec.name AS section,
     collect(DISTINCT {
       field: s.field,
       value: v.value,
       valueType: v.valueType,
       unit: v.unit,
       node_id: v.node_id,
       category: v.category,
       disease_type: v.type,
       since_year: v.since_year,
       on_medication: v.on_medication
     })[0..24] AS facts
RETURN patientID, section, facts`

// FetchContext expands fact ids into grouped context rows.
func (e *Engine) FetchContext(ctx context.Context, factIDs []string) ([]ContextGroup, error) {
	if len(factIDs) == 0 {
		return nil, nil
	}
	rows, err := e.db.ReadRows(ctx, contextCypher, map[string]any{"ids": factIDs})
	if err != nil {
		return nil, fmt.Errorf("fetch context: %w", err)
	}

	out := make([]ContextGroup, 0, len(rows))
	for _, r := range rows {
		group := ContextGroup{
			PatientID: stringAt(r, "patientID"),
			Section:   stringAt(r, "section"),
		}
		if facts, ok := r["facts"].([]any); ok {
			for _, f := range facts {
				if m, ok := f.(map[string]any); ok {
					group.Facts = append(group.Facts, sanitizeProps(m))
				}
			}
		}
		out = append(out, group)
	}
	return out, nil
}

type GraphNode struct {
	ID     string         `json:"id"`
	Labels []string       `json:"labels"`
	Props  map[string]any `json:"props"`
}

type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type PatientGraph struct {
	PatientID string      `json:"patient_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
}

// patientGraphCypher collects the patient's full subgraph in one record.
func patientGraphCypher(relTypes []string) string {
	quoted := make([]string, 0, len(relTypes))
	for _, t := range relTypes {
		quoted = append(quoted, "'"+t+"'")
	}
	return fmt.Sprintf(`
MATCH (p:Patient {patientID: $pid})
MATCH (p)-[r1]->(sec:SectionTable {patientID: $pid})
WHERE type(r1) IN [%s]
OPTIONAL MATCH (sec)-[r2:HAS_INFORMATION_OF]->(sch:Schema {patientID: $pid})
OPTIONAL MATCH (sch)-[r3:HAS_VALUE]->(val:Value {patientID: $pid})
WITH collect(DISTINCT p) AS P,
     collect(DISTINCT sec) AS SECS,
     collect(DISTINCT sch) AS SCHEMAS,
     [v IN collect(DISTINCT val) WHERE v IS NOT NULL] AS VALS,
     collect(DISTINCT r1) + collect(DISTINCT r2) + collect(DISTINCT r3) AS RELS
RETURN P + SECS + SCHEMAS + VALS AS nodes, RELS AS rels`, strings.Join(quoted, ","))
}

// PatientGraph returns the patient's subgraph for visualization consumers.
// A patient with no graph yields zero nodes, not an error.
func (e *Engine) PatientGraph(ctx context.Context, pid string) (*PatientGraph, error) {
	rows, err := e.db.ReadRows(ctx, patientGraphCypher(e.reg.RelTypes()), map[string]any{"pid": pid})
	if err != nil {
		return nil, fmt.Errorf("fetch patient graph: %w", err)
	}

	out := &PatientGraph{PatientID: pid}
	if len(rows) == 0 {
		return out, nil
	}

	seenNodes := map[string]bool{}
	if nodes, ok := rows[0]["nodes"].([]any); ok {
		for _, n := range nodes {
			node, ok := n.(dbtype.Node)
			if !ok || seenNodes[node.ElementId] {
				continue
			}
			seenNodes[node.ElementId] = true
			out.Nodes = append(out.Nodes, GraphNode{
				ID:     node.ElementId,
				Labels: node.Labels,
				Props:  sanitizeProps(node.Props),
			})
		}
	}

	seenEdges := map[string]bool{}
	if rels, ok := rows[0]["rels"].([]any); ok {
		for _, r := range rels {
			rel, ok := r.(dbtype.Relationship)
			if !ok {
				continue
			}
			key := rel.StartElementId + "|" + rel.EndElementId + "|" + rel.Type
			if seenEdges[key] {
				continue
			}
			seenEdges[key] = true
			out.Edges = append(out.Edges, GraphEdge{
				Source: rel.StartElementId,
				Target: rel.EndElementId,
				Type:   rel.Type,
			})
		}
	}
	return out, nil
}

// SchemaSummary is a lightweight introspection of the live graph, used to
// ground model-generated queries.
type SchemaSummary struct {
	Labels            []string `json:"labels"`
	RelationshipTypes []string `json:"relationship_types"`
	PropertyKeys      []string `json:"property_keys"`
}

func (e *Engine) Introspect(ctx context.Context) (*SchemaSummary, error) {
	labels, err := e.readStrings(ctx, `CALL db.labels() YIELD label RETURN label`, "label")
	if err != nil {
		return nil, fmt.Errorf("introspect labels: %w", err)
	}
	relTypes, err := e.readStrings(ctx, `CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType`, "relationshipType")
	if err != nil {
		return nil, fmt.Errorf("introspect relationship types: %w", err)
	}
	keys, err := e.readStrings(ctx, `CALL db.propertyKeys() YIELD propertyKey RETURN propertyKey`, "propertyKey")
	if err != nil {
		return nil, fmt.Errorf("introspect property keys: %w", err)
	}
	return &SchemaSummary{Labels: labels, RelationshipTypes: relTypes, PropertyKeys: keys}, nil
}

func (e *Engine) readStrings(ctx context.Context, cypher, column string) ([]string, error) {
	rows, err := e.db.ReadRows(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if s := stringAt(r, column); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

var writeClausePattern = regexp.MustCompile(`(?i)\b(create|merge|delete|detach|set|remove|drop|foreach|load)\b`)

// RunReadCypher executes a model-generated query under a read transaction.
// The clause check is a cheap second line of defense; the read transaction
// is the real guarantee.
func (e *Engine) RunReadCypher(ctx context.Context, query string) ([]map[string]any, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if writeClausePattern.MatchString(query) {
		return nil, fmt.Errorf("query contains a write clause")
	}
	rows, err := e.db.ReadRows(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("run read query: %w", err)
	}
	for i := range rows {
		rows[i] = sanitizeProps(rows[i])
	}
	return rows, nil
}

func stringAt(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

// sanitizeValue converts driver temporal types into JSON-friendly strings.
func sanitizeValue(v any) any {
	switch t := v.(type) {
	case dbtype.Date:
		return t.Time().Format("2006-01-02")
	case dbtype.LocalDateTime:
		return t.Time().Format(time.RFC3339)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func sanitizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = sanitizeValue(v)
	}
	return out
}
