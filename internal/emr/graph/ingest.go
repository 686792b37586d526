package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/aiemr/graphrag-backend/internal/emr/normalize"
	"github.com/aiemr/graphrag-backend/internal/emr/registry"
)

// ErrNoPatientID marks a record that cannot be ingested because it carries
// no patient identifier. Callers skip such records instead of failing the
// whole pass.
var ErrNoPatientID = errors.New("record has no patient_id")

type SectionStatus string

const (
	SectionOK      SectionStatus = "ok"
	SectionSkipped SectionStatus = "skipped"
	SectionFailed  SectionStatus = "failed"
)

type SectionResult struct {
	Section string
	Status  SectionStatus
	Facts   int
	Reason  string
	Err     error
}

// IngestReport summarizes one record's ingestion, one result per section.
type IngestReport struct {
	PatientID string
	Sections  []SectionResult
}

func (r *IngestReport) Counts() (ok, skipped, failed int) {
	for _, s := range r.Sections {
		switch s.Status {
		case SectionOK:
			ok++
		case SectionSkipped:
			skipped++
		case SectionFailed:
			failed++
		}
	}
	return
}

func (r *IngestReport) FirstErr() error {
	for _, s := range r.Sections {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// PatientID extracts the record's patient identifier, or "" when absent.
func PatientID(rec map[string]any) string {
	v, ok := normalize.Coerce(normalize.FromJSON(rec["patient_id"]), normalize.TypeString)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

const mergePatientCypher = `MERGE (p:Patient {patientID: $pid})`

// IngestRecord upserts one record into the graph. The patient node is
// merged first, then each registered section runs in its own transaction;
// a section failure is recorded in the report and the remaining sections
// still run. Re-ingesting an unchanged record performs no net writes.
func (e *Engine) IngestRecord(ctx context.Context, rec map[string]any) (*IngestReport, error) {
	pid := PatientID(rec)
	if pid == "" {
		return nil, ErrNoPatientID
	}

	if err := e.db.WriteTx(ctx, mergePatientCypher, map[string]any{"pid": pid}); err != nil {
		return nil, fmt.Errorf("merge patient: %w", err)
	}

	report := &IngestReport{PatientID: pid}
	root := normalize.FromJSON(rec)
	for i := range e.reg.Sections {
		sec := &e.reg.Sections[i]
		res := e.ingestSection(ctx, pid, sec, root.Map[sec.JSONKey])
		if res.Err != nil {
			e.log.Error("section ingest failed",
				"patient_id", pid,
				"section", sec.Name,
				"error", res.Err,
			)
		}
		report.Sections = append(report.Sections, res)
	}
	return report, nil
}

func (e *Engine) ingestSection(ctx context.Context, pid string, sec *registry.Section, raw normalize.Raw) SectionResult {
	res := SectionResult{Section: sec.Name}
	if raw.IsEmpty() || raw.Kind != normalize.KindMap {
		res.Status = SectionSkipped
		res.Reason = "section absent"
		return res
	}

	facts := 0

	if rows := scalarRows(sec, raw); len(rows) > 0 {
		params := map[string]any{"pid": pid, "section": sec.Name, "rows": rows}
		if err := e.db.WriteTx(ctx, scalarCypher(sec.RelType), params); err != nil {
			res.Status = SectionFailed
			res.Err = fmt.Errorf("scalars: %w", err)
			return res
		}
		facts += len(rows)
	}

	for _, lf := range sec.Lists {
		rows := listRows(lf, raw)
		if len(rows) == 0 {
			continue
		}
		params := map[string]any{"pid": pid, "section": sec.Name, "rows": rows}
		if err := e.db.WriteTx(ctx, listCypher(sec.RelType, lf.DateObserved), params); err != nil {
			res.Status = SectionFailed
			res.Err = fmt.Errorf("list %s: %w", lf.Field, err)
			return res
		}
		facts += len(rows)
	}

	for _, cf := range sec.Composites {
		entries := compositeEntries(cf, raw)
		if len(entries) == 0 {
			continue
		}
		params := map[string]any{"pid": pid, "section": sec.Name, "field": cf.Field, "entries": entries}
		if err := e.db.WriteTx(ctx, compositeCypher(sec.RelType), params); err != nil {
			res.Status = SectionFailed
			res.Err = fmt.Errorf("composite %s: %w", cf.Field, err)
			return res
		}
		facts += len(entries)
	}

	if facts == 0 {
		res.Status = SectionSkipped
		res.Reason = "no coercible fields"
		return res
	}
	res.Status = SectionOK
	res.Facts = facts
	return res
}

func scalarRows(sec *registry.Section, raw normalize.Raw) []map[string]any {
	rows := make([]map[string]any, 0, len(sec.Scalars))
	for _, f := range sec.Scalars {
		fieldRaw := lookupKey(raw, f.JSONKey, f.AltKeys)
		v, ok := normalize.Coerce(fieldRaw, f.Type)
		if !ok {
			continue
		}
		var unit any
		if f.Unit != "" {
			unit = f.Unit
		}
		rows = append(rows, map[string]any{
			"field":     f.Field,
			"value":     paramValue(v, f.Type),
			"valueType": string(f.Type),
			"unit":      unit,
		})
	}
	return rows
}

func listRows(lf registry.ListField, raw normalize.Raw) []map[string]any {
	elements := normalize.ListElements(raw.Map[lf.JSONKey])
	rows := make([]map[string]any, 0, len(elements))
	for _, el := range elements {
		v, ok := normalize.Coerce(el, lf.Type)
		if !ok {
			continue
		}
		rows = append(rows, map[string]any{
			"field":     lf.Field,
			"value":     paramValue(v, lf.Type),
			"valueType": string(lf.Type),
		})
	}
	return rows
}

func compositeEntries(cf registry.CompositeField, raw normalize.Raw) []map[string]any {
	m := normalize.MapEntries(raw.Map[cf.JSONKey])
	if len(m) == 0 {
		return nil
	}

	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		entry := m[id]
		if entry.Kind != normalize.KindMap {
			continue
		}
		attrs := map[string]any{}
		for _, a := range cf.Attrs {
			// Coalesce over the declared key spellings.
			for _, key := range a.JSONKeys {
				v, ok := normalize.Coerce(entry.Map[key], a.Type)
				if !ok {
					continue
				}
				attrs[a.Prop] = paramValue(v, a.Type)
				break
			}
		}
		entries = append(entries, map[string]any{"id": id, "attrs": attrs})
	}
	return entries
}

func lookupKey(raw normalize.Raw, key string, altKeys []string) normalize.Raw {
	if v, ok := raw.Map[key]; ok && !v.IsEmpty() {
		return v
	}
	for _, alt := range altKeys {
		if v, ok := raw.Map[alt]; ok && !v.IsEmpty() {
			return v
		}
	}
	return normalize.Raw{Kind: normalize.KindNull}
}

// paramValue converts a coerced value into its driver parameter form.
// Dates become store-native so equality in MERGE keys behaves.
func paramValue(v any, typ normalize.FieldType) any {
	if typ != normalize.TypeDate {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return v
	}
	return neo4j.DateOf(t)
}

// The relationship type comes from the validated registry, never from
// input, so interpolating it is safe. Schema and Value node_ids are
// stamped at create time; the fact-row query filters on them, so a fresh
// fact must be indexable within the same sync pass.
func scalarCypher(relType string) string {
	return fmt.Sprintf(`
MATCH (p:Patient {patientID: $pid})
MERGE (sec:SectionTable {name: $section, patientID: $pid})
MERGE (p)-[:%s]->(sec)
WITH sec
UNWIND $rows AS row
MERGE (s:Schema {section: $section, field: row.field, patientID: $pid})
  ON CREATE SET s.node_id = randomUUID()
MERGE (v:Value {value: row.value, valueType: row.valueType, patientID: $pid})
  ON CREATE SET v.TimeInput = datetime(), v.node_id = randomUUID()
SET v.unit = row.unit
MERGE (sec)-[:HAS_INFORMATION_OF]->(s)
MERGE (s)-[:HAS_VALUE]->(v)`, relType)
}

func listCypher(relType string, dateObserved bool) string {
	stamp := "v.TimeInput = datetime()"
	if dateObserved {
		stamp = "v.date_observed = date()"
	}
	return fmt.Sprintf(`
MATCH (p:Patient {patientID: $pid})
MERGE (sec:SectionTable {name: $section, patientID: $pid})
MERGE (p)-[:%s]->(sec)
WITH sec
UNWIND $rows AS row
MERGE (s:Schema {section: $section, field: row.field, patientID: $pid})
  ON CREATE SET s.node_id = randomUUID()
MERGE (v:Value {value: row.value, valueType: row.valueType, patientID: $pid})
  ON CREATE SET %s, v.node_id = randomUUID()
MERGE (sec)-[:HAS_INFORMATION_OF]->(s)
MERGE (s)-[:HAS_VALUE]->(v)`, relType, stamp)
}

func compositeCypher(relType string) string {
	return fmt.Sprintf(`
MATCH (p:Patient {patientID: $pid})
MERGE (sec:SectionTable {name: $section, patientID: $pid})
MERGE (p)-[:%s]->(sec)
MERGE (s:Schema {section: $section, field: $field, patientID: $pid})
  ON CREATE SET s.node_id = randomUUID()
MERGE (sec)-[:HAS_INFORMATION_OF]->(s)
WITH s
UNWIND $entries AS e
MERGE (v:Value {valueType: 'dict', value: e.id, patientID: $pid})
  ON CREATE SET v.TimeInput = datetime(), v.node_id = randomUUID()
SET v += e.attrs
MERGE (s)-[:HAS_VALUE]->(v)`, relType)
}
