package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/trace"
)

// Metadata summarizes one stored trace.
type Metadata struct {
	TraceID          string
	RequestID        string
	CreatedAt        string
	EngineVersion    string
	ProblemSpecHash  string
	InitialStateHash string
	HeadHash         string
	RecordCount      int
}

// extractMetadata reads the header and tail of a verified record sequence.
func extractMetadata(records []trace.Record, requestID string) (Metadata, error) {
	if len(records) == 0 {
		return Metadata{}, fault.New(fault.CodeSchemaInvalid, "trace must include at least the header")
	}
	header := records[0]
	if header.Kind() != trace.KindHeader {
		return Metadata{}, fault.New(fault.CodeSchemaInvalid, "trace must start with a header record")
	}
	traceID, _ := header["trace_id"].(string)
	if traceID == "" {
		return Metadata{}, fault.New(fault.CodeSchemaInvalid, "header.trace_id is required")
	}
	createdAt, _ := header["created_at"].(string)
	engineVersion, _ := header["engine_version"].(string)
	problemHash, _ := header["problem_spec_hash"].(string)
	stateHash, _ := header["initial_state_hash"].(string)
	return Metadata{
		TraceID:          traceID,
		RequestID:        requestID,
		CreatedAt:        createdAt,
		EngineVersion:    engineVersion,
		ProblemSpecHash:  problemHash,
		InitialStateHash: stateHash,
		HeadHash:         records[len(records)-1].Hash(),
		RecordCount:      len(records),
	}, nil
}

// StoreTrace persists a verified trace together with the problem spec and
// final state it belongs to. Records upsert by (trace_id, idx), making the
// operation idempotent.
func (s *Store) StoreTrace(ctx context.Context, records []trace.Record, requestID string, problemSpec, finalState any) (Metadata, error) {
	if err := trace.VerifyChain(records); err != nil {
		return Metadata{}, err
	}
	meta, err := extractMetadata(records, requestID)
	if err != nil {
		return Metadata{}, err
	}

	specBytes, err := canon.Marshal(problemSpec)
	if err != nil {
		return Metadata{}, err
	}
	stateBytes, err := canon.Marshal(finalState)
	if err != nil {
		return Metadata{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO traces (
		  trace_id, request_id, created_at, engine_version,
		  problem_spec_hash, initial_state_hash, head_hash, record_count,
		  problem_spec, final_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trace_id) DO UPDATE SET
		  request_id = excluded.request_id,
		  created_at = excluded.created_at,
		  engine_version = excluded.engine_version,
		  problem_spec_hash = excluded.problem_spec_hash,
		  initial_state_hash = excluded.initial_state_hash,
		  head_hash = excluded.head_hash,
		  record_count = excluded.record_count,
		  problem_spec = excluded.problem_spec,
		  final_state = excluded.final_state
	`, meta.TraceID, meta.RequestID, meta.CreatedAt, meta.EngineVersion,
		meta.ProblemSpecHash, meta.InitialStateHash, meta.HeadHash, meta.RecordCount,
		string(specBytes), string(stateBytes))
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to upsert trace: %w", err)
	}

	for idx, record := range records {
		line, err := canon.Marshal(map[string]any(record))
		if err != nil {
			return Metadata{}, err
		}
		if err := upsertRecord(ctx, tx, meta.TraceID, idx, record, line); err != nil {
			return Metadata{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Metadata{}, fmt.Errorf("failed to commit trace: %w", err)
	}
	return meta, nil
}

func upsertRecord(ctx context.Context, tx *sql.Tx, traceID string, idx int, record trace.Record, line []byte) error {
	var prev any
	if h := record.PrevHash(); h != "" {
		prev = h
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trace_records (trace_id, idx, record_hash, prev_hash, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trace_id, idx) DO UPDATE SET
		  record_hash = excluded.record_hash,
		  prev_hash = excluded.prev_hash,
		  record = excluded.record
	`, traceID, idx, record.Hash(), prev, string(line))
	if err != nil {
		return fmt.Errorf("failed to upsert record %d: %w", idx, err)
	}
	return nil
}
