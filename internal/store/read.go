package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/trace"
)

// ErrNotFound is returned when no trace matches the query.
var ErrNotFound = errors.New("trace not found")

// LoadTrace returns the stored records for a trace id in index order.
func (s *Store) LoadTrace(ctx context.Context, traceID string) ([]trace.Record, error) {
	if traceID == "" {
		return nil, fmt.Errorf("trace_id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM trace_records
		WHERE trace_id = ?
		ORDER BY idx ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []trace.Record
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		v, err := canon.Decode([]byte(line))
		if err != nil {
			return nil, err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stored record is not an object")
		}
		records = append(records, trace.Record(obj))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// StoredRun is one persisted run: its trace and the inputs/outputs needed
// to replay it.
type StoredRun struct {
	Metadata    Metadata
	Records     []trace.Record
	ProblemSpec map[string]any
	FinalState  map[string]any
}

// LoadRunByRequestID resolves the trace stored for a request id.
func (s *Store) LoadRunByRequestID(ctx context.Context, requestID string) (*StoredRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, request_id, created_at, engine_version,
		       problem_spec_hash, initial_state_hash, head_hash, record_count,
		       problem_spec, final_state
		FROM traces
		WHERE request_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, requestID)

	var meta Metadata
	var specJSON, stateJSON string
	err := row.Scan(&meta.TraceID, &meta.RequestID, &meta.CreatedAt, &meta.EngineVersion,
		&meta.ProblemSpecHash, &meta.InitialStateHash, &meta.HeadHash, &meta.RecordCount,
		&specJSON, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trace metadata: %w", err)
	}

	records, err := s.LoadTrace(ctx, meta.TraceID)
	if err != nil {
		return nil, err
	}

	spec, err := decodeObject(specJSON)
	if err != nil {
		return nil, err
	}
	finalState, err := decodeObject(stateJSON)
	if err != nil {
		return nil, err
	}
	return &StoredRun{
		Metadata:    meta,
		Records:     records,
		ProblemSpec: spec,
		FinalState:  finalState,
	}, nil
}

func decodeObject(data string) (map[string]any, error) {
	v, err := canon.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored value is not an object")
	}
	return obj, nil
}
