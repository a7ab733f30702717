package trace

import (
	"bytes"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
)

// Writer is the exclusive owner of a trace sink. Records append as
// canonical JSON lines, LF-terminated, UTF-8, no blank lines. A record
// becomes observable only after its hash checks pass and its bytes are
// committed.
type Writer struct {
	buf       bytes.Buffer
	records   []Record
	prevHash  string
	nextIndex int64
}

// NewWriter creates an empty in-memory trace writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Append validates and commits one record.
//
// Rejections:
//   - index not equal to the next expected index → trace_chain_broken
//   - prev_hash not matching the prior record_hash → trace_chain_broken
//   - stored record_hash not matching the recomputed one → hash_mismatch
func (w *Writer) Append(r Record) error {
	if r.Index() != w.nextIndex {
		return fault.New(fault.CodeTraceChainBroken,
			"record index %d is not the expected %d", r.Index(), w.nextIndex)
	}
	if w.nextIndex == 0 {
		if r.PrevHash() != "" {
			return fault.New(fault.CodeTraceChainBroken, "header must not carry prev_hash")
		}
	} else if r.PrevHash() != w.prevHash {
		return fault.New(fault.CodeTraceChainBroken,
			"prev_hash %s does not match prior record_hash %s", r.PrevHash(), w.prevHash)
	}

	computed, err := ComputeHash(r)
	if err != nil {
		return err
	}
	if r.Hash() != computed {
		return fault.New(fault.CodeHashMismatch,
			"record_hash %s does not match computed %s", r.Hash(), computed)
	}

	line, err := canon.Marshal(map[string]any(r))
	if err != nil {
		return err
	}
	w.buf.Write(line)
	w.buf.WriteByte('\n')

	w.records = append(w.records, r)
	w.prevHash = computed
	w.nextIndex++
	return nil
}

// Bytes returns the committed NDJSON bytes.
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// Records returns the committed records in order.
func (w *Writer) Records() []Record {
	return append([]Record{}, w.records...)
}

// Head returns the record_hash of the last committed record.
func (w *Writer) Head() string {
	return w.prevHash
}

// NextIndex returns the index the next record must carry.
func (w *Writer) NextIndex() int64 {
	return w.nextIndex
}
