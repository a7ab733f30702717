package trace

import (
	"bytes"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
)

// Parse decodes NDJSON trace bytes into records. Each line must be a single
// JSON object; blank lines are rejected. Canonical form is not checked here:
// VerifyChain recomputes hashes over the canonical encoding.
func Parse(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	lines := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		if len(line) == 0 {
			return nil, fault.New(fault.CodeSchemaInvalid, "trace line %d is blank", i)
		}
		v, err := canon.Decode(line)
		if err != nil {
			return nil, err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fault.New(fault.CodeSchemaInvalid, "trace line %d is not an object", i)
		}
		records = append(records, Record(obj))
	}
	return records, nil
}

// VerifyChain checks a full trace: the header leads, indexes are strictly
// monotonic from 0, every record_hash recomputes, and every prev_hash links
// to its predecessor. A recomputation failure is hash_mismatch; a broken
// link is trace_chain_broken.
func VerifyChain(records []Record) error {
	if len(records) == 0 {
		return fault.New(fault.CodeSchemaInvalid, "trace must include at least the header")
	}
	if records[0].Kind() != KindHeader {
		return fault.New(fault.CodeTraceChainBroken, "trace must start with a header record")
	}

	prevHash := ""
	for i, r := range records {
		if r.Index() != int64(i) {
			return fault.New(fault.CodeTraceChainBroken,
				"record %d carries index %d", i, r.Index())
		}
		computed, err := ComputeHash(r)
		if err != nil {
			return err
		}
		if computed != r.Hash() {
			return fault.New(fault.CodeHashMismatch,
				"record %d hash %s does not recompute (%s)", i, r.Hash(), computed)
		}
		if i == 0 {
			if r.PrevHash() != "" {
				return fault.New(fault.CodeTraceChainBroken, "header must not carry prev_hash")
			}
		} else if r.PrevHash() != prevHash {
			return fault.New(fault.CodeTraceChainBroken,
				"record %d prev_hash %s does not match prior record_hash %s", i, r.PrevHash(), prevHash)
		}
		prevHash = r.Hash()
	}
	return nil
}

// VerifyBytes parses and chain-verifies NDJSON trace bytes.
func VerifyBytes(data []byte) ([]Record, error) {
	records, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := VerifyChain(records); err != nil {
		return nil, err
	}
	return records, nil
}
