package domain

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// MergeJSON merges JSON objects key-wise, later operands winning. The
// merge is shallow: a key present in a later operand replaces the whole
// value, nested objects are not merged. Nil and empty operands are
// skipped; if every operand is empty the result is nil.
func MergeJSON(operands ...json.RawMessage) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	any := false
	for _, op := range operands {
		if len(op) == 0 {
			continue
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(op, &m); err != nil {
			return nil, errors.Wrap(err, "merge operand is not a JSON object")
		}
		any = true
		for k, v := range m {
			merged[k] = v
		}
	}
	if !any {
		return nil, nil
	}
	return json.Marshal(merged)
}
