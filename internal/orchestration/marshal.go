package orchestration

import "encoding/json"

// marshalOrNil marshals v to JSON, returning nil (not an empty slice) when v
// is itself nil so a Repository.UpdateTask/UpdateExecution call correctly
// distinguishes "no output" from "output is the JSON literal null".
func marshalOrNil(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
