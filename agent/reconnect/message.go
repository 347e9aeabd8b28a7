package reconnect

import (
	"encoding/json"
	"fmt"
)

type extendedInfo struct {
	MessageId   string   `json:"MessageId"`
	MessageArgs []string `json:"MessageArgs"`
}

type errorBody struct {
	Error *struct {
		ExtendedInfo []extendedInfo `json:"@Message.ExtendedInfo"`
	} `json:"error"`
}

// ParseErrorMessage extracts the first message id and its arguments from a
// controller error body. A body without an error object yields an empty id.
func ParseErrorMessage(body []byte) (string, []string, error) {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, fmt.Errorf("malformed controller error body: %w", err)
	}

	if parsed.Error == nil || len(parsed.Error.ExtendedInfo) == 0 {
		return "", nil, nil
	}

	info := parsed.Error.ExtendedInfo[0]
	return info.MessageId, info.MessageArgs, nil
}

// SpareNodeID returns the replacement node id the controller assigned when
// body rejects the current one as a spare part mismatch
func SpareNodeID(body []byte) (string, bool) {
	id, args, err := ParseErrorMessage(body)
	if err != nil || id != ResultSpareNodeWrong || len(args) == 0 || args[0] == "" {
		return "", false
	}
	return args[0], true
}
