package jsonrpc

import (
	"encoding/json"
	"errors"
)

// BatchRequest represents a JSON-RPC 2.0 batch request as per specs
type BatchRequest []*Request

// BatchResponse represents a JSON-RPC 2.0 batch response as per specs. Each
// element is either a *Response or an *Error, mirroring the mixed
// success/failure nature of a batch reply.
type BatchResponse []interface{}

// NewBatchResponseFromResponses builds a BatchResponse from Response values;
// a Response may itself carry an Error, and none are filtered out.
func NewBatchResponseFromResponses(responses []*Response) BatchResponse {
	br := make(BatchResponse, 0, len(responses))
	for _, r := range responses {
		br = append(br, r)
	}
	return br
}

// NewBatchResponseFromErrors builds a BatchResponse containing only errors.
func NewBatchResponseFromErrors(errs []*Error) BatchResponse {
	br := make(BatchResponse, 0, len(errs))
	for _, e := range errs {
		br = append(br, e)
	}
	return br
}

// NewBatchResponseMixed builds a BatchResponse combining responses and
// errors: all responses first, then all errors. The order in which the
// requests were dispatched is not preserved.
func NewBatchResponseMixed(responses []*Response, errs []*Error) BatchResponse {
	br := make(BatchResponse, 0, len(responses)+len(errs))
	for _, r := range responses {
		br = append(br, r)
	}
	for _, e := range errs {
		br = append(br, e)
	}
	return br
}

// UnmarshalJSON is a custom JSON unmarshaler for the BatchRequest type
func (b *BatchRequest) UnmarshalJSON(data []byte) error {
	// First check if it's an empty array which is not allowed as per the specs
	if string(data) == "[]" {
		return errors.New("invalid batch request: empty array")
	}

	// Try to unmarshal as an array
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return err
	}

	if len(elements) == 0 {
		return errors.New("invalid batch request: empty array")
	}

	// A batch may mix requests and notifications; a notification element is
	// kept as a Request with a nil Id.
	requests := make([]*Request, 0, len(elements))
	for _, element := range elements {
		request := &Request{}
		if err := json.Unmarshal(element, request); err != nil {
			notification := &Notification{}
			if json.Unmarshal(element, notification) != nil {
				return err
			}
			var params struct {
				Params json.RawMessage `json:"params"`
			}
			_ = json.Unmarshal(element, &params)
			request = &Request{Jsonrpc: notification.Jsonrpc, Method: notification.Method, Params: params.Params}
		}
		requests = append(requests, request)
	}

	*b = requests
	return nil
}
