package api

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// IDField reads a positive integer id from req.
func IDField(req *structpb.Struct, field string) (int64, error) {
	if req == nil {
		return 0, fmt.Errorf("request is nil")
	}
	v, ok := req.GetFields()[field]
	if !ok {
		return 0, fmt.Errorf("%s is required", field)
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	f := num.NumberValue
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("%s must be a positive integer", field)
	}
	return int64(f), nil
}

// ToStruct converts any JSON-encodable value into a Struct.
func ToStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes s into out through its JSON form.
func FromStruct(s *structpb.Struct, out interface{}) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	return json.Unmarshal(data, out)
}
