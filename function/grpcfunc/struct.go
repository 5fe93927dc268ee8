package grpcfunc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// marshalStruct converts a JSON-serializable value to a protocol buffers
// Struct.
//
// Struct represents all numbers as doubles, so integers beyond 2^53 lose
// precision in transit.
func marshalStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal %T: %w", v, err)
	}

	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("unable to marshal %T: %w", v, err)
	}

	return s, nil
}

// unmarshalStruct populates v from a protocol buffers Struct.
func unmarshalStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("unable to unmarshal %T: %w", v, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unable to unmarshal %T: %w", v, err)
	}

	return nil
}
