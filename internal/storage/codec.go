package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"neuroswarm/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: cbor encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: cbor decoder initialization failed: " + err.Error())
	}
}

// EncodeCoordination serializes checkpoint coordination state with
// deterministic CBOR. Equal states always produce equal bytes.
func EncodeCoordination(state model.CoordinationState) ([]byte, error) {
	state.VersionedRecord = model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	return cborEnc.Marshal(state)
}

func DecodeCoordination(data []byte) (model.CoordinationState, error) {
	var state model.CoordinationState
	if err := cborDec.Unmarshal(data, &state); err != nil {
		return model.CoordinationState{}, fmt.Errorf("decode coordination: %w", err)
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return model.CoordinationState{}, err
	}
	return state, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func encodeLayers(layers []int) (string, error) {
	if layers == nil {
		layers = []int{}
	}
	data, err := json.Marshal(layers)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeLayers(raw string) ([]int, error) {
	var layers []int
	if err := json.Unmarshal([]byte(raw), &layers); err != nil {
		return nil, fmt.Errorf("decode layers: %w", err)
	}
	if len(layers) == 0 {
		return nil, nil
	}
	return layers, nil
}

// Empty and nil maps are both stored as "{}" and read back as nil.
func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

func encodeContext(context map[string]any) (string, error) {
	if len(context) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(context)
	if err != nil {
		return "", fmt.Errorf("encode metric context: %w", err)
	}
	return string(data), nil
}

func decodeContext(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var context map[string]any
	if err := json.Unmarshal([]byte(raw), &context); err != nil {
		return nil, fmt.Errorf("decode metric context: %w", err)
	}
	return context, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeIDs(raw string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode agent ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// Timestamps are stored as unix nanoseconds; zero maps to the zero time.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
