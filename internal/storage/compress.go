package storage

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"neuroswarm/internal/model"
)

// Compression tags stored in neural_weights.compression_type.
const (
	CompressionNone   = "none"
	CompressionZstd   = "zstd"
	CompressionBG4LZ4 = "bg4_lz4"
)

var (
	ErrChecksumMismatch = errors.New("weight blob checksum mismatch")
	errIncompressible   = errors.New("data is incompressible")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// packedBlob is the on-disk form of a weight blob. A part whose stored
// length equals its raw size was kept uncompressed.
type packedBlob struct {
	weights     []byte
	biases      []byte
	weightsSize int
	biasesSize  int
	compression string
	checksum    string
}

// BlobChecksum is the hex BLAKE3 digest of weights followed by biases.
func BlobChecksum(weights, biases []byte) string {
	hasher := blake3.New()
	_, _ = hasher.Write(weights)
	_, _ = hasher.Write(biases)
	return hex.EncodeToString(hasher.Sum(nil))
}

// packBlob checksums the raw payload and compresses it. Float32 payloads
// try byte grouping with LZ4 first, then zstd, then stay raw.
func packBlob(blob model.WeightBlob) (packedBlob, error) {
	checksum := BlobChecksum(blob.Weights, blob.Biases)
	if blob.Checksum != "" && blob.Checksum != checksum {
		return packedBlob{}, fmt.Errorf("%w: layer %d", ErrChecksumMismatch, blob.LayerIndex)
	}

	packed := packedBlob{
		weights:     blob.Weights,
		biases:      blob.Biases,
		weightsSize: len(blob.Weights),
		biasesSize:  len(blob.Biases),
		compression: CompressionNone,
		checksum:    checksum,
	}
	for _, tag := range []string{CompressionBG4LZ4, CompressionZstd} {
		weights, err := compress(blob.Weights, tag)
		if err != nil {
			if errors.Is(err, errIncompressible) {
				continue
			}
			return packedBlob{}, err
		}
		packed.weights = weights
		packed.compression = tag
		if biases, err := compress(blob.Biases, tag); err == nil {
			packed.biases = biases
		} else if !errors.Is(err, errIncompressible) {
			return packedBlob{}, err
		}
		break
	}
	return packed, nil
}

// unpackBlob reverses packBlob and verifies the checksum.
func unpackBlob(agentID string, layer int, packed packedBlob) (model.WeightBlob, error) {
	weights, err := decompress(packed.weights, packed.compression, packed.weightsSize)
	if err != nil {
		return model.WeightBlob{}, fmt.Errorf("layer %d weights: %w", layer, err)
	}
	biases, err := decompress(packed.biases, packed.compression, packed.biasesSize)
	if err != nil {
		return model.WeightBlob{}, fmt.Errorf("layer %d biases: %w", layer, err)
	}
	if got := BlobChecksum(weights, biases); got != packed.checksum {
		return model.WeightBlob{}, fmt.Errorf("%w: agent %s layer %d", ErrChecksumMismatch, agentID, layer)
	}
	return model.WeightBlob{
		AgentID:     agentID,
		LayerIndex:  layer,
		Weights:     weights,
		Biases:      biases,
		Checksum:    packed.checksum,
		Compression: packed.compression,
	}, nil
}

func compress(data []byte, tag string) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionBG4LZ4:
		return compressLZ4(bg4Transpose(data))
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", tag)
	}
}

func decompress(data []byte, tag string, size int) ([]byte, error) {
	if len(data) == size {
		return append([]byte(nil), data...), nil
	}
	switch tag {
	case CompressionBG4LZ4:
		transposed := make([]byte, size)
		read, err := lz4.UncompressBlock(data, transposed)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return bg4Untranspose(transposed), nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("stored size %d does not match expected %d for %q", len(data), size, tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errIncompressible
	}
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

// bg4Transpose groups the bytes of consecutive float32 values by byte
// position. Trailing bytes past the last full group are kept in place.
func bg4Transpose(data []byte) []byte {
	groups := len(data) / 4
	output := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		output[i] = data[i*4]
		output[groups+i] = data[i*4+1]
		output[groups*2+i] = data[i*4+2]
		output[groups*3+i] = data[i*4+3]
	}
	copy(output[groups*4:], data[groups*4:])
	return output
}

func bg4Untranspose(data []byte) []byte {
	groups := len(data) / 4
	output := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		output[i*4] = data[i]
		output[i*4+1] = data[groups+i]
		output[i*4+2] = data[groups*2+i]
		output[i*4+3] = data[groups*3+i]
	}
	copy(output[groups*4:], data[groups*4:])
	return output
}
