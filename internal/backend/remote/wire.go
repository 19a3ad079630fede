// Package remote carries inference over gRPC to a network-resident
// worker (cmd/inferd). The service is described by a hand-written
// ServiceDesc and a registered JSON codec, so no generated code lives in
// this repository; local and remote backends stay interchangeable behind
// the capability interfaces in package backend.
package remote

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Fully qualified method names of the inference service.
const (
	ServiceName      = "scribe.inference.v1.Inference"
	MethodTranscribe = "/" + ServiceName + "/Transcribe"
	MethodEmbed      = "/" + ServiceName + "/Embed"
)

// TranscribeRequest carries one segment's audio to the worker.
type TranscribeRequest struct {
	SegmentID  uint64 `json:"segmentId"`
	DeviceID   string `json:"deviceId"`
	SampleRate int    `json:"sampleRate"`
	PCM        []byte `json:"pcm"` // little-endian 16-bit mono
	Language   string `json:"language,omitempty"`
}

// TranscribeResponse carries the worker's text back.
type TranscribeResponse struct {
	SegmentID  uint64  `json:"segmentId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// EmbedRequest carries one segment's audio to the worker.
type EmbedRequest struct {
	SegmentID  uint64 `json:"segmentId"`
	DeviceID   string `json:"deviceId"`
	SampleRate int    `json:"sampleRate"`
	PCM        []byte `json:"pcm"`
	Algorithm  string `json:"algorithm,omitempty"`
}

// EmbedResponse carries the voice embedding back.
type EmbedResponse struct {
	SegmentID uint64    `json:"segmentId"`
	Vector    []float32 `json:"vector"`
}

// CodecName is the content-subtype both sides of the connection use.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
