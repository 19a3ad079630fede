package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meeting-scribe/internal/audio"
	"meeting-scribe/internal/backend"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
)

// Server exposes in-process inference engines to remote dispatchers.
// Either engine may be nil, in which case its method answers Unimplemented.
type Server struct {
	transcriber backend.Transcriber
	embedder    backend.Embedder
}

// Register attaches the inference service to g.
func Register(g *grpc.Server, transcriber backend.Transcriber, embedder backend.Embedder) {
	s := &Server{transcriber: transcriber, embedder: embedder}
	g.RegisterService(&serviceDesc, s)
}

// Transcribe handles one unary transcription call.
func (s *Server) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	if s.transcriber == nil {
		return nil, status.Error(codes.Unimplemented, "no transcription engine configured")
	}

	res, err := s.transcriber.Transcribe(ctx, segmentFromWire(req.SegmentID, req.DeviceID, req.SampleRate, req.PCM))
	if err != nil {
		lg := logging.WithSegment("inference-server", req.SegmentID)
		lg.Error().Err(err).Msg("Transcription failed")
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &TranscribeResponse{
		SegmentID:  res.SegmentID,
		Text:       res.Text,
		Confidence: res.Confidence,
	}, nil
}

// Embed handles one unary embedding call.
func (s *Server) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	if s.embedder == nil {
		return nil, status.Error(codes.Unimplemented, "no embedding engine configured")
	}

	ev, err := s.embedder.Embed(ctx, segmentFromWire(req.SegmentID, req.DeviceID, req.SampleRate, req.PCM))
	if err != nil {
		lg := logging.WithSegment("inference-server", req.SegmentID)
		lg.Error().Err(err).Msg("Embedding failed")
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &EmbedResponse{SegmentID: ev.SegmentID, Vector: ev.Vector}, nil
}

func segmentFromWire(id uint64, deviceID string, sampleRate int, pcm []byte) models.Segment {
	return models.Segment{
		ID:         id,
		DeviceID:   deviceID,
		SampleRate: sampleRate,
		Samples:    audio.DecodePCM(pcm),
	}
}

func transcribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TranscribeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Transcribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodTranscribe}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Transcribe(ctx, req.(*TranscribeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func embedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EmbedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Embed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodEmbed}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Embed(ctx, req.(*EmbedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transcribe", Handler: transcribeHandler},
		{MethodName: "Embed", Handler: embedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scribe/inference/v1",
}
