// Command inferd serves transcription and embedding over gRPC so
// inference can run on a separate machine from capture. The backends it
// serves are the same in-process implementations scribed can run
// locally; point scribed's provider at "remote" to use this worker.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"meeting-scribe/internal/backend"
	"meeting-scribe/internal/backend/remote"
	"meeting-scribe/internal/observability/logging"
)

func main() {
	addr := flag.String("addr", ":50061", "Listen address")
	transcriberKind := flag.String("transcriber", "mock", "Transcription backend: mock, whisper, or google")
	whisperURL := flag.String("whisper-url", "http://localhost:9000", "Whisper server base URL")
	language := flag.String("language", "en-US", "Transcription language")
	embedderKind := flag.String("embedder", "filterbank", "Embedding backend: mock or filterbank")
	dim := flag.Int("dim", 192, "Embedding dimensionality")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "json"})

	var transcriber backend.Transcriber
	switch *transcriberKind {
	case "mock":
		transcriber = backend.NewMockTranscriber()
	case "whisper":
		transcriber = backend.NewWhisperTranscriber(*whisperURL, *language)
	case "google":
		g, err := backend.NewGoogleTranscriber(context.Background(), *language)
		if err != nil {
			log.Fatal().Err(err).Msg("google transcriber")
		}
		defer g.Close()
		transcriber = g
	default:
		log.Fatal().Str("transcriber", *transcriberKind).Msg("unknown transcription backend")
	}

	var embedder backend.Embedder
	switch *embedderKind {
	case "mock":
		embedder = backend.NewMockEmbedder(*dim)
	case "filterbank":
		embedder = backend.NewFilterbankEmbedder(*dim)
	default:
		log.Fatal().Str("embedder", *embedderKind).Msg("unknown embedding backend")
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("listen")
	}

	server := grpc.NewServer()

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(remote.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	remote.Register(server, transcriber, embedder)

	// Reflection for grpcurl and friends.
	reflection.Register(server)

	go func() {
		log.Info().Str("addr", *addr).
			Str("transcriber", transcriber.Name()).
			Str("embedder", embedder.Name()).
			Msg("inference worker started")
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("grpc serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down inference worker")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	server.GracefulStop()
}
