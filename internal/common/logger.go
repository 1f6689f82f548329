package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

var (
	// Log is the app global logger. It writes text to stdout until InitLogger replaces it.
	Log = slog.New(slog.NewTextHandler(os.Stdout, nil))
)

// InitLogger initializes the app global logger.
// Without an exporter endpoint records only go to stdout.
func InitLogger(serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context) error, error) {

	stdoutHandler := slog.NewTextHandler(os.Stdout, nil)

	if exporterEndpoint == "" {
		Log = slog.New(stdoutHandler)
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(exporterEndpoint),
		otlploggrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to otlploggrpc.New: %w", err)
	}

	lp := log.NewLoggerProvider(
		log.WithProcessor(
			log.NewBatchProcessor(logExporter),
		),
		log.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.DeploymentEnvironmentNameKey.String(serviceEnvironment))),
	)

	var slogHandler slog.Handler = otelslog.NewHandler("github.com/ogero/stremio-addonhub",
		otelslog.WithLoggerProvider(lp))

	if serviceEnvironment == "lcl" || serviceEnvironment == "dk" {
		slogHandler = slogmulti.Fanout(
			slogHandler,
			stdoutHandler,
		)
	}

	Log = slog.New(slogHandler)

	return lp.Shutdown, nil
}
