// Package telemetry bootstraps the OpenTelemetry providers the engine's spans and meters report to
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config selects exporters. Development mode swaps every OTLP exporter for stdout.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	EnableTracing bool
	UseOTLPTraces bool
	OTLPTracesURL string
	// SampleRatio is the share of root spans kept, 0 keeps all
	SampleRatio float64

	EnableMetrics  bool
	UsePrometheus  bool
	UseOTLPMetrics bool
	OTLPMetricsURL string

	EnableLogs  bool
	UseOTLPLogs bool
	OTLPLogsURL string

	// InsecureOTLP sends OTLP over plain http. Local setups only.
	InsecureOTLP       bool
	OTLPClientCertFile string
	OTLPClientKeyFile  string
	OTLPCACertFile     string

	DevelopmentMode bool
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stable-router",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		EnableTracing:  true,
		UseOTLPTraces:  true,
		OTLPTracesURL:  "http://localhost:4318/v1/traces",
		EnableMetrics:  true,
		UsePrometheus:  true,
		OTLPMetricsURL: "http://localhost:4318/v1/metrics",
		OTLPLogsURL:    "http://localhost:4318/v1/logs",
	}
}

// Enabled reports whether any provider would be installed
func (c *Config) Enabled() bool {
	return c != nil && (c.EnableTracing || c.EnableMetrics || c.EnableLogs)
}

// Setup installs the global providers. The returned shutdown flushes and stops all of them and
// is safe to call when Setup failed.
func Setup(ctx context.Context, cfg *Config) (func(context.Context) error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}
	abort := func(err error) (func(context.Context) error, error) {
		return shutdown, errors.Join(err, shutdown(ctx))
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.EnableTracing {
		tp, err := newTracerProvider(ctx, res, cfg)
		if err != nil {
			return abort(err)
		}
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}
	if cfg.EnableMetrics {
		mp, err := newMeterProvider(ctx, res, cfg)
		if err != nil {
			return abort(err)
		}
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}
	if cfg.EnableLogs {
		lp, err := newLoggerProvider(ctx, res, cfg)
		if err != nil {
			return abort(err)
		}
		shutdownFuncs = append(shutdownFuncs, lp.Shutdown)
		global.SetLoggerProvider(lp)
	}
	return shutdown, nil
}

// clientTLS returns nil when OTLP runs insecure or no custom material is configured
func clientTLS(cfg *Config) (*tls.Config, error) {
	if cfg.InsecureOTLP {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.OTLPCACertFile != "" {
		caCert, err := os.ReadFile(cfg.OTLPCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.OTLPClientCertFile != "" && cfg.OTLPClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.OTLPClientCertFile, cfg.OTLPClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg *Config) (*trace.TracerProvider, error) {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		opts = append(opts, trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRatio))))
	}

	var exporter trace.SpanExporter
	var err error
	switch {
	case cfg.DevelopmentMode:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case cfg.UseOTLPTraces:
		otlpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPTracesURL)}
		if cfg.InsecureOTLP {
			otlpOpts = append(otlpOpts, otlptracehttp.WithInsecure())
		} else if tlsConfig, tlsErr := clientTLS(cfg); tlsErr != nil {
			return nil, fmt.Errorf("failed to build TLS config for traces: %w", tlsErr)
		} else if tlsConfig != nil {
			otlpOpts = append(otlpOpts, otlptracehttp.WithTLSClientConfig(tlsConfig))
		}
		exporter, err = otlptracehttp.New(ctx, otlpOpts...)
	default:
		return trace.NewTracerProvider(opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts = append(opts, trace.WithBatcher(exporter, trace.WithBatchTimeout(5*time.Second)))
	return trace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg *Config) (*metric.MeterProvider, error) {
	opts := []metric.Option{metric.WithResource(res)}

	if cfg.UsePrometheus {
		// registers with the default prometheus registry served at /server/metrics
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(exporter))
	}

	if cfg.UseOTLPMetrics {
		if cfg.DevelopmentMode {
			exporter, err := stdoutmetric.New()
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(10*time.Second))))
		} else {
			otlpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(cfg.OTLPMetricsURL)}
			if cfg.InsecureOTLP {
				otlpOpts = append(otlpOpts, otlpmetrichttp.WithInsecure())
			} else if tlsConfig, err := clientTLS(cfg); err != nil {
				return nil, fmt.Errorf("failed to build TLS config for metrics: %w", err)
			} else if tlsConfig != nil {
				otlpOpts = append(otlpOpts, otlpmetrichttp.WithTLSClientConfig(tlsConfig))
			}
			exporter, err := otlpmetrichttp.New(ctx, otlpOpts...)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
			}
			opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(time.Minute))))
		}
	}
	return metric.NewMeterProvider(opts...), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, cfg *Config) (*log.LoggerProvider, error) {
	var exporter log.Exporter
	var err error
	switch {
	case cfg.DevelopmentMode:
		exporter, err = stdoutlog.New()
	case cfg.UseOTLPLogs:
		otlpOpts := []otlploghttp.Option{otlploghttp.WithEndpointURL(cfg.OTLPLogsURL)}
		if cfg.InsecureOTLP {
			otlpOpts = append(otlpOpts, otlploghttp.WithInsecure())
		} else if tlsConfig, tlsErr := clientTLS(cfg); tlsErr != nil {
			return nil, fmt.Errorf("failed to build TLS config for logs: %w", tlsErr)
		} else if tlsConfig != nil {
			otlpOpts = append(otlpOpts, otlploghttp.WithTLSClientConfig(tlsConfig))
		}
		exporter, err = otlploghttp.New(ctx, otlpOpts...)
	default:
		return log.NewLoggerProvider(log.WithResource(res)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	return log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(exporter)),
		log.WithResource(res),
	), nil
}
