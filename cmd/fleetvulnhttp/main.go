package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/crgimenes/goconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetvuln/fleetvuln/libscan"
	"github.com/fleetvuln/fleetvuln/llm/azure"
)

// Config this struct is using the goconfig library for simple flag and env var
// parsing. See: https://github.com/crgimenes/goconfig
type Config struct {
	HTTPListenAddr string  `cfgDefault:"0.0.0.0:8082" cfg:"HTTP_LISTEN_ADDR"`
	DBPath         string  `cfgDefault:"fleetvuln.db" cfg:"DB_PATH" cfgHelper:"Path to the SQLite vulnerability database"`
	IndexPath      string  `cfg:"INDEX_PATH" cfgHelper:"Path to the labeled example index blob; empty disables retrieval"`
	EmbedderAddr   string  `cfg:"EMBEDDER_ADDR" cfgHelper:"Root URL of the embedding HTTP service"`
	LLMBackend     string  `cfg:"LLM_BACKEND" cfgHelper:"Label prediction backend: azure, llamaserver, or empty to disable"`
	AzureEndpoint  string  `cfg:"AZURE_ENDPOINT"`
	AzureAPIKey    string  `cfg:"AZURE_API_KEY"`
	AzureDeploy    string  `cfg:"AZURE_DEPLOYMENT"`
	LlamaAddr      string  `cfg:"LLAMA_ADDR" cfgHelper:"Root URL of a llama.cpp server"`
	LLMRate        float64 `cfgDefault:"2" cfg:"LLM_RATE" cfgHelper:"Inference calls per second; 0 disables the cap"`
	DropUnlabeled  bool    `cfgDefault:"false" cfg:"DROP_UNLABELED" cfgHelper:"Drop unlabeled records at the feature filter instead of flagging them"`
	LogLevel       string  `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warning, error, fatal, panic"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conf := Config{}
	if err := goconfig.Parse(&conf); err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}

	// setup pretty logging
	zerolog.SetGlobalLevel(logLevel(conf))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx = log.Logger.WithContext(ctx)

	lib, err := libscan.New(ctx, confToOpts(conf))
	if err != nil {
		log.Fatal().Msgf("failed to create libscan: %v", err)
	}
	defer lib.Close()

	mux := http.NewServeMux()
	mux.Handle("/", libscan.NewHandler(lib))
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Printf("starting http server on %v", conf.HTTPListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Msgf("failed to start http server: %v", err)
	}
}

func logLevel(conf Config) zerolog.Level {
	level := strings.ToLower(conf.LogLevel)
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

func confToOpts(conf Config) *libscan.Opts {
	opts := &libscan.Opts{
		DBPath:       conf.DBPath,
		IndexPath:    conf.IndexPath,
		EmbedderAddr: conf.EmbedderAddr,
		LLMBackend:   conf.LLMBackend,
		LlamaAddr:    conf.LlamaAddr,
		LLMRate:      conf.LLMRate,
		Azure: azure.Config{
			Endpoint:   conf.AzureEndpoint,
			APIKey:     conf.AzureAPIKey,
			Deployment: conf.AzureDeploy,
		},
	}
	opts.Scanner.DropUnlabeled = conf.DropUnlabeled
	return opts
}
