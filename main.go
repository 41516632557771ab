package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/docs" // swagger generated docs
	"github.com/termcast/termcast-api/src/api"
	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/handler/stream"
	"github.com/termcast/termcast-api/src/handler/term"
)

// @title           termcast API
// @version         0.1.0
// @description     Terminal session server: PTY sessions streamed over HTTP, SSE and WebSocket.

// @host      localhost:4020
// @BasePath  /
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found")
	}

	configureLogging()

	port := flag.Int("port", 4020, "Port to listen on")
	shortPort := flag.Int("p", 4020, "Port to listen on (shorthand)")
	controlDir := flag.String("control-dir", defaultControlDir(), "Directory holding session state")
	hqMode := flag.Bool("hq", false, "Run as an HQ aggregating registered remotes")
	hqURL := flag.String("hq-url", "", "HQ to register with on startup (remote mode)")
	instanceName := flag.String("name", hostnameOrDefault(), "Instance name reported to the HQ")
	publicURL := flag.String("public-url", "", "URL the HQ should use to reach this instance")
	token := flag.String("token", os.Getenv("TERMCAST_TOKEN"), "Bearer token shared with the HQ")
	disableRequestLogging := flag.Bool("no-request-log", false, "Disable per-request logging")
	enableTiming := flag.Bool("server-timing", false, "Add Server-Timing headers")
	flag.Parse()

	portValue := *port
	if *shortPort != 4020 {
		portValue = *shortPort
	}
	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", portValue)

	if *hqMode && *hqURL != "" {
		logrus.Fatal("--hq and --hq-url are mutually exclusive")
	}
	if *hqURL != "" && *publicURL == "" {
		logrus.Fatal("--hq-url requires --public-url so the HQ can reach this instance")
	}

	registry, err := session.NewManager(*controlDir)
	if err != nil {
		logrus.Fatalf("Failed to initialize session registry: %v", err)
	}
	watcher, err := stream.NewWatcher(registry)
	if err != nil {
		logrus.Fatalf("Failed to initialize stream watcher: %v", err)
	}
	buffers := term.NewManager(registry, watcher)

	var remotes *remote.Registry
	if *hqMode {
		remotes = remote.NewRegistry()
		logrus.Info("Running in HQ mode")
	}

	router := api.SetupRouter(api.Deps{
		Registry: registry,
		Watcher:  watcher,
		Buffers:  buffers,
		Remotes:  remotes,
	}, *disableRequestLogging, *enableTiming)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", portValue),
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Remote mode: announce ourselves to the HQ in the background so a
	// slow HQ never delays serving local sessions.
	if *hqURL != "" {
		go func() {
			err := remote.RegisterWithHQ(ctx, strings.TrimSuffix(*hqURL, "/"), remote.RegisterRequest{
				ID:    uuid.New().String(),
				Name:  *instanceName,
				URL:   *publicURL,
				Token: *token,
			})
			if err != nil && ctx.Err() == nil {
				logrus.Errorf("HQ registration abandoned: %v", err)
			}
		}()
	}

	go func() {
		logrus.Infof("Starting termcast API server on :%d (control dir %s)", portValue, *controlDir)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("Received %s, shutting down", sig)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	buffers.Close()
	watcher.Close()
	registry.Shutdown()
	if remotes != nil {
		remotes.Close()
	}
}

// configureLogging maps TERMCAST_LOG_LEVEL and TERMCAST_DEBUG onto logrus.
func configureLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := strings.ToLower(os.Getenv("TERMCAST_LOG_LEVEL"))
	switch level {
	case "silent":
		logrus.SetLevel(logrus.PanicLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "", "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "verbose":
		logrus.SetLevel(logrus.DebugLevel)
	case "debug":
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
		logrus.Warnf("Unknown TERMCAST_LOG_LEVEL %q, using info", level)
	}

	if debug := os.Getenv("TERMCAST_DEBUG"); debug == "true" || debug == "1" {
		logrus.SetLevel(logrus.TraceLevel)
	}
}

func defaultControlDir() string {
	if dir := os.Getenv("TERMCAST_CONTROL_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termcast/control"
	}
	return filepath.Join(home, ".termcast", "control")
}

func hostnameOrDefault() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "termcast"
}
