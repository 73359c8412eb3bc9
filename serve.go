package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"videoRAG/core"
	"videoRAG/server"
	"videoRAG/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	port, err := utils.ParsePort(cfg.Port)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(server.Options{
		Videos:         a.videos,
		Progress:       a.hub,
		Generator:      a.services.Generator,
		DataRoot:       cfg.DataRoot,
		MediaDir:       cfg.MediaDir(),
		ChatTopK:       cfg.ChatTopK,
		AllowedOrigins: server.SplitOrigins(cfg.AllowedOrigins),
		Health: map[string]core.HealthProbe{
			"ffmpeg":    core.CheckBinary(cfg.FFmpegPath),
			"ffprobe":   core.CheckBinary(cfg.FFprobePath),
			"data_root": core.CheckWritableDir(cfg.DataRoot),
			"store": core.CheckFunc(func(ctx context.Context) error {
				_, err := a.store.ListVideos(ctx)
				return err
			}),
		},
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on :%d", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Println("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Println("Server stopped cleanly")
	return nil
}
