package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"videoRAG/core"
	"videoRAG/processors"
	"videoRAG/progress"
	"videoRAG/utils"
)

var processTitle string

var processCmd = &cobra.Command{
	Use:   "process <video-file>",
	Short: "Ingest a video: transcribe, chunk, embed and index it",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

var searchCmd = &cobra.Command{
	Use:   "search <video-id> <query>",
	Short: "Search an indexed video and print the best matches",
	Args:  cobra.ExactArgs(2),
	RunE:  runSearch,
}

func init() {
	processCmd.Flags().StringVarP(&processTitle, "title", "t", "", "video title (default: file name)")
	rootCmd.AddCommand(processCmd, searchCmd)
}

// stagePrinter echoes progress to stderr and keeps feeding the hub so a
// configured relay still sees the events.
type stagePrinter struct{ hub *progress.Hub }

func (p stagePrinter) Publish(videoID string, ev core.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "[%3d%%] %-10s %s\n", ev.Percent, ev.Stage, ev.Message)
	p.hub.Publish(videoID, ev)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg, func(hub *progress.Hub) core.ProgressPublisher { return stagePrinter{hub: hub} })
	if err != nil {
		return err
	}
	defer a.close()

	// keep a copy under the data root so previews still work if the source moves
	src := args[0]
	ext := strings.ToLower(filepath.Ext(src))
	if !processors.AllowedExtensions[ext] {
		return core.NewInputError(core.ErrUnsupportedMedia, fmt.Sprintf("%q, allowed: .mp4, .mov, .webm", ext))
	}
	media := filepath.Join(cfg.MediaDir(), uuid.NewString()+ext)
	if err := utils.CopyFile(src, media); err != nil {
		return err
	}
	title := processTitle
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}

	video, err := a.videos.Submit(ctx, processors.SubmitRequest{Title: title, MediaPath: media})
	if err != nil {
		if video == nil {
			os.Remove(media)
		} else {
			fmt.Fprintf(os.Stderr, "video %s failed\n", video.ID)
		}
		return err
	}
	return printJSON(video)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	resp, err := a.videos.Search(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
