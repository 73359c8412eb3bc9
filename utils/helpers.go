package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CopyFile copies src to dst, creating dst's directory and keeping the source mode.
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source file %s: %w", src, err)
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	destFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create target file %s: %w", dst, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("copy file contents: %w", err)
	}
	if err := destFile.Chmod(sourceInfo.Mode()); err != nil {
		return fmt.Errorf("set file mode: %w", err)
	}
	return nil
}

// RunCommand runs name with args and returns stdout. Stderr is folded into the error.
func RunCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out, fmt.Errorf("%s: %w", filepath.Base(name), err)
		}
		return out, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return out, nil
}

// RunFFmpeg resolves the ffmpeg binary and runs it with args.
func RunFFmpeg(ctx context.Context, bin string, args []string) error {
	if bin == "" {
		bin = "ffmpeg"
	}
	ffmpegPath, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("ffmpeg not found, set FFMPEG_PATH or add it to PATH: %w", err)
	}
	_, err = RunCommand(ctx, ffmpegPath, args...)
	return err
}

// SplitCommand splits a configured command line such as "python scripts/x.py" on whitespace.
func SplitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// ParsePort validates a TCP port string; empty means 8080.
func ParsePort(portStr string) (int, error) {
	if portStr == "" {
		return 8080, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range (1-65535): %d", port)
	}
	return port, nil
}

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
