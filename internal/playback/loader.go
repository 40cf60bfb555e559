package playback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

// FileLoader reads landmark clips stored as JSON lines or as a JSON array of
// frames.
type FileLoader struct{}

func (FileLoader) Load(ctx context.Context, asset Asset) ([]protocol.SignFrame, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeFrames(ctx, f)
}

// ExecLoader runs an external landmark extractor for each asset. The command
// receives "--asset <path>" and prints frames as JSON lines.
type ExecLoader struct {
	cmd     []string
	timeout time.Duration
}

func NewExecLoader(command string, timeout time.Duration) (*ExecLoader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse loader command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("loader command is empty")
	}
	return &ExecLoader{cmd: args, timeout: timeout}, nil
}

func (e *ExecLoader) Load(ctx context.Context, asset Asset) ([]protocol.SignFrame, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	args := append(append([]string(nil), e.cmd[1:]...), "--asset", asset.Path)
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("loader command failed: %w: %s", err, stderr.String())
	}
	return decodeFrames(ctx, &stdout)
}

// NewLoader builds the loader selected by cfg.Loader.
func NewLoader(cfg config.PlaybackConfig) (Loader, error) {
	switch cfg.Loader {
	case "", "file":
		return FileLoader{}, nil
	case "exec":
		return NewExecLoader(cfg.LoaderCommand, time.Duration(cfg.LoadTimeoutMS)*time.Millisecond)
	default:
		return nil, fmt.Errorf("unknown playback loader %q", cfg.Loader)
	}
}

func decodeFrames(ctx context.Context, r io.Reader) ([]protocol.SignFrame, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var frames []protocol.SignFrame
		if err := dec.Decode(&frames); err != nil {
			return nil, fmt.Errorf("decode frames: %w", err)
		}
		return frames, nil
	}

	var frames []protocol.SignFrame
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var f protocol.SignFrame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("decode frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
