package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

// Classifier produces a classification for one gesture frame. A nil result
// with a nil error means nothing was detected.
type Classifier interface {
	Classify(ctx context.Context, frame protocol.GestureFrame) (*FrameClassification, error)
}

// NewClassifier builds the backend selected by cfg.Mode.
func NewClassifier(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Mode {
	case "", "passthrough":
		return passthroughClassifier{topK: cfg.TopK}, nil
	case "mock":
		return NewMockClassifier(), nil
	case "exec":
		return NewExecClassifier(cfg)
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}
}

// passthroughClassifier trusts the classification the edge device attached.
type passthroughClassifier struct {
	topK int
}

func (p passthroughClassifier) Classify(_ context.Context, frame protocol.GestureFrame) (*FrameClassification, error) {
	return fromProtocol(frame.Classification, frame.Timestamp, p.topK), nil
}

type mockClassifier struct{}

// NewMockClassifier labels frames by hand count: one hand is "A", two are "B".
// Frames that already carry a classification pass through unchanged.
func NewMockClassifier() Classifier {
	return mockClassifier{}
}

func (mockClassifier) Classify(_ context.Context, frame protocol.GestureFrame) (*FrameClassification, error) {
	if frame.Classification != nil {
		return fromProtocol(frame.Classification, frame.Timestamp, 0), nil
	}
	switch len(frame.Hands) {
	case 0:
		return nil, nil
	case 1:
		return &FrameClassification{Label: "A", Confidence: 1, Timestamp: frame.Timestamp}, nil
	default:
		return &FrameClassification{Label: "B", Confidence: 1, Timestamp: frame.Timestamp}, nil
	}
}

type execClassifier struct {
	cmd     []string
	timeout time.Duration
	topK    int
}

// NewExecClassifier runs an external model per frame. The frame is written to
// stdin as JSON and the command prints a protocol.Classification as JSON.
func NewExecClassifier(cfg config.ClassifierConfig) (Classifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	return &execClassifier{
		cmd:     args,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		topK:    cfg.TopK,
	}, nil
}

func (e *execClassifier) Classify(ctx context.Context, frame protocol.GestureFrame) (*FrameClassification, error) {
	if len(frame.Hands) == 0 {
		return nil, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	input, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	var stdout, stderr bytes.Buffer
	command.Stdin = bytes.NewReader(input)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("classifier command failed: %w: %s", err, stderr.String())
	}

	var resp protocol.Classification
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	return fromProtocol(&resp, frame.Timestamp, e.topK), nil
}

func fromProtocol(c *protocol.Classification, ts time.Time, topK int) *FrameClassification {
	if c == nil || c.Label == "" {
		return nil
	}
	candidates := append([]protocol.Candidate(nil), c.Candidates...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Probability > candidates[j].Probability
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	if len(candidates) == 0 {
		candidates = []protocol.Candidate{{Symbol: c.Label, Probability: c.Confidence}}
	}
	return &FrameClassification{
		Label:      c.Label,
		Confidence: c.Confidence,
		Timestamp:  ts,
		Candidates: candidates,
	}
}
