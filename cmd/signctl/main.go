package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/varshagowdavg/signbridge/internal/bus"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/lattice"
	"github.com/varshagowdavg/signbridge/internal/playback"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

var version = "0.1.0-dev"

const usage = "expected 'validate', 'tokenize', 'correct', 'play' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "tokenize":
		err = runTokenize(os.Args[2:])
	case "correct":
		err = runCorrect(os.Args[2:])
	case "play":
		err = runPlay(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("file", "assets/vocabulary.yaml", "Path to vocabulary manifest")
	fs.Parse(args)

	m, err := playback.LoadManifest(*path)
	if err != nil {
		return err
	}
	if problems := m.Validate(); len(problems) > 0 {
		return errors.Join(problems...)
	}
	fmt.Printf("manifest valid (%d words)\n", m.Len())
	return nil
}

func runTokenize(args []string) error {
	fs := flag.NewFlagSet("tokenize", flag.ExitOnError)
	path := fs.String("vocab", "", "Vocabulary manifest; without it every word is kept")
	fs.Parse(args)

	var vocab playback.Vocabulary
	if *path != "" {
		m, err := playback.LoadManifest(*path)
		if err != nil {
			return err
		}
		vocab = m
	}
	tokens := playback.NewTokenizer(vocab).Tokenize(strings.Join(fs.Args(), " "))
	fmt.Println(strings.Join(tokens, " "))
	return nil
}

func runCorrect(args []string) error {
	fs := flag.NewFlagSet("correct", flag.ExitOnError)
	dictPath := fs.String("dict", "", "Dictionary file; when empty the request goes to a running node")
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	fanOut := fs.Int("fan-out", lattice.DefaultFanOut, "Candidates expanded per position")
	fuzzy := fs.Float64("fuzzy", 0, "Jaro-Winkler fallback threshold, 0 disables")
	fs.Parse(args)

	l, err := parseLattice(strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}

	var resp protocol.CorrectionResponse
	if *dictPath != "" {
		dict, err := lattice.LoadDictionary(*dictPath)
		if err != nil {
			return err
		}
		res := lattice.New(dict, lattice.WithFanOut(*fanOut), lattice.WithFuzzyThreshold(*fuzzy)).Resolve(context.Background(), l)
		resp = protocol.CorrectionResponse{Word: res.Word, Score: res.Score, Raw: res.Raw, Method: res.Method}
	} else {
		client, err := dial(*server)
		if err != nil {
			return err
		}
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.RequestJSON(ctx, protocol.SubjectCorrectRequest, protocol.CorrectionRequest{Lattice: l}, &resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
	}
	return printJSON(os.Stdout, resp)
}

// parseLattice reads positions separated by spaces, each a comma separated
// list of symbol:probability pairs, e.g. "c:0.9,b:0.05 a:0.8 t:0.7".
func parseLattice(s string) (lattice.Lattice, error) {
	var l lattice.Lattice
	for _, position := range strings.Fields(s) {
		var ranked []protocol.Candidate
		for _, pair := range strings.Split(position, ",") {
			symbol, prob, ok := strings.Cut(pair, ":")
			if !ok || symbol == "" {
				return nil, fmt.Errorf("invalid candidate %q, want symbol:probability", pair)
			}
			p, err := strconv.ParseFloat(prob, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid probability in %q: %w", pair, err)
			}
			ranked = append(ranked, protocol.Candidate{Symbol: symbol, Probability: p})
		}
		l = append(l, ranked)
	}
	if len(l) == 0 {
		return nil, errors.New("lattice must have at least one position")
	}
	return l, nil
}

func runPlay(args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	session := fs.String("session", "signctl", "Session ID")
	frames := fs.Bool("frames", false, "Print every rendered frame")
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to play")
	}

	client, err := dial(*server)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan protocol.PlaybackStatus, 1)
	statusSub, err := client.Conn().Subscribe(protocol.SubjectPlaybackStatus, func(msg *nats.Msg) {
		var st protocol.PlaybackStatus
		if json.Unmarshal(msg.Data, &st) != nil || st.SessionID != *session {
			return
		}
		fmt.Printf("%-10s %2d %s %s\n", st.State, st.WordIndex, st.Word, st.Reason)
		if st.WordIndex < 0 {
			select {
			case done <- st:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer statusSub.Unsubscribe()

	if *frames {
		frameSub, err := client.Conn().Subscribe(protocol.SubjectPlaybackFrame, func(msg *nats.Msg) {
			var f protocol.PlaybackFrame
			if json.Unmarshal(msg.Data, &f) == nil && f.SessionID == *session {
				fmt.Printf("  frame %s[%d]\n", f.Word, f.FrameIndex)
			}
		})
		if err != nil {
			return err
		}
		defer frameSub.Unsubscribe()
	}
	if err := client.Conn().Flush(); err != nil {
		return err
	}

	if err := client.PublishJSON(protocol.SubjectPlaybackRequest, protocol.PlaybackRequest{SessionID: *session, Text: text}); err != nil {
		return err
	}

	select {
	case st := <-done:
		if st.State == protocol.PlaybackRejected {
			return fmt.Errorf("playback rejected: %s", st.Reason)
		}
		return nil
	case <-ctx.Done():
		_ = client.PublishJSON(protocol.SubjectPlaybackCancel, protocol.PlaybackCancel{SessionID: *session})
		_ = client.Conn().Flush()
		return ctx.Err()
	}
}

func dial(server string) (*bus.Client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return bus.Connect(ctx, config.BusConfig{Servers: []string{server}, ConnectTimeout: 2000}, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
