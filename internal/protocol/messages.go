package protocol

import "time"

// Landmark is a single normalized keypoint.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Candidate is one ranked alternative for a classified symbol.
type Candidate struct {
	Symbol      string  `json:"symbol"`
	Probability float64 `json:"probability"`
}

// Classification is the per-frame classifier output attached by edge devices
// or produced by a configured classifier backend.
type Classification struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// GestureFrame is one camera frame worth of hand landmarks streamed from an edge device.
type GestureFrame struct {
	SessionID      string          `json:"session_id"`
	Sequence       int             `json:"sequence"`
	Timestamp      time.Time       `json:"timestamp"`
	Hands          [][]Landmark    `json:"hands,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
}

const (
	CommandSpace          = "space"
	CommandClear          = "clear"
	CommandSwitchLanguage = "switch_language"
	CommandCancel         = "cancel"
)

// Command is an interactive control issued by the user interface.
type Command struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SymbolEvent announces a symbol that survived temporal stabilization.
type SymbolEvent struct {
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	EmittedAt time.Time `json:"emitted_at"`
}

// TextUpdate carries the current accumulated text of a recognition session.
type TextUpdate struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Translation string    `json:"translation,omitempty"`
	Cleared     bool      `json:"cleared,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// WordCommit is published once a spelled word is closed by a space or by inactivity.
type WordCommit struct {
	SessionID string    `json:"session_id"`
	Raw       string    `json:"raw"`
	Word      string    `json:"word"`
	Score     float64   `json:"score"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// CorrectionRequest asks for the best dictionary word over a candidate lattice.
// Lattice is indexed [position][rank].
type CorrectionRequest struct {
	Lattice [][]Candidate `json:"lattice"`
}

type CorrectionResponse struct {
	Word   string  `json:"word"`
	Score  float64 `json:"score"`
	Raw    string  `json:"raw"`
	Method string  `json:"method"`
	Error  string  `json:"error,omitempty"`
}

// PlaybackRequest asks the playback service to sign a sentence or an explicit word list.
type PlaybackRequest struct {
	SessionID string   `json:"session_id"`
	Text      string   `json:"text,omitempty"`
	Words     []string `json:"words,omitempty"`
}

type PlaybackCancel struct {
	SessionID string `json:"session_id"`
}

// Box is an axis-aligned bounding box in normalized coordinates.
type Box struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// SignFrame is one frame of a sign clip expressed as landmarks.
type SignFrame struct {
	Pose  []Landmark   `json:"pose,omitempty"`
	Hands [][]Landmark `json:"hands,omitempty"`
	Box   *Box         `json:"box,omitempty"`
	Word  string       `json:"word,omitempty"`
}

type PlaybackFrame struct {
	SessionID  string    `json:"session_id"`
	RunID      string    `json:"run_id"`
	Word       string    `json:"word"`
	WordIndex  int       `json:"word_index"`
	FrameIndex int       `json:"frame_index"`
	Frame      SignFrame `json:"frame"`
}

const (
	PlaybackStarted   = "started"
	PlaybackSkipped   = "skipped"
	PlaybackCompleted = "completed"
	PlaybackCancelled = "cancelled"
	PlaybackFinished  = "finished"
	PlaybackRejected  = "rejected"
)

type PlaybackStatus struct {
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id"`
	Word      string    `json:"word,omitempty"`
	WordIndex int       `json:"word_index"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectGestureFramePrefix   = "gesture.frame"
	SubjectGestureCommandPrefix = "gesture.command"
	SubjectGestureSymbol        = "gesture.symbol"
	SubjectGestureText          = "gesture.text"
	SubjectGestureWord          = "gesture.word"
	SubjectCorrectRequest       = "gesture.correct"
	SubjectPlaybackRequest      = "sign.playback.request"
	SubjectPlaybackCancel       = "sign.playback.cancel"
	SubjectPlaybackFrame        = "sign.playback.frame"
	SubjectPlaybackStatus       = "sign.playback.status"
	SubjectNodeAnnounce         = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix  = "ctrl.node.heartbeat"
)
