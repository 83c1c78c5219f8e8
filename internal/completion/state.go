package completion

import "llamagen/internal/runtime"

// Phase is the position of a completion in its state machine.
type Phase int

const (
	Idle Phase = iota
	Prefilling
	Decoding
	Completed
	Truncated
	StoppedOnWord
	StoppedOnEOS
	Failed
)

var phaseNames = [...]string{"idle", "prefilling", "decoding", "completed", "truncated", "stopped_word", "stopped_eos", "failed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p >= Completed }

// State is the per-call generation state. It is a plain value owned by the
// Run call frame.
type State struct {
	Phase Phase

	NCtx       int
	NPredict   int
	NPast      int
	NDecoded   int
	NRemaining int

	Text      string
	NSentText int
	Tokens    []runtime.Token

	HasNextToken bool
	Truncated    bool
	StoppedEOS   bool
	StoppedWord  bool
	StoppedLimit bool
	StoppingWord string
	HasNewLine   bool
}

func newState(nctx, npredict int) State {
	return State{Phase: Idle, NCtx: nctx, NPredict: npredict, NRemaining: npredict, HasNextToken: true}
}

// push records a sampled token and its text.
func (s *State) push(tok runtime.Token, text string) {
	s.Text += text
	s.Tokens = append(s.Tokens, tok)
	s.NDecoded++
	s.NRemaining--
}

// unsent returns the text not yet streamed.
func (s *State) unsent() string { return s.Text[s.NSentText:] }

// finish moves the state to its terminal phase from the recorded flags.
func (s *State) finish() {
	switch {
	case s.StoppedWord:
		s.Phase = StoppedOnWord
	case s.StoppedEOS:
		s.Phase = StoppedOnEOS
	case s.Truncated:
		s.Phase = Truncated
	default:
		s.Phase = Completed
	}
}
