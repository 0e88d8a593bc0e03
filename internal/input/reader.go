package input

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// MaxLineSize bounds a single line read from a stream
const MaxLineSize = 1024 * 1024

// ReaderInput reads newline delimited lines from a stream such as stdin
type ReaderInput struct {
	*BaseInput
	r      io.Reader
	logger *logging.Logger
	wg     sync.WaitGroup
}

// NewReaderInput creates an input over r
func NewReaderInput(name string, r io.Reader, logger *logging.Logger) *ReaderInput {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ReaderInput{
		BaseInput: NewBaseInput(name, "stdin", 0),
		r:         r,
		logger:    logger.WithComponent("input-" + name),
	}
}

// Start reads in the background until EOF or Stop
func (in *ReaderInput) Start() error {
	in.wg.Add(1)
	go in.readLoop()
	return nil
}

// Stop stops reading. A read blocked on the stream is abandoned.
func (in *ReaderInput) Stop() error {
	in.Cancel()
	return nil
}

func (in *ReaderInput) readLoop() {
	defer in.wg.Done()
	defer in.Close()

	scanner := bufio.NewScanner(in.r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)

	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		if !in.SendLine(types.RawLine{Text: text, Source: in.name}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		in.logger.Error().Err(err).Msg("Error reading input")
		return
	}
	in.logger.Info().Msg("Input exhausted")
}
