package input

import (
	"context"
	"sync"

	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// Input is a source of raw log lines
type Input interface {
	// Name returns the name of the input
	Name() string

	// Type returns the type of the input (file, stdin, tcp, udp)
	Type() string

	// Start begins reading lines
	Start() error

	// Stop stops the input and closes Lines
	Stop() error

	// Lines returns the channel of lines read. It is closed once the
	// input has stopped or run out of data.
	Lines() <-chan types.RawLine
}

// BaseInput provides common functionality for all inputs
type BaseInput struct {
	ctx       context.Context
	cancel    context.CancelFunc
	lineCh    chan types.RawLine
	name      string
	inputType string
	closeOnce sync.Once
}

// NewBaseInput creates a new BaseInput
func NewBaseInput(name, inputType string, bufferSize int) *BaseInput {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BaseInput{
		ctx:       ctx,
		cancel:    cancel,
		lineCh:    make(chan types.RawLine, bufferSize),
		name:      name,
		inputType: inputType,
	}
}

// Name returns the name of the input
func (b *BaseInput) Name() string {
	return b.name
}

// Type returns the type of the input
func (b *BaseInput) Type() string {
	return b.inputType
}

// Lines returns the channel of lines
func (b *BaseInput) Lines() <-chan types.RawLine {
	return b.lineCh
}

// Context is canceled when the input stops
func (b *BaseInput) Context() context.Context {
	return b.ctx
}

// Cancel cancels the context
func (b *BaseInput) Cancel() {
	b.cancel()
}

// SendLine queues a line, giving up once the input is canceled
func (b *BaseInput) SendLine(line types.RawLine) bool {
	if b.ctx.Err() != nil {
		return false
	}

	select {
	case b.lineCh <- line:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// Close closes the line channel. Senders must have returned.
func (b *BaseInput) Close() {
	b.closeOnce.Do(func() { close(b.lineCh) })
}
