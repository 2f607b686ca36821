package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/tickflow/log"
)

// DefaultChunkSize is the read size used when IngestionEngine.ChunkSize is zero.
const DefaultChunkSize = 512

// IngestionError classifies ingestion errors for outcome determination.
type IngestionError struct {
	// Kind indicates whether the source failed or the run was canceled.
	Kind IngestionErrorKind
	// Err is the underlying error.
	Err error
}

// IngestionErrorKind classifies ingestion errors.
type IngestionErrorKind int

const (
	// IngestionErrorSource indicates the byte source failed (runtime fault outcome).
	IngestionErrorSource IngestionErrorKind = iota
	// IngestionErrorCanceled indicates context cancellation before EOF.
	IngestionErrorCanceled
)

func (e *IngestionError) Error() string {
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IsSourceError returns true if the error is a source read failure.
func IsSourceError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorSource
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorCanceled
	}
	return false
}

// IngestionEngine moves raw protocol bytes from a source to the run loop.
//
// It never touches the network or the streamer: chunks are handed over a
// channel so that every engine call stays on the run loop goroutine.
type IngestionEngine struct {
	reader    io.Reader
	chunkSize int
	logger    *log.Logger
	bytes     int64
}

// NewIngestionEngine creates an ingestion engine reading r in chunks of
// chunkSize bytes (DefaultChunkSize if zero).
func NewIngestionEngine(r io.Reader, chunkSize int, logger *log.Logger) *IngestionEngine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &IngestionEngine{
		reader:    r,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Run reads until EOF, sending each chunk on out. Chunks are never reused,
// so the receiver may keep them. Run does not close out.
// Returns:
//   - nil: source ended cleanly (EOF)
//   - *IngestionError with Kind=IngestionErrorSource: read failure
//   - *IngestionError with Kind=IngestionErrorCanceled: context canceled
func (e *IngestionEngine) Run(ctx context.Context, out chan<- []byte) error {
	for {
		select {
		case <-ctx.Done():
			return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
		default:
		}

		buf := make([]byte, e.chunkSize)
		n, err := e.reader.Read(buf)
		if n > 0 {
			e.bytes += int64(n)
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.logger.Debug("graph source ended", map[string]any{"bytes": e.bytes})
				return nil
			}
			e.logger.Error("graph source read failed", map[string]any{
				"bytes": e.bytes,
				"error": err.Error(),
			})
			return &IngestionError{
				Kind: IngestionErrorSource,
				Err:  fmt.Errorf("source read error: %w", err),
			}
		}
	}
}

// Bytes returns the number of bytes read so far. Only meaningful after Run returns.
func (e *IngestionEngine) Bytes() int64 {
	return e.bytes
}
