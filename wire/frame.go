package wire

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the width of the little-endian int32 that opens
	// every frame and declares the total frame length, itself included.
	HeaderSize = 4
	// MinFrameSize is the size of the smallest valid document, {}.
	MinFrameSize = 5
	// DefaultMaxFrameSize bounds the response size accepted when the
	// caller does not pick a limit.
	DefaultMaxFrameSize = 48 * 1024 * 1024
)

var (
	// ErrTruncated reports a stream that ended before the declared
	// frame length was read.
	ErrTruncated = errors.New("truncated frame")
	// ErrInvalidSize reports a length prefix too small to describe a
	// document.
	ErrInvalidSize = errors.New("invalid frame size")
	// ErrTooLarge reports a length prefix above the configured limit.
	ErrTooLarge = errors.New("frame too large")
)

// ReadFrame reads one frame: the 4 byte length prefix, then exactly
// length-4 more bytes. The returned slice holds the whole frame,
// prefix included, ready to decode as a document. A reader that is
// already exhausted returns io.EOF; any other short read is
// ErrTruncated.
func ReadFrame(ctx context.Context, r io.Reader, maxSize int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	header := make([]byte, HeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case err == io.ErrUnexpectedEOF:
			return nil, errors.Wrapf(ErrTruncated, "read %d of %d header bytes", n, HeaderSize)
		default:
			return nil, errors.Wrap(err, "reading frame header")
		}
	}

	size := int(uint32(readInt32(header)))
	if size < MinFrameSize {
		return nil, errors.Wrapf(ErrInvalidSize, "frame declares %d bytes", size)
	}
	if size > maxSize {
		return nil, errors.Wrapf(ErrTooLarge, "frame declares %d bytes, limit is %d", size, maxSize)
	}

	frame := make([]byte, size)
	copy(frame, header)

	if n, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrTruncated, "read %d of %d body bytes", n, size-HeaderSize)
		}
		return nil, errors.Wrap(err, "reading frame body")
	}

	return frame, nil
}

// WriteFrame writes a complete frame and flushes buffered writers. The
// frame must already carry its own length prefix.
func WriteFrame(ctx context.Context, w io.Writer, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	size, err := FrameSize(frame)
	if err != nil {
		return err
	}
	if size != len(frame) {
		return errors.Wrapf(ErrInvalidSize, "frame declares %d bytes but holds %d", size, len(frame))
	}

	n, err := w.Write(frame)
	if err != nil {
		return errors.Wrap(err, "writing frame")
	}
	if n != len(frame) {
		return errors.Wrapf(io.ErrShortWrite, "wrote %d of %d bytes", n, len(frame))
	}

	if bw, ok := w.(*bufio.Writer); ok {
		return errors.Wrap(bw.Flush(), "flushing frame")
	}

	return nil
}

// FrameSize returns the length a frame declares in its prefix.
func FrameSize(frame []byte) (int, error) {
	if len(frame) < HeaderSize {
		return 0, errors.Wrapf(ErrTruncated, "frame of %d bytes has no header", len(frame))
	}

	size := int(uint32(readInt32(frame)))
	if size < MinFrameSize {
		return 0, errors.Wrapf(ErrInvalidSize, "frame declares %d bytes", size)
	}
	return size, nil
}
