// Package framing reads and writes length-prefixed JSON-RPC frames
// (`Content-Length: <n>\r\n\r\n<body>`) over an arbitrary byte stream.
// It delegates the actual header/body framing to the same codec the teacher
// proxy wires its connections with — jsonrpc2.VSCodeObjectCodec, via
// jsonrpc2.NewBufferedStream — rather than re-parsing headers by hand.
package framing

import (
	"io"

	"github.com/venvmux/venvmux/internal/errs"

	"github.com/sourcegraph/jsonrpc2"
)

// Stream reads and writes rpcmsg.Message-shaped frames over an underlying
// io.ReadWriteCloser (a stdio pipe to the editor, or a child process's
// stdin/stdout pair).
type Stream struct {
	obj jsonrpc2.ObjectStream
}

// New wraps rwc in a Content-Length-framed JSON object stream.
func New(rwc io.ReadWriteCloser) *Stream {
	return &Stream{obj: jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})}
}

// ReadInto reads one frame and unmarshals its body into v. Every read
// failure surfaces as a *errs.Error of KindProtocolFraming: EOF is
// wrapped as "EOF while reading frame", and everything else (a missing or
// non-numeric Content-Length, a body that is not valid JSON, or an
// underlying I/O error) as "malformed frame". Read failures are not
// reported as KindTransport.
func (s *Stream) ReadInto(v interface{}) error {
	if err := s.obj.ReadObject(v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errs.Wrap(errs.KindProtocolFraming, err, "EOF while reading frame")
		}
		return errs.Wrap(errs.KindProtocolFraming, err, "malformed frame")
	}
	return nil
}

// Write serializes v as JSON and writes it as one Content-Length-framed
// message, flushing the underlying writer.
func (s *Stream) Write(v interface{}) error {
	if err := s.obj.WriteObject(v); err != nil {
		return errs.Wrap(errs.KindTransport, err, "writing frame")
	}
	return nil
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.obj.Close()
}

// RWC adapts two independent io.Reader/io.Writer halves (e.g. os.Stdin and
// os.Stdout, or a child's stdout/stdin pipes) into a single
// io.ReadWriteCloser so Stream can wrap them uniformly.
type RWC struct {
	io.Reader
	io.Writer
	Closer io.Closer
}

func (c RWC) Close() error {
	if c.Closer != nil {
		return c.Closer.Close()
	}
	return nil
}
