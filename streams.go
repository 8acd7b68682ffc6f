package encryptedfs

import (
	"io"
)

// ReadStream is an io.ReadCloser over an open file descriptor, advancing
// sequentially from the file's start.
type ReadStream struct {
	efs *EFS
	fd  int
}

// CreateReadStream opens path read-only and returns a streaming reader.
func (e *EFS) CreateReadStream(path string) (*ReadStream, error) {
	fd, err := e.Open(path, "r", 0)
	if err != nil {
		return nil, err
	}
	return &ReadStream{efs: e, fd: fd}, nil
}

func (s *ReadStream) Read(p []byte) (int, error) {
	n, err := s.efs.Read(s.fd, p, -1)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the stream's underlying descriptor.
func (s *ReadStream) Close() error {
	return s.efs.Close(s.fd)
}

// WriteStream is an io.WriteCloser over an open file descriptor, appending
// sequentially from the file's start (truncating any prior contents).
type WriteStream struct {
	efs *EFS
	fd  int
}

// CreateWriteStream opens (creating if necessary, truncating if present)
// path for sequential writing.
func (e *EFS) CreateWriteStream(path string, mode uint32) (*WriteStream, error) {
	fd, err := e.Open(path, "w", mode)
	if err != nil {
		return nil, err
	}
	return &WriteStream{efs: e, fd: fd}, nil
}

func (s *WriteStream) Write(p []byte) (int, error) {
	return s.efs.Write(s.fd, p, -1)
}

// Close releases the stream's underlying descriptor.
func (s *WriteStream) Close() error {
	return s.efs.Close(s.fd)
}
