package encryptedfs

import "io"

// ReadFile opens path read-only, reads its entire contents, and closes it.
func (e *EFS) ReadFile(path string) ([]byte, error) {
	src, err := e.CreateReadStream(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// WriteFile creates (or truncates) path with the given mode, writes data in
// full, and closes it.
func (e *EFS) WriteFile(path string, data []byte, mode uint32) error {
	dst, err := e.CreateWriteStream(path, mode)
	if err != nil {
		return err
	}
	if _, err := dst.Write(data); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// AppendFile opens (creating if necessary, with the given mode) path for
// appending, writes data, and closes it.
func (e *EFS) AppendFile(path string, data []byte, mode uint32) error {
	fd, err := e.Open(path, "a", mode)
	if err != nil {
		return err
	}
	if _, err := e.Write(fd, data, -1); err != nil {
		e.Close(fd)
		return err
	}
	return e.Close(fd)
}
