package encryptedfs

import "io"

// CopyFile copies srcPath's contents to dstPath (created or truncated, with
// the given mode) by streaming through CreateReadStream/CreateWriteStream
// rather than shelling out to an external cp.
func (e *EFS) CopyFile(srcPath, dstPath string, mode uint32) error {
	src, err := e.CreateReadStream(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := e.CreateWriteStream(dstPath, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
