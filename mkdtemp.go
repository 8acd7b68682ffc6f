package encryptedfs

import (
	"strings"

	"github.com/google/uuid"
)

// Mkdtemp creates a new, uniquely-named directory under the directory named
// by dirPrefix and returns its full path. The unique suffix is a uuid, the
// same scheme gcsfuse's integration tests use to build collision-free
// per-run resource names (see tools/integration_tests/cloud_profiler).
func (e *EFS) Mkdtemp(dirPrefix string) (string, error) {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	path := dirPrefix
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	path += "tmp-" + suffix

	if err := e.Mkdir(path, MkdirOptions{Mode: 0o700}); err != nil {
		return "", err
	}
	return path, nil
}
