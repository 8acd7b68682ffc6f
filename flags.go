package encryptedfs

import (
	"github.com/matrixai/go-encryptedfs/internal/fdtable"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// parseFlags converts the open() mode strings ("r", "rs", "r+", "rs+", "w",
// "wx", "w+", "wx+", "a", "ax", "a+", "ax+") into fdtable's bit set. "rs"/
// "rs+" are the synchronous-open aliases of "r"/"r+": this library has no
// separate O_SYNC behavior to offer (every write already commits with its
// enclosing KV transaction), so they map onto the same flags.
func parseFlags(s string) (int, error) {
	switch s {
	case "r", "rs":
		return fdtable.ORdonly, nil
	case "r+", "rs+":
		return fdtable.ORdwr, nil
	case "w":
		return fdtable.OWronly | fdtable.OCreat | fdtable.OTrunc, nil
	case "wx":
		return fdtable.OWronly | fdtable.OCreat | fdtable.OTrunc | fdtable.OExcl, nil
	case "w+":
		return fdtable.ORdwr | fdtable.OCreat | fdtable.OTrunc, nil
	case "wx+":
		return fdtable.ORdwr | fdtable.OCreat | fdtable.OTrunc | fdtable.OExcl, nil
	case "a":
		return fdtable.OWronly | fdtable.OCreat | fdtable.OAppend, nil
	case "ax":
		return fdtable.OWronly | fdtable.OCreat | fdtable.OAppend | fdtable.OExcl, nil
	case "a+":
		return fdtable.ORdwr | fdtable.OCreat | fdtable.OAppend, nil
	case "ax+":
		return fdtable.ORdwr | fdtable.OCreat | fdtable.OAppend | fdtable.OExcl, nil
	default:
		return 0, xerrors.New("open", s, xerrors.ErrInvalid)
	}
}
