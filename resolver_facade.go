package encryptedfs

import (
	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/resolver"
)

// resolverFacade binds internal/resolver to an inode.Manager and supplies
// the X_OK permission callback required on every navigateFrom step.
type resolverFacade struct {
	r   *resolver.Resolver
	mgr *inode.Manager
}

func newResolverFacade(mgr *inode.Manager) *resolverFacade {
	return &resolverFacade{r: resolver.New(mgr), mgr: mgr}
}

func (rf *resolverFacade) navigate(tx *kvstore.Txn, rootIno, curdirIno uint64, path string, resolveLastLink bool, uid, gid uint32) (resolver.Navigated, error) {
	checkX := func(tx *kvstore.Txn, dirIno uint64) error {
		st, err := rf.mgr.StatGet(tx, dirIno)
		if err != nil {
			return err
		}
		return checkAccess(st, uid, gid, accessX)
	}
	return rf.r.Navigate(tx, rootIno, curdirIno, path, resolveLastLink, checkX)
}
