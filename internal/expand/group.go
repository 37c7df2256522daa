package expand

import (
	"fmt"
	"os/user"
	"strconv"

	"packager/internal/errs"
)

// LookupGID resolves a group name, or a numeric id, to a gid. The empty
// name and "root" are gid 0.
func LookupGID(name string) (int, error) {
	if name == "" || name == "root" {
		return 0, nil
	}
	if id, err := strconv.Atoi(name); err == nil && id >= 0 {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, errs.New(errs.ErrConfig, "lookup group").Wrap(err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, errs.New(errs.ErrConfig, "lookup group").Wrap(fmt.Errorf("group %s has non-numeric gid %q", name, g.Gid))
	}
	return gid, nil
}
