// Copyright (c) Josh Fairhead. All rights reserved.
// Licensed under the MIT License. See License.txt in the project root for license information.

//go:build windows

package hub

import (
	"os"
	"path/filepath"
)

const useANSICodes = true

// symlinkOrRename links a downloaded blob into its snapshot location.
// Windows restricts symlink creation to elevated processes, so a hard
// link is tried first and a rename covers filesystems without links.
func symlinkOrRename(src, dst string) error {
	if info, err := os.Stat(dst); err == nil && info != nil {
		return nil
	}

	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}

	if err = os.Link(absSrc, absDst); err != nil && !os.IsExist(err) {
		return os.Rename(absSrc, absDst)
	}
	return nil
}
