//go:build !unix

package file

import (
	"errors"
	"os"
)

type lockMode int

const (
	lockShared lockMode = iota
	lockExclusive
)

var errUnsupported = errors.New("file backend requires flock support")

func tryLock(*os.File, lockMode) (bool, error) {
	return false, errUnsupported
}

func unlock(*os.File) {}
