//go:build darwin || freebsd || netbsd

package stater

import (
	"syscall"
	"time"
)

func changeTime(st *syscall.Stat_t) (time.Time, bool) {
	return time.Unix(st.Ctimespec.Unix()), true
}
