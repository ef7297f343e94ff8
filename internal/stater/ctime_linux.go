package stater

import (
	"syscall"
	"time"
)

func changeTime(st *syscall.Stat_t) (time.Time, bool) {
	return time.Unix(st.Ctim.Unix()), true
}
