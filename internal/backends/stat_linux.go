//go:build linux

package backends

import (
	"os"
	"syscall"
)

func timestampsOf(info os.FileInfo) Timestamps {
	ts := Timestamps{Mtime: info.ModTime().UnixNano()}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		ts.Ctime = int64(st.Ctim.Sec)*1e9 + int64(st.Ctim.Nsec)
		ts.Atime = int64(st.Atim.Sec)*1e9 + int64(st.Atim.Nsec)
	}

	return ts
}
