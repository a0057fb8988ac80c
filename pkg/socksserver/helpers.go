package socksserver

import "io"

func readFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}
