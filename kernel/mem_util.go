package kernel

// Memset fills target with value. The filled prefix is doubled on every
// step, so a page takes 12 copy calls instead of 4096 stores.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	target[0] = value
	for filled := 1; filled < len(target); filled <<= 1 {
		copy(target[filled:], target[:filled])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst.
func Memcopy(src, dst []byte) {
	copy(dst, src)
}
