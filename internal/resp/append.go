package resp

import "strconv"

// Reply builders. Each appends one RESP frame to buf and returns it,
// so replies batch naturally into a per-connection output buffer.

func AppendSimpleString(buf []byte, s string) []byte {
	buf = append(buf, TypeSimpleString)
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

func AppendError(buf []byte, msg string) []byte {
	buf = append(buf, TypeError)
	buf = append(buf, msg...)
	return append(buf, '\r', '\n')
}

func AppendBulkString(buf []byte, s string) []byte {
	buf = append(buf, TypeBulkString)
	buf = appendInt(buf, int64(len(s)))
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

func AppendNullBulkString(buf []byte) []byte {
	return append(buf, TypeBulkString, '-', '1', '\r', '\n')
}

func AppendInt(buf []byte, n int64) []byte {
	buf = append(buf, TypeInt)
	buf = appendInt(buf, n)
	return append(buf, '\r', '\n')
}

func AppendArrayHeader(buf []byte, n int) []byte {
	buf = append(buf, TypeArray)
	buf = appendInt(buf, int64(n))
	return append(buf, '\r', '\n')
}

func appendInt(buf []byte, n int64) []byte {
	if n >= 0 && n < int64(len(intCache)) {
		return append(buf, intCache[n]...)
	}
	u := uint64(n)
	if n < 0 {
		buf = append(buf, '-')
		u = uint64(^n) + 1
	}
	var tmp [20]byte
	i := len(tmp)
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	return append(buf, tmp[i:]...)
}

// intCache holds the digits of small non-negative integers, which
// cover reply lengths and most counter values.
var intCache = func() [][]byte {
	const max = 1024
	cache := make([][]byte, max+1)
	for i := range cache {
		cache[i] = []byte(strconv.Itoa(i))
	}
	return cache
}()
