// Package resp reads and writes the RESP wire protocol. Two parse
// paths share one reply builder: ReadCommand consumes a bufio stream
// for the blocking server, ParseCommand walks an in-memory buffer for
// the event-loop server, and the Append functions build replies into
// caller-owned byte slices without intermediate allocations.
package resp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unsafe"
)

const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInt          = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

// Hard caps on hostile frames. Real commands stay far below both.
const (
	maxArrayLen = 1 << 17
	maxBulkLen  = 64 << 20
)

// ParseInt reads a decimal integer from the front of data, stopping
// at CR or LF.
func ParseInt(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty number")
	}
	neg := false
	if data[0] == '-' {
		neg = true
		data = data[1:]
		if len(data) == 0 {
			return 0, fmt.Errorf("no digits after minus")
		}
	}
	result := 0
	found := false
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == '\r' || b == '\n' {
			break
		}
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("invalid digit: %c", b)
		}
		found = true
		result = result*10 + int(b-'0')
		if result < 0 {
			return 0, fmt.Errorf("number too large")
		}
	}
	if !found {
		return 0, fmt.Errorf("no digits found")
	}
	if neg {
		return -result, nil
	}
	return result, nil
}

// ReadCommand reads one RESP array of bulk strings from r into *args.
// Argument bytes accumulate in *scratch and the returned strings
// alias it: they are valid only until the next ReadCommand with the
// same scratch. Callers keeping an argument past that must copy it.
func ReadCommand(r *bufio.Reader, args *[]string, scratch *[]byte) error {
	line, err := readLine(r)
	if err != nil {
		return err
	}
	if len(line) < 3 || line[0] != TypeArray {
		return fmt.Errorf("invalid RESP array header")
	}
	count, err := ParseInt(line[1:])
	if err != nil {
		return fmt.Errorf("invalid array count: %v", err)
	}
	if count < 0 || count > maxArrayLen {
		return fmt.Errorf("array count %d out of range", count)
	}

	if cap(*args) < count {
		*args = make([]string, count)
	}
	*args = (*args)[:count]
	*scratch = (*scratch)[:0]

	for i := 0; i < count; i++ {
		arg, err := readBulkString(r, scratch)
		if err != nil {
			return err
		}
		(*args)[i] = arg
	}
	return nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return r.ReadBytes('\n')
	}
	if err == io.EOF && len(line) > 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return line, err
}

func readBulkString(r *bufio.Reader, scratch *[]byte) (string, error) {
	line, err := readLine(r)
	if err != nil {
		return "", err
	}
	if len(line) < 3 || line[0] != TypeBulkString {
		return "", fmt.Errorf("invalid RESP bulk string header")
	}
	length, err := ParseInt(line[1:])
	if err != nil {
		return "", fmt.Errorf("invalid bulk string length: %v", err)
	}
	if length == -1 {
		return "", nil
	}
	if length < 0 || length > maxBulkLen {
		return "", fmt.Errorf("bulk string length %d out of range", length)
	}

	need := length + 2
	*scratch = grow(*scratch, need)
	start := len(*scratch)
	*scratch = (*scratch)[:start+need]
	data := (*scratch)[start:]

	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	if data[length] != '\r' || data[length+1] != '\n' {
		return "", fmt.Errorf("invalid bulk string terminator")
	}
	return bytesToString(data[:length]), nil
}

// ParseCommand walks one RESP array of bulk strings at the front of
// buf. It returns the number of bytes consumed and ok=true when a
// complete frame was present; (0, false, nil) asks for more bytes.
// Parsed strings alias buf and are valid only while buf is.
func ParseCommand(buf []byte, args *[]string) (n int, ok bool, err error) {
	if len(buf) == 0 {
		return 0, false, nil
	}
	if buf[0] != TypeArray {
		return 0, false, fmt.Errorf("invalid RESP array header")
	}
	lineEnd := bytes.IndexByte(buf, '\n')
	if lineEnd == -1 {
		return 0, false, nil
	}
	count, err := ParseInt(buf[1:lineEnd])
	if err != nil {
		return 0, false, err
	}
	if count < 0 || count > maxArrayLen {
		return 0, false, fmt.Errorf("array count %d out of range", count)
	}

	if cap(*args) < count {
		*args = make([]string, count)
	}
	*args = (*args)[:count]

	idx := lineEnd + 1
	for i := 0; i < count; i++ {
		if idx >= len(buf) {
			return 0, false, nil
		}
		if buf[idx] != TypeBulkString {
			return 0, false, fmt.Errorf("invalid RESP bulk string header")
		}
		rel := bytes.IndexByte(buf[idx:], '\n')
		if rel == -1 {
			return 0, false, nil
		}
		lineEnd = idx + rel
		length, err := ParseInt(buf[idx+1 : lineEnd])
		if err != nil {
			return 0, false, err
		}
		idx = lineEnd + 1
		if length == -1 {
			(*args)[i] = ""
			continue
		}
		if length < 0 || length > maxBulkLen {
			return 0, false, fmt.Errorf("bulk string length %d out of range", length)
		}
		if len(buf) < idx+length+2 {
			return 0, false, nil
		}
		if buf[idx+length] != '\r' || buf[idx+length+1] != '\n' {
			return 0, false, fmt.Errorf("invalid bulk string terminator")
		}
		(*args)[i] = bytesToString(buf[idx : idx+length])
		idx += length + 2
	}
	return idx, true, nil
}

func bytesToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

func grow(buf []byte, need int) []byte {
	if cap(buf)-len(buf) >= need {
		return buf
	}
	newCap := cap(buf) * 2
	if newCap < len(buf)+need {
		newCap = len(buf) + need
	}
	out := make([]byte, len(buf), newCap)
	copy(out, buf)
	return out
}
