package localdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Ключи кодируются так, чтобы побайтовый порядок bolt совпадал с порядком значений:
// все числа меньше всех строк, числа по величине, строки лексикографически.
const (
	tagNumber byte = 0x10
	tagString byte = 0x20
)

var errNoKey = errors.New("missing key value")

func encodeKey(v any) ([]byte, error) {
	switch k := v.(type) {
	case nil:
		return nil, errNoKey
	case string:
		return encodeString(k), nil
	case json.Number:
		if i, err := k.Int64(); err == nil {
			return encodeNumber(float64(i)), nil
		}
		f, err := k.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad numeric key %q: %w", k, err)
		}
		return encodeNumber(f), nil
	case float64:
		return encodeNumber(k), nil
	case float32:
		return encodeNumber(float64(k)), nil
	case int:
		return encodeNumber(float64(k)), nil
	case int32:
		return encodeNumber(float64(k)), nil
	case int64:
		return encodeNumber(float64(k)), nil
	case uint64:
		return encodeNumber(float64(k)), nil
	case uint32:
		return encodeNumber(float64(k)), nil
	case bool:
		return nil, fmt.Errorf("unsupported key type %T", v)
	default:
		return nil, fmt.Errorf("unsupported key type %T", v)
	}
}

func encodeNumber(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 9)
	buf[0] = tagNumber
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf
}

// encodeString экранирует 0x00 как 0x00 0xFF и завершает строку 0x00 0x01
func encodeString(s string) []byte {
	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, tagString)
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0xFF)
			continue
		}
		buf = append(buf, s[i])
	}
	return append(buf, 0x00, 0x01)
}

func decodeKey(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, errNoKey
	}
	switch b[0] {
	case tagNumber:
		if len(b) != 9 {
			return nil, fmt.Errorf("bad numeric key length %d", len(b))
		}
		bits := binary.BigEndian.Uint64(b[1:])
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case tagString:
		var out bytes.Buffer
		for i := 1; i < len(b); i++ {
			if b[i] != 0x00 {
				out.WriteByte(b[i])
				continue
			}
			if i+1 >= len(b) {
				return nil, errors.New("truncated string key")
			}
			if b[i+1] == 0x01 {
				return out.String(), nil
			}
			out.WriteByte(0x00)
			i++
		}
		return nil, errors.New("unterminated string key")
	default:
		return nil, fmt.Errorf("unknown key tag %#x", b[0])
	}
}

// KeyString приводит ключ записи к строке для внешних идентификаторов
func KeyString(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func indexEntry(value, pk []byte) []byte {
	out := make([]byte, 0, len(value)+len(pk))
	out = append(out, value...)
	return append(out, pk...)
}
