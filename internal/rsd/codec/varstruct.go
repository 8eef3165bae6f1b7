package codec

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Varstruct is the tag/length/value field scheme used for both the record
// header and the record body. Layout:
//
//	fieldCount varuint
//	repeated:  key varuint   (fieldNum = key>>3, lenCode = key&7)
//	           [length varuint when lenCode == 7]
//	           value bytes
//	crc32     uint32 LE      (over the span from struct start, CRC excluded)
//
// lenCode values 0..6 encode the value length directly; 7 means an explicit
// varuint length follows. The CRC span starts at the position handed to
// ParseVarstruct, so a leading record-header magic is covered when present.

// CRCPolicy selects how a stored-checksum mismatch is handled.
type CRCPolicy int

const (
	// CRCStrict fails the decode on mismatch.
	CRCStrict CRCPolicy = iota
	// CRCPermissive accepts the struct and reports the mismatch to the caller.
	CRCPermissive
)

func (p CRCPolicy) String() string {
	if p == CRCStrict {
		return "strict"
	}
	return "permissive"
}

// maxFieldCount rejects absurd field counts before walking garbage. Real
// records carry well under 50 fields.
const maxFieldCount = 50

// explicitLenCode marks a field whose length is carried as a varuint.
const explicitLenCode = 7

// Varstruct holds decoded fields keyed by field number plus the checksum
// verdict for the span.
type Varstruct struct {
	Fields      map[uint32][]byte
	CRCMismatch bool
	// End is the position of the first byte after the trailing CRC.
	End int
}

// ParseVarstruct decodes one varstruct from buf[pos:limit]. Under CRCStrict
// a stored-checksum mismatch returns ErrChecksum; under CRCPermissive the
// struct is returned with CRCMismatch set.
func ParseVarstruct(buf []byte, pos, limit int, policy CRCPolicy) (*Varstruct, error) {
	return parseVarstruct(buf, pos, pos, limit, policy)
}

// ParseVarstructPrefixed decodes a varstruct whose checksummed span starts
// before the field data. The record header is the one user: its CRC covers
// the 4-byte header magic sitting at crcStart while the field count begins
// at fieldStart.
func ParseVarstructPrefixed(buf []byte, crcStart, fieldStart, limit int, policy CRCPolicy) (*Varstruct, error) {
	return parseVarstruct(buf, crcStart, fieldStart, limit, policy)
}

func parseVarstruct(buf []byte, start, pos, limit int, policy CRCPolicy) (*Varstruct, error) {
	if limit > len(buf) {
		limit = len(buf)
	}
	if pos > limit {
		return nil, ErrTruncated
	}
	n, pos, err := ReadVarUint(buf[:limit], pos)
	if err != nil {
		return nil, fmt.Errorf("field count: %w", err)
	}
	if n > maxFieldCount {
		return nil, fmt.Errorf("field count %d: %w", n, ErrStructural)
	}

	fields := make(map[uint32][]byte, n)
	for i := uint32(0); i < n; i++ {
		var key uint32
		key, pos, err = ReadVarUint(buf[:limit], pos)
		if err != nil {
			return nil, fmt.Errorf("field %d key: %w", i, err)
		}
		fieldNum := key >> 3
		vlen := int(key & 7)
		if vlen == explicitLenCode {
			var l uint32
			l, pos, err = ReadVarUint(buf[:limit], pos)
			if err != nil {
				return nil, fmt.Errorf("field %d length: %w", fieldNum, err)
			}
			if int(l) > limit-pos {
				return nil, fmt.Errorf("field %d length %d exceeds span: %w", fieldNum, l, ErrTruncated)
			}
			vlen = int(l)
		}
		if pos+vlen > limit {
			return nil, fmt.Errorf("field %d value: %w", fieldNum, ErrTruncated)
		}
		fields[fieldNum] = buf[pos : pos+vlen : pos+vlen]
		pos += vlen
	}

	if pos+4 > limit {
		return nil, fmt.Errorf("trailing checksum: %w", ErrTruncated)
	}
	stored := binary.LittleEndian.Uint32(buf[pos:])
	computed := Checksum(buf[start:pos])
	pos += 4

	vs := &Varstruct{Fields: fields, End: pos}
	if stored != computed {
		if policy == CRCStrict {
			return nil, fmt.Errorf("stored 0x%08X computed 0x%08X: %w", stored, computed, ErrChecksum)
		}
		vs.CRCMismatch = true
	}
	return vs, nil
}

// AppendVarstruct encodes fields as a varstruct and appends it to dst,
// including the trailing CRC. crcFrom gives the offset within dst where the
// checksummed span starts; pass len(dst) unless a magic prefix already in
// dst must be covered. Fields are emitted in ascending field-number order so
// encoding is deterministic.
func AppendVarstruct(dst []byte, fields map[uint32][]byte, crcFrom int) []byte {
	nums := make([]uint32, 0, len(fields))
	for k := range fields {
		nums = append(nums, k)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	dst = AppendVarUint(dst, uint32(len(fields)))
	for _, num := range nums {
		v := fields[num]
		if len(v) < explicitLenCode {
			dst = AppendVarUint(dst, num<<3|uint32(len(v)))
		} else {
			dst = AppendVarUint(dst, num<<3|explicitLenCode)
			dst = AppendVarUint(dst, uint32(len(v)))
		}
		dst = append(dst, v...)
	}
	crc := Checksum(dst[crcFrom:])
	return binary.LittleEndian.AppendUint32(dst, crc)
}
