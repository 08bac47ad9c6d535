package inject

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"
)

// SourceMap is a version 3 source map. Columns are counted in bytes.
type SourceMap struct {
	Version        int      `json:"version" msgpack:"v"`
	File           string   `json:"file,omitempty" msgpack:"f,omitempty"`
	Sources        []string `json:"sources" msgpack:"s"`
	SourcesContent []string `json:"sourcesContent,omitempty" msgpack:"sc,omitempty"`
	Names          []string `json:"names" msgpack:"n"`
	Mappings       string   `json:"mappings" msgpack:"m"`
}

// JSON encodes the source map.
func (m *SourceMap) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// InlineComment returns a sourceMappingURL comment embedding the map as a data URL.
func (m *SourceMap) InlineComment() (string, error) {
	b, err := m.JSON()
	if err != nil {
		return "", err
	}
	return "//# sourceMappingURL=data:application/json;charset=utf-8;base64," +
		base64.StdEncoding.EncodeToString(b), nil
}

// URLComment returns a sourceMappingURL comment referencing a map file.
func URLComment(mapFile string) string {
	return "//# sourceMappingURL=" + filepath.Base(mapFile)
}

type segment struct {
	genLine, genCol int
	srcLine, srcCol int
}

func newSourceMap(f *File, segments []segment, sourcesContent bool) *SourceMap {
	source := f.Filename
	if source == "" {
		source = "input.js"
		if f.Dialect == DialectTypeScript || f.Dialect == DialectTSX {
			source = "input.ts"
		}
	}
	m := &SourceMap{
		Version:  3,
		Sources:  []string{filepath.ToSlash(source)},
		Names:    []string{},
		Mappings: encodeMappings(segments),
	}
	if f.Filename != "" {
		m.File = filepath.Base(f.Filename)
	}
	if sourcesContent {
		m.SourcesContent = []string{string(f.Source)}
	}
	return m
}

// encodeMappings encodes segments, which must be ordered by generated position, as base64 VLQ with a single source.
func encodeMappings(segments []segment) string {
	var sb strings.Builder
	var line, prevGenCol, prevSrcLine, prevSrcCol int
	first := true
	for _, s := range segments {
		for line < s.genLine {
			sb.WriteByte(';')
			line++
			prevGenCol = 0
			first = true
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		writeVLQ(&sb, s.genCol-prevGenCol)
		writeVLQ(&sb, 0) // source index
		writeVLQ(&sb, s.srcLine-prevSrcLine)
		writeVLQ(&sb, s.srcCol-prevSrcCol)
		prevGenCol, prevSrcLine, prevSrcCol = s.genCol, s.srcLine, s.srcCol
	}
	return sb.String()
}

const vlqAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func writeVLQ(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 0x1f
		u >>= 5
		if u > 0 {
			digit |= 0x20
		}
		sb.WriteByte(vlqAlphabet[digit])
		if u == 0 {
			return
		}
	}
}

// decodeVLQ decodes a single segment field list, returning nil on malformed input.
func decodeVLQ(s string) []int {
	var values []int
	var shift, value int
	for i := 0; i < len(s); i++ {
		digit := strings.IndexByte(vlqAlphabet, s[i])
		if digit < 0 {
			return nil
		}
		value += (digit & 0x1f) << shift
		if digit&0x20 != 0 {
			shift += 5
			continue
		}
		if value&1 == 1 {
			values = append(values, -(value >> 1))
		} else {
			values = append(values, value>>1)
		}
		shift, value = 0, 0
	}
	if shift != 0 {
		return nil
	}
	return values
}

// OriginalPosition resolves a 0-indexed generated line and column to the 0-indexed original position of the
// nearest preceding mapped token.
func (m *SourceMap) OriginalPosition(genLine, genCol int) (line, col int, ok bool) {
	var srcLine, srcCol int
	for i, lineMappings := range strings.Split(m.Mappings, ";") {
		genColAcc := 0
		for _, seg := range strings.Split(lineMappings, ",") {
			if seg == "" {
				continue
			}
			fields := decodeVLQ(seg)
			if len(fields) < 4 {
				return 0, 0, false
			}
			genColAcc += fields[0]
			srcLine += fields[2]
			srcCol += fields[3]
			if i == genLine && genColAcc <= genCol {
				line, col, ok = srcLine, srcCol, true
			}
		}
		if i >= genLine {
			break
		}
	}
	return line, col, ok
}
