package persist

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/rid"
	"github.com/leftmike/lstore/table"
)

const (
	formatVersion = 1
)

// Field numbers; the values of each record are protobuf wire format fields.
const (
	metaVersion   protowire.Number = 1
	metaID        protowire.Number = 2
	metaNextBase  protowire.Number = 3
	metaNextTail  protowire.Number = 4
	metaPageSize  protowire.Number = 5
	metaBasePages protowire.Number = 6
	metaTable     protowire.Number = 7
	metaCompress  protowire.Number = 8

	tableName       protowire.Number = 1
	tableNumColumns protowire.Number = 2
	tableKey        protowire.Number = 3
	tableIndexed    protowire.Number = 4
	tablePageSize   protowire.Number = 5
	tableBasePages  protowire.Number = 6
	tableRange      protowire.Number = 7
	tableTombstone  protowire.Number = 8

	tombstoneKey protowire.Number = 1
	tombstoneRID protowire.Number = 2

	pageFirst  protowire.Number = 1
	pageCount  protowire.Number = 2
	pageColumn protowire.Number = 3

	columnData     protowire.Number = 1
	columnChecksum protowire.Number = 2
	columnXZ       protowire.Number = 3
)

type field struct {
	num protowire.Number
	v   uint64
	b   []byte
}

func parse(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %s", ErrFormat, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			return nil, fmt.Errorf("%w: field %d: unexpected wire type %d", ErrFormat, num, typ)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %s", ErrFormat, num, protowire.ParseError(n))
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

type meta struct {
	id        []byte
	nextBase  rid.RID
	nextTail  rid.RID
	layout    page.Layout
	tables    []string
	compress  bool
	versioned bool
}

func encodeMeta(m meta) []byte {
	b := appendVarint(nil, metaVersion, formatVersion)
	b = appendBytes(b, metaID, m.id)
	b = appendVarint(b, metaNextBase, uint64(m.nextBase))
	b = appendVarint(b, metaNextTail, uint64(m.nextTail))
	b = appendVarint(b, metaPageSize, uint64(m.layout.PageSize))
	b = appendVarint(b, metaBasePages, uint64(m.layout.BasePages))
	for _, tn := range m.tables {
		b = appendBytes(b, metaTable, []byte(tn))
	}
	return appendBool(b, metaCompress, m.compress)
}

func decodeMeta(buf []byte) (meta, error) {
	fields, err := parse(buf)
	if err != nil {
		return meta{}, err
	}

	var m meta
	for _, f := range fields {
		switch f.num {
		case metaVersion:
			if f.v != formatVersion {
				return meta{}, fmt.Errorf("%w: unsupported version %d", ErrFormat, f.v)
			}
			m.versioned = true
		case metaID:
			m.id = append([]byte(nil), f.b...)
		case metaNextBase:
			m.nextBase = rid.RID(f.v)
		case metaNextTail:
			m.nextTail = rid.RID(f.v)
		case metaPageSize:
			m.layout.PageSize = int(f.v)
		case metaBasePages:
			m.layout.BasePages = int(f.v)
		case metaTable:
			m.tables = append(m.tables, string(f.b))
		case metaCompress:
			m.compress = protowire.DecodeBool(f.v)
		}
	}
	if !m.versioned {
		return meta{}, fmt.Errorf("%w: missing version", ErrFormat)
	}
	return m, nil
}

func encodeTable(img *table.Image) []byte {
	b := appendBytes(nil, tableName, []byte(img.Name))
	b = appendVarint(b, tableNumColumns, uint64(img.NumColumns))
	b = appendVarint(b, tableKey, uint64(img.Key))
	for _, col := range img.Indexed {
		b = appendVarint(b, tableIndexed, uint64(col))
	}
	b = appendVarint(b, tablePageSize, uint64(img.Layout.PageSize))
	b = appendVarint(b, tableBasePages, uint64(img.Layout.BasePages))
	for _, pages := range img.Ranges {
		b = appendVarint(b, tableRange, uint64(len(pages)))
	}
	for _, key := range img.TombstoneKeys() {
		tb := appendVarint(nil, tombstoneKey, protowire.EncodeZigZag(key))
		tb = appendVarint(tb, tombstoneRID, uint64(img.Tombstones[key]))
		b = appendBytes(b, tableTombstone, tb)
	}
	return b
}

// decodeTable returns an image without pages and the number of pages in each range.
func decodeTable(buf []byte) (*table.Image, []int, error) {
	fields, err := parse(buf)
	if err != nil {
		return nil, nil, err
	}

	img := &table.Image{
		Indexed:    []int{},
		Tombstones: map[int64]rid.RID{},
	}
	var ranges []int
	for _, f := range fields {
		switch f.num {
		case tableName:
			img.Name = string(f.b)
		case tableNumColumns:
			img.NumColumns = int(f.v)
		case tableKey:
			img.Key = int(f.v)
		case tableIndexed:
			img.Indexed = append(img.Indexed, int(f.v))
		case tablePageSize:
			img.Layout.PageSize = int(f.v)
		case tableBasePages:
			img.Layout.BasePages = int(f.v)
		case tableRange:
			ranges = append(ranges, int(f.v))
		case tableTombstone:
			tfs, err := parse(f.b)
			if err != nil {
				return nil, nil, err
			}
			var key int64
			var r rid.RID
			for _, tf := range tfs {
				switch tf.num {
				case tombstoneKey:
					key = protowire.DecodeZigZag(tf.v)
				case tombstoneRID:
					r = rid.RID(tf.v)
				}
			}
			img.Tombstones[key] = r
		}
	}
	if img.Name == "" || img.NumColumns == 0 {
		return nil, nil, fmt.Errorf("%w: incomplete table record", ErrFormat)
	}
	return img, ranges, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}
	err = w.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: xz: %s", ErrFormat, err)
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: xz: %s", ErrFormat, err)
	}
	return data, nil
}

// encodePage writes the first lp.Len() values of every column; each column carries
// the blake3 sum of its uncompressed values.
func encodePage(lp *page.LogicalPage, xzColumns bool) ([]byte, error) {
	n := lp.Len()
	b := appendVarint(nil, pageFirst, uint64(lp.First()))
	b = appendVarint(b, pageCount, uint64(n))
	for col := 0; col < lp.NumColumns(); col += 1 {
		data := lp.Column(col).Bytes()[:n*page.ValueWidth]
		sum := blake3.Sum256(data)

		cb := appendBytes(nil, columnChecksum, sum[:])
		if xzColumns {
			var err error
			data, err = compress(data)
			if err != nil {
				return nil, err
			}
			cb = appendBool(cb, columnXZ, true)
		}
		cb = appendBytes(cb, columnData, data)
		b = appendBytes(b, pageColumn, cb)
	}
	return b, nil
}

func decodePage(buf []byte, capacity int) (*page.LogicalPage, error) {
	fields, err := parse(buf)
	if err != nil {
		return nil, err
	}

	var first rid.RID
	var count int
	var cols []*page.Page
	for _, f := range fields {
		switch f.num {
		case pageFirst:
			first = rid.RID(f.v)
		case pageCount:
			count = int(f.v)
		case pageColumn:
			p, err := decodeColumn(f.b, capacity)
			if err != nil {
				return nil, fmt.Errorf("page %s: column %d: %w", first, len(cols), err)
			}
			cols = append(cols, p)
		}
	}

	if first == rid.None {
		return nil, fmt.Errorf("%w: page without first RID", ErrFormat)
	}
	for col, p := range cols {
		if p.Len() != count {
			return nil, fmt.Errorf("%w: page %s: column %d has %d values; want %d", ErrFormat,
				first, col, p.Len(), count)
		}
	}
	lp, err := page.RestoreLogicalPage(first, cols)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFormat, err)
	}
	return lp, nil
}

func decodeColumn(buf []byte, capacity int) (*page.Page, error) {
	fields, err := parse(buf)
	if err != nil {
		return nil, err
	}

	var data, checksum []byte
	var xzData bool
	for _, f := range fields {
		switch f.num {
		case columnData:
			data = f.b
		case columnChecksum:
			checksum = f.b
		case columnXZ:
			xzData = protowire.DecodeBool(f.v)
		}
	}

	if xzData {
		data, err = decompress(data)
		if err != nil {
			return nil, err
		}
	}
	sum := blake3.Sum256(data)
	if !bytes.Equal(sum[:], checksum) {
		return nil, ErrChecksum
	}

	p, err := page.LoadPage(data, capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFormat, err)
	}
	return p, nil
}
