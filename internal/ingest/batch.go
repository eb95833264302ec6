package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// bulkBatch accumulates NDJSON bulk operations up to the chunk size. One
// indexed document counts as one operation even though it spans two payload
// lines.
type bulkBatch struct {
	index   string
	limit   int
	buf     bytes.Buffer
	indexed int
	deleted int
}

func newBulkBatch(index string, limit int) *bulkBatch {
	return &bulkBatch{index: index, limit: limit}
}

func (b *bulkBatch) addIndex(id string, doc map[string]interface{}) {
	b.writeLine(map[string]interface{}{
		"index": map[string]interface{}{"_index": b.index, "_id": id},
	})
	b.writeLine(doc)
	b.indexed++
}

func (b *bulkBatch) addDelete(id string) {
	b.writeLine(map[string]interface{}{
		"delete": map[string]interface{}{"_index": b.index, "_id": id},
	})
	b.deleted++
}

func (b *bulkBatch) writeLine(line interface{}) {
	encoded, err := json.Marshal(line)
	if err != nil {
		// Only unmarshalable values (channels, funcs) can land here; sources
		// hand over plain JSON maps.
		panic(fmt.Sprintf("bulk line not serializable: %v", err))
	}
	b.buf.Write(encoded)
	b.buf.WriteByte('\n')
}

func (b *bulkBatch) size() int {
	return b.indexed + b.deleted
}

func (b *bulkBatch) full() bool {
	return b.size() >= b.limit
}

func (b *bulkBatch) empty() bool {
	return b.size() == 0
}

// take drains the batch, returning the NDJSON payload and the operation
// counts it held.
func (b *bulkBatch) take() ([]byte, int, int) {
	payload := make([]byte, b.buf.Len())
	copy(payload, b.buf.Bytes())
	indexed, deleted := b.indexed, b.deleted
	b.buf.Reset()
	b.indexed, b.deleted = 0, 0
	return payload, indexed, deleted
}
