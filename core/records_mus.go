package core

import (
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for persisted records. Each one exposes the
// Marshal/Unmarshal/Size/Skip quartet used by the mus-go serializers it
// is built from. Field order is the storage format; append new fields only.
var (
	PodMUS         = podMUS{}
	DataItemMUS    = dataItemMUS{}
	IndexingJobMUS = indexingJobMUS{}
	VectorChunkMUS = vectorChunkMUS{}
	PodIndexMUS    = podIndexMUS{}
	DeadLetterMUS  = deadLetterMUS{}
)

type musWriter struct {
	bs []byte
	n  int
}

func (w *musWriter) str(v string) { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) i64(v int64) { w.n += varint.Int64.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) u64(v uint64) { w.n += varint.Uint64.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) ts(v time.Time) { w.i64(unixMicro(v)) }

func (w *musWriter) vec(v []float32) {
	w.n += varint.Int.Marshal(len(v), w.bs[w.n:])
	for _, f := range v {
		w.n += varint.Uint32.Marshal(math.Float32bits(f), w.bs[w.n:])
	}
}

type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) str() (v string) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) i64() (v int64) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) u64() (v uint64) {
	if r.err != nil {
		return
	}
	var n int
	v, n, r.err = varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	return
}

func (r *musReader) ts() time.Time { return fromUnixMicro(r.i64()) }

func (r *musReader) vec() []float32 {
	if r.err != nil {
		return nil
	}
	length, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	if err != nil {
		r.err = err
		return nil
	}
	if length == 0 {
		return nil
	}
	// each element takes at least one byte
	if length < 0 || length > len(r.bs)-r.n {
		r.err = ErrCorruptRecord
		return nil
	}
	v := make([]float32, length)
	for i := range v {
		bits, n, err := varint.Uint32.Unmarshal(r.bs[r.n:])
		r.n += n
		if err != nil {
			r.err = err
			return nil
		}
		v[i] = math.Float32frombits(bits)
	}
	return v
}

func sizeString(v string) int { return ord.String.Size(v) }
func sizeTime(v time.Time) int { return varint.Int64.Size(unixMicro(v)) }
func sizeVector(v []float32) int {
	size := varint.Int.Size(len(v))
	for _, f := range v {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	return size
}

// Zero times are stored as 0 so they decode back to the zero value.
func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromUnixMicro(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

type podMUS struct{}

func (s podMUS) Marshal(v Pod, bs []byte) (n int) {
	w := musWriter{bs: bs}
	w.str(v.ID)
	w.str(v.Name)
	w.str(v.OwnerUserID)
	w.ts(v.CreatedAt)
	return w.n
}

func (s podMUS) Unmarshal(bs []byte) (v Pod, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.str()
	v.Name = r.str()
	v.OwnerUserID = r.str()
	v.CreatedAt = r.ts()
	return v, r.n, r.err
}

func (s podMUS) Size(v Pod) (size int) {
	return sizeString(v.ID) + sizeString(v.Name) + sizeString(v.OwnerUserID) + sizeTime(v.CreatedAt)
}

func (s podMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type dataItemMUS struct{}

func (s dataItemMUS) Marshal(v DataItem, bs []byte) (n int) {
	w := musWriter{bs: bs}
	w.str(v.ID)
	w.str(v.PodID)
	w.u64(v.Seq)
	w.str(v.Content)
	w.ts(v.CreatedAt)
	return w.n
}

func (s dataItemMUS) Unmarshal(bs []byte) (v DataItem, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.str()
	v.PodID = r.str()
	v.Seq = r.u64()
	v.Content = r.str()
	v.CreatedAt = r.ts()
	return v, r.n, r.err
}

func (s dataItemMUS) Size(v DataItem) (size int) {
	return sizeString(v.ID) + sizeString(v.PodID) + varint.Uint64.Size(v.Seq) +
		sizeString(v.Content) + sizeTime(v.CreatedAt)
}

func (s dataItemMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type indexingJobMUS struct{}

func (s indexingJobMUS) Marshal(v IndexingJob, bs []byte) (n int) {
	w := musWriter{bs: bs}
	w.str(v.ID)
	w.str(v.PodID)
	w.i64(int64(v.Status))
	w.ts(v.CreatedAt)
	w.ts(v.StartedAt)
	w.ts(v.FinishedAt)
	w.str(v.ErrorMessage)
	return w.n
}

func (s indexingJobMUS) Unmarshal(bs []byte) (v IndexingJob, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.str()
	v.PodID = r.str()
	v.Status = JobStatus(r.i64())
	v.CreatedAt = r.ts()
	v.StartedAt = r.ts()
	v.FinishedAt = r.ts()
	v.ErrorMessage = r.str()
	return v, r.n, r.err
}

func (s indexingJobMUS) Size(v IndexingJob) (size int) {
	return sizeString(v.ID) + sizeString(v.PodID) + varint.Int64.Size(int64(v.Status)) +
		sizeTime(v.CreatedAt) + sizeTime(v.StartedAt) + sizeTime(v.FinishedAt) +
		sizeString(v.ErrorMessage)
}

func (s indexingJobMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type vectorChunkMUS struct{}

func (s vectorChunkMUS) Marshal(v VectorChunk, bs []byte) (n int) {
	w := musWriter{bs: bs}
	w.str(v.ID)
	w.str(v.PodID)
	w.str(v.ItemID)
	w.str(v.Content)
	w.vec(v.Vector)
	w.str(v.ModelVersion)
	w.ts(v.UpdatedAt)
	return w.n
}

func (s vectorChunkMUS) Unmarshal(bs []byte) (v VectorChunk, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.str()
	v.PodID = r.str()
	v.ItemID = r.str()
	v.Content = r.str()
	v.Vector = r.vec()
	v.ModelVersion = r.str()
	v.UpdatedAt = r.ts()
	return v, r.n, r.err
}

func (s vectorChunkMUS) Size(v VectorChunk) (size int) {
	return sizeString(v.ID) + sizeString(v.PodID) + sizeString(v.ItemID) +
		sizeString(v.Content) + sizeVector(v.Vector) + sizeString(v.ModelVersion) +
		sizeTime(v.UpdatedAt)
}

func (s vectorChunkMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type podIndexMUS struct{}

func (s podIndexMUS) Marshal(v PodIndex, bs []byte) (n int) {
	w := musWriter{bs: bs}
	w.str(v.PodID)
	w.str(v.CombinedText)
	w.ts(v.CreatedAt)
	return w.n
}

func (s podIndexMUS) Unmarshal(bs []byte) (v PodIndex, n int, err error) {
	r := musReader{bs: bs}
	v.PodID = r.str()
	v.CombinedText = r.str()
	v.CreatedAt = r.ts()
	return v, r.n, r.err
}

func (s podIndexMUS) Size(v PodIndex) (size int) {
	return sizeString(v.PodID) + sizeString(v.CombinedText) + sizeTime(v.CreatedAt)
}

func (s podIndexMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type deadLetterMUS struct{}

func (s deadLetterMUS) Marshal(v DeadLetter, bs []byte) (n int) {
	w := musWriter{bs: bs}
	w.str(v.ID)
	w.str(v.Topic)
	w.str(v.Key)
	w.str(v.Payload)
	w.str(v.Reason)
	w.ts(v.CreatedAt)
	return w.n
}

func (s deadLetterMUS) Unmarshal(bs []byte) (v DeadLetter, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.str()
	v.Topic = r.str()
	v.Key = r.str()
	v.Payload = r.str()
	v.Reason = r.str()
	v.CreatedAt = r.ts()
	return v, r.n, r.err
}

func (s deadLetterMUS) Size(v DeadLetter) (size int) {
	return sizeString(v.ID) + sizeString(v.Topic) + sizeString(v.Key) +
		sizeString(v.Payload) + sizeString(v.Reason) + sizeTime(v.CreatedAt)
}

func (s deadLetterMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}
