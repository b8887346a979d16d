package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Serializers for persisted values. Timestamps are stored as Unix microseconds,
// with the zero time stored as 0.
var (
	RecordMUS            = recordMUS{}
	OutcomeMUS           = outcomeMUS{}
	OutcomesMUS          = outcomesMUS{}
	IdempotencyRecordMUS = idempotencyRecordMUS{}
)

type recordMUS struct{}

func (recordMUS) Marshal(v Record, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.Content, bs[n:])
	return
}

func (recordMUS) Unmarshal(bs []byte) (v Record, n int, err error) {
	v.Id, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Content, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	return
}

func (recordMUS) Size(v Record) (size int) {
	size = ord.String.Size(v.Id)
	return size + ord.String.Size(v.Content)
}

type outcomeMUS struct{}

func (outcomeMUS) Marshal(v Outcome, bs []byte) (n int) {
	n = RecordMUS.Marshal(v.Record, bs)
	n += marshalVector(v.Embedding, bs[n:])
	n += ord.Bool.Marshal(v.Degraded, bs[n:])
	return
}

func (outcomeMUS) Unmarshal(bs []byte) (v Outcome, n int, err error) {
	v.Record, n, err = RecordMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Embedding, n1, err = unmarshalVector(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Degraded, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	return
}

func (outcomeMUS) Size(v Outcome) (size int) {
	size = RecordMUS.Size(v.Record)
	size += vectorSize(v.Embedding)
	return size + ord.Bool.Size(v.Degraded)
}

type outcomesMUS struct{}

func (outcomesMUS) Marshal(v []Outcome, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, o := range v {
		n += OutcomeMUS.Marshal(o, bs[n:])
	}
	return
}

func (outcomesMUS) Unmarshal(bs []byte) (v []Outcome, n int, err error) {
	var length int
	length, n, err = varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 || length > len(bs)-n {
		err = ErrMalformedData
		return
	}
	v = make([]Outcome, length)
	var n1 int
	for i := range v {
		v[i], n1, err = OutcomeMUS.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (outcomesMUS) Size(v []Outcome) (size int) {
	size = varint.Int.Size(len(v))
	for _, o := range v {
		size += OutcomeMUS.Size(o)
	}
	return
}

type idempotencyRecordMUS struct{}

func (idempotencyRecordMUS) Marshal(v IdempotencyRecord, bs []byte) (n int) {
	n = ord.String.Marshal(v.Key, bs)
	n += ord.String.Marshal(v.Operation, bs[n:])
	n += varint.Int.Marshal(int(v.Status), bs[n:])
	n += ord.String.Marshal(v.Owner, bs[n:])
	n += ord.String.Marshal(string(v.Result), bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.StartedAt), bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.CompletedAt), bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.FailedAt), bs[n:])
	return
}

func (idempotencyRecordMUS) Unmarshal(bs []byte) (v IdempotencyRecord, n int, err error) {
	var (
		n1     int
		status int
		result string
		micros [3]int64
	)
	if v.Key, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if v.Operation, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if status, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	v.Status = RunStatus(status)
	if v.Owner, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if result, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if result != "" {
		v.Result = []byte(result)
	}
	if v.Error, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	for i := range micros {
		if micros[i], n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
	}
	v.StartedAt = microToTime(micros[0])
	v.CompletedAt = microToTime(micros[1])
	v.FailedAt = microToTime(micros[2])
	return
}

func (idempotencyRecordMUS) Size(v IdempotencyRecord) (size int) {
	size = ord.String.Size(v.Key)
	size += ord.String.Size(v.Operation)
	size += varint.Int.Size(int(v.Status))
	size += ord.String.Size(v.Owner)
	size += ord.String.Size(string(v.Result))
	size += ord.String.Size(v.Error)
	size += varint.Int64.Size(timeToMicro(v.StartedAt))
	size += varint.Int64.Size(timeToMicro(v.CompletedAt))
	return size + varint.Int64.Size(timeToMicro(v.FailedAt))
}

func marshalVector(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func unmarshalVector(bs []byte) (v []float32, n int, err error) {
	var length int
	length, n, err = varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 || length > len(bs)-n {
		err = ErrMalformedData
		return
	}
	v = make([]float32, length)
	var n1 int
	for i := range v {
		v[i], n1, err = raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func vectorSize(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return
}

func timeToMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microToTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
