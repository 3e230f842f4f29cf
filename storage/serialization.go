// Copyright 2025 Noctiluca Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mus-format/mus-go/varint"
	"github.com/noctiluca/reverie/core"
)

// Record serialization in the MUS format. Every field is varint-encoded:
// signed ints are zigzag-mapped, floats are stored by their IEEE bits,
// strings and collections are length-prefixed, and timestamps are stored
// as Unix microseconds with 0 reserved for the zero time.

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return appendUint(nil, uint64(id))
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	r := newReader(data)
	id := core.ID(r.uint())
	return id, r.wrap("id")
}

// MarshalJob serializes an EmbeddingJob to bytes.
func MarshalJob(job *core.EmbeddingJob) []byte {
	bs := appendUint(nil, uint64(job.Id))
	bs = appendUint(bs, uint64(job.NarrativeId))
	bs = appendInt(bs, int64(job.Status))
	bs = appendInt(bs, int64(job.Priority))
	bs = appendInt(bs, int64(job.Attempts))
	bs = appendInt(bs, int64(job.MaxAttempts))
	bs = appendTime(bs, job.ScheduledAt)
	bs = appendTime(bs, job.StartedAt)
	bs = appendTime(bs, job.CompletedAt)
	bs = appendString(bs, job.LastError)
	return bs
}

// UnmarshalJob deserializes an EmbeddingJob from bytes.
func UnmarshalJob(data []byte) (*core.EmbeddingJob, error) {
	r := newReader(data)
	job := &core.EmbeddingJob{
		Id:          core.ID(r.uint()),
		NarrativeId: core.ID(r.uint()),
		Status:      core.JobStatus(r.int()),
		Priority:    int(r.int()),
		Attempts:    int(r.int()),
		MaxAttempts: int(r.int()),
		ScheduledAt: r.time(),
		StartedAt:   r.time(),
		CompletedAt: r.time(),
		LastError:   r.string(),
	}
	if err := r.wrap("embedding job"); err != nil {
		return nil, err
	}
	return job, nil
}

// MarshalNarrativeStatus serializes a NarrativeStatus to bytes.
func MarshalNarrativeStatus(status *core.NarrativeStatus) []byte {
	bs := appendUint(nil, uint64(status.NarrativeId))
	bs = appendInt(bs, int64(status.Status))
	bs = appendInt(bs, int64(status.Attempts))
	bs = appendString(bs, status.LastError)
	bs = appendTime(bs, status.ProcessedAt)
	return bs
}

// UnmarshalNarrativeStatus deserializes a NarrativeStatus from bytes.
func UnmarshalNarrativeStatus(data []byte) (*core.NarrativeStatus, error) {
	r := newReader(data)
	status := &core.NarrativeStatus{
		NarrativeId: core.ID(r.uint()),
		Status:      core.JobStatus(r.int()),
		Attempts:    int(r.int()),
		LastError:   r.string(),
		ProcessedAt: r.time(),
	}
	if err := r.wrap("narrative status"); err != nil {
		return nil, err
	}
	return status, nil
}

// MarshalChunk serializes an EmbeddingChunk to bytes.
func MarshalChunk(chunk *core.EmbeddingChunk) []byte {
	bs := appendUint(nil, uint64(chunk.NarrativeId))
	bs = appendInt(bs, int64(chunk.ChunkIndex))
	bs = appendString(bs, chunk.EmbeddingVersion)
	bs = appendVector(bs, chunk.Vector)
	bs = appendString(bs, chunk.SourceText)
	bs = appendInt(bs, int64(chunk.TokenCount))
	bs = appendInt(bs, chunk.ProcessingTimeMs)
	bs = appendTime(bs, chunk.InsertedAt)
	return bs
}

// UnmarshalChunk deserializes an EmbeddingChunk from bytes.
func UnmarshalChunk(data []byte) (*core.EmbeddingChunk, error) {
	r := newReader(data)
	chunk := &core.EmbeddingChunk{
		NarrativeId:      core.ID(r.uint()),
		ChunkIndex:       int(r.int()),
		EmbeddingVersion: r.string(),
		Vector:           r.vector(),
		SourceText:       r.string(),
		TokenCount:       int(r.int()),
		ProcessingTimeMs: r.int(),
		InsertedAt:       r.time(),
	}
	if err := r.wrap("embedding chunk"); err != nil {
		return nil, err
	}
	return chunk, nil
}

// MarshalTheme serializes a Theme to bytes.
func MarshalTheme(theme *core.Theme) []byte {
	bs := appendString(nil, theme.Code)
	bs = appendString(bs, theme.Label)
	bs = appendString(bs, theme.Description)
	bs = appendVector(bs, theme.Vector)
	bs = appendSparse(bs, theme.Sparse)
	bs = appendString(bs, theme.Version)
	bs = appendTime(bs, theme.InsertedAt)
	bs = appendTime(bs, theme.UpdatedAt)
	return bs
}

// UnmarshalTheme deserializes a Theme from bytes.
func UnmarshalTheme(data []byte) (*core.Theme, error) {
	r := newReader(data)
	theme := &core.Theme{
		Code:        r.string(),
		Label:       r.string(),
		Description: r.string(),
		Vector:      r.vector(),
		Sparse:      r.sparse(),
		Version:     r.string(),
		InsertedAt:  r.time(),
		UpdatedAt:   r.time(),
	}
	if err := r.wrap("theme"); err != nil {
		return nil, err
	}
	return theme, nil
}

// MarshalThemeLink serializes a ThemeLink to bytes.
func MarshalThemeLink(link *core.ThemeLink) []byte {
	bs := appendUint(nil, uint64(link.NarrativeId))
	bs = appendString(bs, link.ThemeCode)
	bs = appendFloat(bs, link.Similarity)
	bs = appendInt(bs, int64(link.ChunkIndex))
	bs = appendTime(bs, link.ExtractedAt)
	return bs
}

// UnmarshalThemeLink deserializes a ThemeLink from bytes.
func UnmarshalThemeLink(data []byte) (*core.ThemeLink, error) {
	r := newReader(data)
	link := &core.ThemeLink{
		NarrativeId: core.ID(r.uint()),
		ThemeCode:   r.string(),
		Similarity:  r.float(),
		ChunkIndex:  int(r.int()),
		ExtractedAt: r.time(),
	}
	if err := r.wrap("theme link"); err != nil {
		return nil, err
	}
	return link, nil
}

// MarshalFragment serializes a ReferenceFragment to bytes.
func MarshalFragment(fragment *core.ReferenceFragment) []byte {
	bs := appendUint(nil, uint64(fragment.Id))
	bs = appendString(bs, fragment.Text)
	bs = appendString(bs, fragment.Source)
	bs = appendString(bs, fragment.Chapter)
	bs = appendVector(bs, fragment.Vector)
	bs = appendSparse(bs, fragment.Sparse)
	bs = appendUint(bs, uint64(len(fragment.Tags)))
	for _, tag := range fragment.Tags {
		bs = appendString(bs, tag)
	}
	bs = appendTime(bs, fragment.InsertedAt)
	bs = appendTime(bs, fragment.UpdatedAt)
	return bs
}

// UnmarshalFragment deserializes a ReferenceFragment from bytes.
func UnmarshalFragment(data []byte) (*core.ReferenceFragment, error) {
	r := newReader(data)
	fragment := &core.ReferenceFragment{
		Id:      core.ID(r.uint()),
		Text:    r.string(),
		Source:  r.string(),
		Chapter: r.string(),
		Vector:  r.vector(),
		Sparse:  r.sparse(),
	}
	if n := r.uint(); n > 0 {
		tags := make([]string, 0, n)
		for i := uint64(0); i < n && r.ok(); i++ {
			tags = append(tags, r.string())
		}
		fragment.Tags = tags
	}
	fragment.InsertedAt = r.time()
	fragment.UpdatedAt = r.time()
	if err := r.wrap("reference fragment"); err != nil {
		return nil, err
	}
	return fragment, nil
}

// Encoding helpers

func appendUint(bs []byte, v uint64) []byte {
	off := len(bs)
	bs = append(bs, make([]byte, varint.Uint64.Size(v))...)
	varint.Uint64.Marshal(v, bs[off:])
	return bs
}

// appendInt zigzag-maps signed values so small negatives stay small.
func appendInt(bs []byte, v int64) []byte {
	return appendUint(bs, uint64((v<<1)^(v>>63)))
}

func appendFloat(bs []byte, v float32) []byte {
	return appendUint(bs, uint64(math.Float32bits(v)))
}

func appendString(bs []byte, s string) []byte {
	bs = appendUint(bs, uint64(len(s)))
	return append(bs, s...)
}

func appendVector(bs []byte, v []float32) []byte {
	bs = appendUint(bs, uint64(len(v)))
	for _, f := range v {
		bs = appendFloat(bs, f)
	}
	return bs
}

// appendSparse writes map entries in key order so encoding is deterministic.
func appendSparse(bs []byte, m map[string]float32) []byte {
	bs = appendUint(bs, uint64(len(m)))
	if len(m) == 0 {
		return bs
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bs = appendString(bs, k)
		bs = appendFloat(bs, m[k])
	}
	return bs
}

// appendTime stores Unix microseconds; the zero time is stored as 0.
func appendTime(bs []byte, t time.Time) []byte {
	if t.IsZero() {
		return appendUint(bs, 0)
	}
	return appendUint(bs, uint64(t.UnixMicro()))
}

// reader decodes fields sequentially, capturing the first error.
type reader struct {
	bs  []byte
	err error
}

func newReader(bs []byte) *reader {
	return &reader{bs: bs}
}

func (r *reader) ok() bool {
	return r.err == nil
}

func (r *reader) wrap(record string) error {
	if r.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, record, r.err)
}

func (r *reader) uint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs)
	if err != nil {
		r.err = err
		return 0
	}
	r.bs = r.bs[n:]
	return v
}

func (r *reader) int() int64 {
	u := r.uint()
	return int64(u>>1) ^ -int64(u&1)
}

func (r *reader) float() float32 {
	return math.Float32frombits(uint32(r.uint()))
}

func (r *reader) string() string {
	n := r.uint()
	if r.err != nil {
		return ""
	}
	if uint64(len(r.bs)) < n {
		r.err = ErrTruncatedData
		return ""
	}
	s := string(r.bs[:n])
	r.bs = r.bs[n:]
	return s
}

func (r *reader) vector() []float32 {
	n := r.uint()
	if r.err != nil || n == 0 {
		return nil
	}
	v := make([]float32, 0, n)
	for i := uint64(0); i < n && r.ok(); i++ {
		v = append(v, r.float())
	}
	return v
}

func (r *reader) sparse() map[string]float32 {
	n := r.uint()
	if r.err != nil || n == 0 {
		return nil
	}
	m := make(map[string]float32, n)
	for i := uint64(0); i < n && r.ok(); i++ {
		k := r.string()
		m[k] = r.float()
	}
	return m
}

func (r *reader) time() time.Time {
	u := r.uint()
	if r.err != nil || u == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(u)).UTC()
}
