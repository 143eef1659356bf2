// Package chunk splits a file into checksummed byte ranges and streams those ranges back out.
package chunk

import "fmt"

// Chunk is one contiguous byte range of the source file. It owns no bytes.
type Chunk struct {
	// TagID correlates the uploaded part with the completion request.
	TagID string
	// Checksum is the base64 encoded MD5 of exactly this range.
	Checksum    string
	Index       int
	StartOffset int64
	Length      int64
	FilePath    string
}

// EndOffset returns the inclusive offset of the last byte in the chunk.
func (c Chunk) EndOffset() int64 {
	return c.StartOffset + c.Length - 1
}

// ContentRange formats the chunk as a Content-Range header value.
func (c Chunk) ContentRange(totalSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", c.StartOffset, c.EndOffset(), totalSize)
}

// ContentDigest formats the chunk checksum as a Content-Digest header value.
func (c Chunk) ContentDigest() string {
	return fmt.Sprintf("md5=:%s:", c.Checksum)
}

// Plan is the immutable result of splitting one file.
type Plan struct {
	FileName  string
	FilePath  string
	FileSize  int64
	ChunkSize int64
	// Checksum is the base64 encoded MD5 of the whole file.
	Checksum string
	// UploadID is a random identifier used for log correlation.
	UploadID string
	Chunks   []Chunk
}

// NumChunks ...
func (p *Plan) NumChunks() int {
	return len(p.Chunks)
}

// CountChunks returns ceil(fileSize / chunkSize).
func CountChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 || fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}
