package objectkey

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Namespace prefixes every object key written by the gateway.
const Namespace = "contents/"

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for fileName
	GenerateKey(fileName string) string
}

// TimestampGenerator builds keys of the form contents/<unix-ms>_<file name>.
//
// Timestamps never repeat within one generator: when the clock has not moved
// past the last issued millisecond the previous value plus one is used.
// Generators in different processes can still collide on the same name.
type TimestampGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewTimestampGenerator returns a generator driven by the wall clock
func NewTimestampGenerator() *TimestampGenerator {
	return NewTimestampGeneratorWithClock(time.Now)
}

// NewTimestampGeneratorWithClock returns a generator driven by now
func NewTimestampGeneratorWithClock(now func() time.Time) *TimestampGenerator {
	return &TimestampGenerator{now: now}
}

func (g *TimestampGenerator) GenerateKey(fileName string) string {
	return fmt.Sprintf("%s%d_%s", Namespace, g.next(), sanitizeFilename(fileName))
}

func (g *TimestampGenerator) next() int64 {
	ms := g.now().UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return ms
}

// CustomFuncGenerator allows callers to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(fileName string) string
}

func NewCustomFuncGenerator(fn func(fileName string) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{GenerateFunc: fn}
}

func (g *CustomFuncGenerator) GenerateKey(fileName string) string {
	return g.GenerateFunc(fileName)
}

// FileKey strips the namespace from an object key.
func FileKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, Namespace)
}

// ObjectKey is the inverse of FileKey.
func ObjectKey(fileKey string) string {
	return Namespace + fileKey
}

// sanitizeFilename keeps the key a single path segment so it can be recovered
// from the end of a location URL. Everything else in the name is kept as sent.
func sanitizeFilename(filename string) string {
	return strings.ReplaceAll(filename, "/", "_")
}
