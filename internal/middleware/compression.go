package middleware

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	CompressionLevel int      // Gzip compression level (1-9)
	ExcludedPaths    []string // Paths that must never be compressed
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		CompressionLevel: 6,
		ExcludedPaths:    []string{"/health", "/swagger"},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	return &CompressionMiddleware{
		config: config,
		stats:  NewCompressionStats(),
		pool: sync.Pool{
			New: func() interface{} {
				gz, _ := gzip.NewWriterLevel(io.Discard, config.CompressionLevel)
				return gz
			},
		},
	}
}

// Handler returns a Gin middleware function for response compression
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cm.clientAcceptsGzip(c) || cm.pathExcluded(c.Request.URL.Path) {
			c.Next()
			cm.stats.RecordRequest(int64(c.Writer.Size()), int64(c.Writer.Size()), false)
			return
		}

		gz := cm.pool.Get().(*gzip.Writer)
		defer cm.pool.Put(gz)

		gzw := &gzipResponseWriter{ResponseWriter: c.Writer, gzipWriter: gz}
		gz.Reset(gzw.ResponseWriter)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = gzw

		c.Next()

		gz.Close()
		cm.stats.RecordRequest(gzw.rawBytes, int64(gzw.Size()), true)
	}
}

func (cm *CompressionMiddleware) clientAcceptsGzip(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept-Encoding"), "gzip")
}

func (cm *CompressionMiddleware) pathExcluded(path string) bool {
	for _, excluded := range cm.config.ExcludedPaths {
		if strings.HasPrefix(path, excluded) {
			return true
		}
	}
	return false
}

// gzipResponseWriter funnels the response body through the gzip writer while
// counting uncompressed bytes for the stats.
type gzipResponseWriter struct {
	gin.ResponseWriter
	gzipWriter *gzip.Writer
	rawBytes   int64
}

func (gzw *gzipResponseWriter) Write(data []byte) (int, error) {
	gzw.rawBytes += int64(len(data))
	return gzw.gzipWriter.Write(data)
}

func (gzw *gzipResponseWriter) WriteString(s string) (int, error) {
	gzw.rawBytes += int64(len(s))
	return gzw.gzipWriter.Write([]byte(s))
}

// WriteHeader drops the Content-Length header: it describes the uncompressed
// body and would be wrong after compression.
func (gzw *gzipResponseWriter) WriteHeader(statusCode int) {
	gzw.Header().Del("Content-Length")
	gzw.ResponseWriter.WriteHeader(statusCode)
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(originalSize, compressedSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize

	if compressed {
		cs.CompressedRequests++
		cs.CompressedBytes += compressedSize
	}
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	compressionRatio := float64(0)
	if cs.TotalBytes > 0 {
		compressionRatio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   compressionRatio,
	}
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}
