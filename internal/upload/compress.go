package upload

import (
	"bytes"
	"compress/gzip"
	"path"
	"strings"
)

// textLikeExtensions are the file types worth compressing. Media and archive
// formats are already compressed and only waste CPU here.
var textLikeExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".json": true,
	".csv":  true,
	".xml":  true,
	".html": true,
	".yaml": true,
	".yml":  true,
	".log":  true,
	".js":   true,
	".ts":   true,
	".css":  true,
	".svg":  true,
}

func isTextLike(filePath string) bool {
	return textLikeExtensions[strings.ToLower(path.Ext(filePath))]
}

// compressChunk gzips data and reports whether the result should be used:
// only when the achieved reduction meets minGain (a fraction, e.g. 0.10 for
// ten percent). On any failure the original bytes are returned unchanged.
func compressChunk(data []byte, minGain float64) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}

	compressed := buf.Bytes()
	gain := 1 - float64(len(compressed))/float64(len(data))
	if gain < minGain {
		return data, false
	}
	return compressed, true
}
