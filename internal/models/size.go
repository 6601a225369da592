package models

import (
	"fmt"
	"math"
	"strconv"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders bytes with base-1024 units and at most two decimals.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := math.Round(float64(bytes)/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

// ReductionPercent is the share of originalSize saved by compressedSize.
// Negative values mean the output grew. ok is false when originalSize <= 0.
func ReductionPercent(originalSize, compressedSize int64) (pct float64, ok bool) {
	if originalSize <= 0 {
		return 0, false
	}
	return float64(originalSize-compressedSize) / float64(originalSize) * 100, true
}

// FormatReduction renders the size change as "-76.0%" (smaller) or
// "+12.5%" (larger), or "--" when there is nothing to compare against.
func FormatReduction(originalSize, compressedSize int64) string {
	pct, ok := ReductionPercent(originalSize, compressedSize)
	if !ok {
		return "--"
	}
	if pct > 0 {
		return fmt.Sprintf("-%.1f%%", pct)
	}
	return fmt.Sprintf("+%.1f%%", math.Abs(pct))
}
