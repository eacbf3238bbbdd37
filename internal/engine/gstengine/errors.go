package gstengine

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for logs
type ErrorCategory int

const (
	// ErrCategorySource indicates the file could not be opened or read
	ErrCategorySource ErrorCategory = iota
	// ErrCategoryCodec indicates decode/format/negotiation failures
	ErrCategoryCodec
	// ErrCategoryResource indicates missing plugins or exhausted resources
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategorySource:
		return "source"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a bus error.
//
// Note: go-gst's GError does not expose Domain(), so classification relies on
// message heuristics.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(errMsg, debugStr string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debugStr)

	// Resource first: a missing decoder plugin also mentions "decode".
	if containsAny(combined, resourceKeywords) {
		return ErrCategoryResource
	}
	if containsAny(combined, codecKeywords) {
		return ErrCategoryCodec
	}
	if containsAny(combined, sourceKeywords) {
		return ErrCategorySource
	}
	return ErrCategoryUnknown
}

var (
	resourceKeywords = []string{
		"missing plugin",
		"no element",
		"no decoder available",
		"out of memory",
		"could not allocate",
		"insufficient",
	}

	codecKeywords = []string{
		"codec",
		"decode",
		"format",
		"negotiation",
		"not negotiated",
		"not-negotiated",
		"caps",
		"h264",
		"h265",
		"demux",
		"stream type",
	}

	sourceKeywords = []string{
		"no such file",
		"not found",
		"could not open",
		"permission denied",
		"resource not found",
		"read error",
		"end of file",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
