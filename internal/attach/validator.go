// Package attach classifies and bounds files before they may enter a message.
package attach

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

// DefaultMaxSizeBytes bounds a single attachment (5 MiB).
const DefaultMaxSizeBytes int64 = 5 << 20

type RejectReason string

const (
	ReasonSizeExceeded    RejectReason = "size-exceeded"
	ReasonUnsupportedType RejectReason = "unsupported-type"
)

// File is a candidate attachment as handed over by the compose surface.
// DeclaredMIME is whatever the client/OS reported; it is not trusted on its own.
type File struct {
	Name         string
	DeclaredMIME string
	SizeBytes    int64
	Source       io.Reader
}

// Result is the outcome of validating a single file.
type Result struct {
	File     File
	Accepted bool
	Category model.AttachmentCategory
	Reason   RejectReason
	Preview  string // preview handle token, image category only
}

// Rejection names a file that did not pass validation.
type Rejection struct {
	Name   string
	Reason RejectReason
}

type Validator struct {
	maxSize  int64
	previews *PreviewRegistry
}

// NewValidator creates a validator. previews may be nil to skip preview handles.
func NewValidator(maxSize int64, previews *PreviewRegistry) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeBytes
	}
	return &Validator{maxSize: maxSize, previews: previews}
}

// Validate classifies one file. A file is accepted when either the declared
// MIME type or the file-name extension resolves to a known category; browsers
// and OSes report MIME inconsistently, so a mismatch between the two signals
// is tolerated. Size is checked first.
func (v *Validator) Validate(f File) Result {
	if f.SizeBytes > v.maxSize {
		return Result{File: f, Reason: ReasonSizeExceeded}
	}
	cat, ok := categoryByMIME(f.DeclaredMIME)
	if !ok {
		cat, ok = categoryByExt(f.Name)
	}
	if !ok {
		return Result{File: f, Reason: ReasonUnsupportedType}
	}
	res := Result{File: f, Accepted: true, Category: cat}
	if cat == model.CategoryImage && v.previews != nil {
		res.Preview = v.previews.Acquire(f.Name)
	}
	return res
}

// ValidateAll validates files independently: a rejected file never blocks the
// others. Returns the accepted subset and the rejected names with reasons.
func (v *Validator) ValidateAll(files []File) (accepted []Result, rejected []Rejection) {
	for _, f := range files {
		res := v.Validate(f)
		if res.Accepted {
			accepted = append(accepted, res)
		} else {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: res.Reason})
		}
	}
	return accepted, rejected
}

func categoryByMIME(mime string) (model.AttachmentCategory, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "":
		return "", false
	case strings.HasPrefix(mime, "image/"):
		return model.CategoryImage, true
	case strings.HasPrefix(mime, "video/"):
		return model.CategoryVideo, true
	case strings.HasPrefix(mime, "text/"):
		return model.CategoryDocument, true
	}
	switch mime {
	case "application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/rtf":
		return model.CategoryDocument, true
	}
	return "", false
}

func categoryByExt(name string) (model.AttachmentCategory, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".bmp", ".svg":
		return model.CategoryImage, true
	case ".mp4", ".mov", ".avi", ".webm", ".mkv":
		return model.CategoryVideo, true
	case ".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".csv", ".rtf":
		return model.CategoryDocument, true
	}
	return "", false
}
