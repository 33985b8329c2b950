package services

import "errors"

// Analysis errors
var (
	ErrAnalysisNotFound   = errors.New("analysis: not found")
	ErrEmptyUpload        = errors.New("analysis: uploaded file is empty")
	ErrUploadTooLarge     = errors.New("analysis: uploaded file exceeds size limit")
	ErrUnsupportedFormat  = errors.New("analysis: unsupported file format")
	ErrEmptyDataset       = errors.New("analysis: dataset has no rows")
	ErrInvalidCleanupDays = errors.New("cleanup: days must be at least 1")
)

// Storage errors
var (
	ErrUploadNotFound = errors.New("storage: upload not found")
)
