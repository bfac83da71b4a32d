package database

import (
	"context"
	"errors"
)

var (
	postgresSessionWriter   func() SessionWriter
	postgresDetectionWriter func() DetectionWriter
	postgresInitialized     bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(sessions func() SessionWriter, detections func() DetectionWriter) {
	postgresSessionWriter = sessions
	postgresDetectionWriter = detections
	postgresInitialized = true
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetSessionWriter returns a SessionWriter from the PostgreSQL backend
func GetSessionWriter(ctx context.Context) (SessionWriter, error) {
	if !postgresInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresSessionWriter == nil {
		return nil, errors.New("PostgreSQL session writer not registered")
	}
	return postgresSessionWriter(), nil
}

// GetSessionReader returns a SessionReader from the PostgreSQL backend
func GetSessionReader(ctx context.Context) (SessionReader, error) {
	return GetSessionWriter(ctx)
}

// GetDetectionWriter returns a DetectionWriter from the PostgreSQL backend
func GetDetectionWriter(ctx context.Context) (DetectionWriter, error) {
	if !postgresInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresDetectionWriter == nil {
		return nil, errors.New("PostgreSQL detection writer not registered")
	}
	return postgresDetectionWriter(), nil
}

// GetDetectionReader returns a DetectionReader from the PostgreSQL backend
func GetDetectionReader(ctx context.Context) (DetectionReader, error) {
	return GetDetectionWriter(ctx)
}
