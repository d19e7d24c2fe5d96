package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"postforge/internal/config"
	"postforge/internal/services"
)

// ContentTypeJSON is attached to every JSON write.
const ContentTypeJSON = "application/json"

// Gateway is the storage contract used by the pipeline.
type Gateway interface {
	List(ctx context.Context, prefix string) ([]string, error)
	// ReadBytes returns the raw object body.
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	ReadJSON(ctx context.Context, key string) (Payload, error)
	WriteJSON(ctx context.Context, key string, payload Payload) error
	WriteBinary(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Backend is a Gateway that owns resources.
type Backend interface {
	Gateway
	io.Closer
}

// Open builds the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return OpenS3(ctx, cfg.Storage)
	case config.StorageSQLite:
		return OpenSQLite(cfg.Storage.SQLitePath)
	case config.StorageMemory:
		return NewMemory(), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "open",
			fmt.Sprintf("unsupported backend %q", cfg.Storage.Backend), nil)
	}
}

// DecodePayload parses stored bytes into a Payload. Bytes that are not valid
// UTF-8, not JSON, or not a JSON object are reported as corrupted.
func DecodePayload(key string, data []byte) (Payload, error) {
	if !utf8.Valid(data) {
		return nil, services.Wrap(services.ErrCorrupted, "objectstore", "decode", key+": invalid utf-8", nil)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, services.Wrap(services.ErrCorrupted, "objectstore", "decode", key+": invalid json", err)
	}
	if decoder.More() {
		return nil, services.Wrap(services.ErrCorrupted, "objectstore", "decode", key+": trailing data after json value", nil)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, services.Wrap(services.ErrCorrupted, "objectstore", "decode",
			fmt.Sprintf("%s: expected json object, got %T", key, value), nil)
	}
	return Payload(obj), nil
}

// EncodePayload renders a payload the way every backend stores it.
func EncodePayload(payload Payload) ([]byte, error) {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "objectstore", "encode", "payload is not serializable", err)
	}
	return data, nil
}

func notFound(key string) error {
	return services.Wrap(services.ErrNotFound, "objectstore", "read", key, nil)
}
