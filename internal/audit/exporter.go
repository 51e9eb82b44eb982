package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// Exporter streams execution records to an external compliance consumer.
type Exporter interface {
	Export(rec ExecutionRecord) error
	Close() error
}

// NewExporter builds the configured exporter.
func NewExporter(cfg config.AuditConfig, logger *zap.Logger) (Exporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return NopExporter{}, nil
	case "jsonl":
		return NewJSONLExporter(cfg.Path)
	case "nats":
		return NewNATSExporter(cfg.URL, cfg.Subject, logger)
	default:
		return nil, fmt.Errorf("unknown audit exporter %q", cfg.Exporter)
	}
}

// NopExporter discards records.
type NopExporter struct{}

func (NopExporter) Export(ExecutionRecord) error { return nil }
func (NopExporter) Close() error                 { return nil }

// JSONLExporter appends records as JSON lines to a file.
type JSONLExporter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLExporter opens (or creates) the file in append-only mode.
func NewJSONLExporter(path string) (*JSONLExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl exporter requires a path")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return &JSONLExporter{file: f, enc: json.NewEncoder(f)}, nil
}

func (e *JSONLExporter) Export(rec ExecutionRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	return nil
}

func (e *JSONLExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}

// NATSExporter publishes records to a NATS subject.
type NATSExporter struct {
	conn    *nats.Conn
	subject string
}

// NewNATSExporter connects to the NATS server and publishes each record as
// a JSON message.
func NewNATSExporter(url, subject string, logger *zap.Logger) (*NATSExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if url == "" {
		return nil, fmt.Errorf("nats exporter requires a url")
	}
	if subject == "" {
		return nil, fmt.Errorf("nats exporter requires a subject")
	}

	conn, err := nats.Connect(url,
		nats.Name("remedyd-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("audit nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("audit nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSExporter{conn: conn, subject: subject}, nil
}

func (e *NATSExporter) Export(rec ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	if err := e.conn.Publish(e.subject, data); err != nil {
		return fmt.Errorf("publishing audit record: %w", err)
	}
	return nil
}

func (e *NATSExporter) Close() error {
	if err := e.conn.Drain(); err != nil {
		return err
	}
	return nil
}
