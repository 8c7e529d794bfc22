package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

// LedgerFile is the append-only system of record: one JSON-Lines file holding
// every money movement. Records are never edited or deleted, and the file
// stays readable by sequential scan tooling.
type LedgerFile struct {
	path   string
	logger *zap.Logger
}

// NewLedgerFile prepares the ledger's parent directory.
func NewLedgerFile(path string, logger *zap.Logger) (*LedgerFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), directoryFileMode); err != nil {
		return nil, fmt.Errorf("prepare ledger dir: %w", err)
	}
	return &LedgerFile{path: path, logger: logger}, nil
}

// Append durably writes one record before returning. Each append is a single
// O_APPEND write of one line, so concurrent appends interleave whole records;
// ordering between them is not required because balance derivation is a sum.
func (ledger *LedgerFile) Append(ctx context.Context, record funding.LedgerRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	file, err := os.OpenFile(ledger.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, documentFileMode)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Load scans the full ledger. An absent or unreadable file yields an empty
// ledger rather than an error so the donation path stays available; corrupt
// lines are skipped. Both conditions are logged for operator follow-up.
func (ledger *LedgerFile) Load(ctx context.Context) ([]funding.LedgerRecord, error) {
	file, err := os.Open(ledger.path)
	if err != nil {
		if !os.IsNotExist(err) {
			ledger.logger.Error("ledger unreadable, treating as empty", zap.String("path", ledger.path), zap.Error(err))
		}
		return nil, nil
	}
	defer func() { _ = file.Close() }()

	var records []funding.LedgerRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record funding.LedgerRecord
		if unmarshalErr := json.Unmarshal(line, &record); unmarshalErr != nil {
			ledger.logger.Error("corrupt ledger line skipped",
				zap.String("path", ledger.path),
				zap.Int("line", lineNumber),
				zap.Error(unmarshalErr))
			continue
		}
		records = append(records, record)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		ledger.logger.Error("ledger scan aborted", zap.String("path", ledger.path), zap.Error(scanErr))
	}
	return records, nil
}

func validateRecord(record funding.LedgerRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: missing id", funding.ErrInvalidRecord)
	}
	if _, err := funding.ParseRecordType(string(record.Type)); err != nil {
		return fmt.Errorf("%w: %v", funding.ErrInvalidRecord, err)
	}
	if record.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", funding.ErrInvalidRecord)
	}
	return nil
}
