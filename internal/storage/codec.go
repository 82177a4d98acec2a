package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"immunosim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned returns the record header for the current schema and codec.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	return run, nil
}

func EncodeCrossings(records []model.CrossingRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeCrossings(data []byte) ([]model.CrossingRecord, error) {
	var records []model.CrossingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeAgentSummaries(summaries []model.AgentSummary) ([]byte, error) {
	return json.Marshal(summaries)
}

func DecodeAgentSummaries(data []byte) ([]model.AgentSummary, error) {
	var summaries []model.AgentSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, err
	}
	for _, summary := range summaries {
		if err := checkVersion(summary.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

func EncodeTickDiagnostics(diagnostics []model.TickDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeTickDiagnostics(data []byte) ([]model.TickDiagnostics, error) {
	var diagnostics []model.TickDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
