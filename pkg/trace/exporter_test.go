//go:build tracing

package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileExporter_BasicExport(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	record := &RunRecord{
		Timestamp:  time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC),
		RunID:      "test-run-1",
		Operation:  "find_themes",
		DurationMs: 1234,
		Status:     "success",
		Spans: []SpanRecord{
			{Name: "generate", DurationMs: 800, OK: true},
			{Name: "reconcile", DurationMs: 300, OK: true},
			{Name: "classify", DurationMs: 100, OK: true},
		},
		Counters: map[string]int64{"responses": 10, "themes": 4},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Close to flush
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Read back and verify
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	var readRecord RunRecord
	if err := json.Unmarshal(data, &readRecord); err != nil {
		t.Fatalf("Unmarshal run record failed: %v", err)
	}

	if readRecord.RunID != "test-run-1" {
		t.Errorf("Expected runId 'test-run-1', got '%s'", readRecord.RunID)
	}
	if readRecord.Operation != "find_themes" {
		t.Errorf("Expected operation 'find_themes', got '%s'", readRecord.Operation)
	}
	if len(readRecord.Spans) != 3 {
		t.Errorf("Expected 3 spans, got %d", len(readRecord.Spans))
	}
	if readRecord.Counters["responses"] != 10 {
		t.Errorf("Expected 10 responses counter, got %d", readRecord.Counters["responses"])
	}
}

func TestFileExporter_MultipleRecords(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	for i := 1; i <= 3; i++ {
		record := &RunRecord{
			Timestamp:  time.Now(),
			RunID:      fmt.Sprintf("run-%d", i),
			Operation:  "find_themes",
			DurationMs: int64(i * 100),
			Status:     "success",
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}

	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Read all lines
	file, err := os.Open(tracePath)
	if err != nil {
		t.Fatalf("Open trace file failed: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineCount := 0
	for scanner.Scan() {
		lineCount++
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Errorf("Unmarshal line %d failed: %v", lineCount, err)
		}
	}

	if lineCount != 3 {
		t.Errorf("Expected 3 lines, got %d", lineCount)
	}
}

func TestFileExporter_Rotation(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	// Small max size so a handful of records triggers rotation
	exporter, err := NewFileExporter(tracePath, WithMaxSize(1024), WithMaxRotatedFiles(3))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	for i := 0; i < 10; i++ {
		record := &RunRecord{
			Timestamp:  time.Now(),
			RunID:      "run-" + strings.Repeat("x", 50), // Pad to increase size
			Operation:  "find_themes",
			DurationMs: 1000,
			Status:     "success",
			Spans: []SpanRecord{
				{Name: "generate", DurationMs: 100, OK: true},
				{Name: "reconcile", DurationMs: 200, OK: true},
			},
			Counters: map[string]int64{"responses": 10},
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}

	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	fileCount := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "runs.jsonl") {
			fileCount++
		}
	}

	// Should have at least 2 files (current + rotated)
	if fileCount < 2 {
		t.Errorf("Expected at least 2 trace files, got %d", fileCount)
	}

	// Should not exceed maxRotatedFiles + 1 (current)
	if fileCount > 4 {
		t.Errorf("Expected at most 4 trace files (current + 3 rotated), got %d", fileCount)
	}
}

func TestFileExporter_NoSensitiveData(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	record := &RunRecord{
		Timestamp:  time.Now(),
		RunID:      "test-run",
		Operation:  "find_themes",
		DurationMs: 1000,
		Status:     "success",
		Spans: []SpanRecord{
			{Name: "classify", DurationMs: 500, OK: true},
		},
		Counters: map[string]int64{"responses": 10, "themes": 3, "failures": 1},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	content := string(data)

	// Traces carry counts and timings only, never response text, theme
	// content or credentials.
	prohibitedFields := []string{"question", "label", "description", "mapping", "apiKey"}
	for _, field := range prohibitedFields {
		if strings.Contains(content, field) {
			t.Errorf("Trace contains prohibited field '%s': %s", field, content)
		}
	}

	allowedFields := []string{"runId", "operation", "durationMs", "status", "spans", "counters"}
	for _, field := range allowedFields {
		if !strings.Contains(content, field) {
			t.Errorf("Trace missing expected field '%s'", field)
		}
	}
}

func TestFileExporter_ErrorRecording(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	record := &RunRecord{
		Timestamp:  time.Now(),
		RunID:      "error-run",
		Operation:  "find_themes",
		DurationMs: 500,
		Status:     "error",
		ErrorType:  "outage",
		Spans: []SpanRecord{
			{Name: "generate", DurationMs: 500, OK: false, ErrorType: "outage"},
		},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	var readRecord RunRecord
	if err := json.Unmarshal(data, &readRecord); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if readRecord.Status != "error" {
		t.Errorf("Expected status 'error', got '%s'", readRecord.Status)
	}
	if readRecord.ErrorType != "outage" {
		t.Errorf("Expected errorType 'outage', got '%s'", readRecord.ErrorType)
	}
	if readRecord.Spans[0].OK {
		t.Error("Expected span OK=false")
	}
}

func TestFileExporter_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	// Close multiple times should not error
	if err := exporter.Close(); err != nil {
		t.Errorf("First Close failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestFileExporter_ExportAfterClose(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "runs.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	record := &RunRecord{Timestamp: time.Now(), RunID: "late-run", Operation: "find_themes", Status: "success"}
	if err := exporter.Export(context.Background(), record); err == nil {
		t.Error("Expected error exporting on a closed exporter")
	}
}

func TestFileExporter_DirectoryCreation(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "nested", "subdir", "runs.jsonl")

	// Should create nested directories automatically
	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	if _, err := os.Stat(filepath.Dir(tracePath)); os.IsNotExist(err) {
		t.Error("Expected nested directory to be created")
	}
}
